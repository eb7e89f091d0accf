package chunk

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/segvis/segid"
)

// Key addresses one chunk: a fragment of an object's geometry.
type Key struct {
	Object   segid.ID `json:"object"`
	Fragment uint32   `json:"fragment"`
}

// Name returns the blob name "object/fragment".
func (k Key) Name() string {
	return k.Object.String() + "/" + strconv.FormatUint(uint64(k.Fragment), 10)
}

func (k Key) String() string { return k.Name() }

// Compare orders keys by object, then fragment.
func (k Key) Compare(other Key) int {
	if c := k.Object.Compare(other.Object); c != 0 {
		return c
	}
	return cmp.Compare(k.Fragment, other.Fragment)
}

// ParseKey parses a blob name produced by Name.
func ParseKey(name string) (Key, error) {
	obj, frag, ok := strings.Cut(name, "/")
	if !ok {
		return Key{}, fmt.Errorf("chunk: malformed key %q", name)
	}
	id, err := segid.ParseDecimal(obj)
	if err != nil {
		return Key{}, fmt.Errorf("chunk: malformed key %q: %w", name, err)
	}
	f, err := strconv.ParseUint(frag, 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("chunk: malformed key %q: %w", name, err)
	}
	return Key{Object: id, Fragment: uint32(f)}, nil
}

// FixedFragments returns a key function giving every object n fragments.
func FixedFragments(n uint32) func(segid.ID) []Key {
	if n == 0 {
		n = 1
	}
	return func(id segid.ID) []Key {
		keys := make([]Key, n)
		for i := range keys {
			keys[i] = Key{Object: id, Fragment: uint32(i)}
		}
		return keys
	}
}

// State is the lifecycle state of a chunk.
type State uint8

const (
	StateQueued State = iota + 1
	StateDownloading
	StateDecoded
	StateGPUResident
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "QUEUED"
	case StateDownloading:
		return "DOWNLOADING"
	case StateDecoded:
		return "DECODED"
	case StateGPUResident:
		return "GPU_RESIDENT"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
