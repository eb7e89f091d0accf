package identity

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segvis/segid"
)

// ErrUnknownOp is returned by Apply for an op kind it does not understand.
var ErrUnknownOp = errors.New("identity: unknown op kind")

// OpKind enumerates the replicated mutations.
type OpKind uint8

const (
	OpInsertVisible OpKind = iota + 1
	OpRemoveVisible
	OpClearVisible
	OpUnion
	OpSetEquivalences
)

var opNames = map[OpKind]string{
	OpInsertVisible:   "INSERT_VISIBLE",
	OpRemoveVisible:   "REMOVE_VISIBLE",
	OpClearVisible:    "CLEAR_VISIBLE",
	OpUnion:           "UNION",
	OpSetEquivalences: "SET_EQUIVALENCES",
}

func (k OpKind) String() string {
	if s, ok := opNames[k]; ok {
		return s
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// MarshalText encodes the kind by name.
func (k OpKind) MarshalText() ([]byte, error) {
	s, ok := opNames[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, uint8(k))
	}
	return []byte(s), nil
}

// UnmarshalText decodes a kind name.
func (k *OpKind) UnmarshalText(b []byte) error {
	for kind, name := range opNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownOp, string(b))
}

// Op is one replicated mutation.
//
// INSERT_VISIBLE and REMOVE_VISIBLE use IDs. UNION merges each group in
// Groups into one class. SET_EQUIVALENCES replaces the relation with Groups.
type Op struct {
	Kind   OpKind       `json:"kind"`
	IDs    []segid.ID   `json:"ids,omitempty"`
	Groups [][]segid.ID `json:"groups,omitempty"`
}

// InsertVisible returns an INSERT_VISIBLE op.
func InsertVisible(ids ...segid.ID) Op { return Op{Kind: OpInsertVisible, IDs: ids} }

// RemoveVisible returns a REMOVE_VISIBLE op.
func RemoveVisible(ids ...segid.ID) Op { return Op{Kind: OpRemoveVisible, IDs: ids} }

// ClearVisible returns a CLEAR_VISIBLE op.
func ClearVisible() Op { return Op{Kind: OpClearVisible} }

// Union returns a UNION op merging ids into one class.
func Union(ids ...segid.ID) Op { return Op{Kind: OpUnion, Groups: [][]segid.ID{ids}} }

// SetEquivalences returns a SET_EQUIVALENCES op.
func SetEquivalences(groups [][]segid.ID) Op {
	return Op{Kind: OpSetEquivalences, Groups: groups}
}

// Snapshot is the complete replicated state.
type Snapshot struct {
	Visible      []segid.ID   `json:"visible,omitempty"`
	Equivalences [][]segid.ID `json:"equivalences,omitempty"`
}
