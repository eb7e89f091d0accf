// Package codec centralizes message and state encoding.
//
// Messages between the interactive and processing contexts, and persisted
// layer state, are encoded with a Codec. Envelopes embed json.RawMessage
// bodies, so every built-in codec is JSON-compatible; a custom codec must be
// too.
package codec

import "fmt"

// Codec encodes and decodes values. Implementations must be safe for
// concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns the built-in codec named "json" or "go-json".
func ByName(name string) (Codec, bool) {
	for _, c := range []Codec{JSON{}, GoJSON{}} {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Decode unmarshals data into a new T. A nil codec means Default.
func Decode[T any](c Codec, data []byte) (T, error) {
	if c == nil {
		c = Default
	}
	var v T
	if err := c.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("codec %s: decode %T: %w", c.Name(), v, err)
	}
	return v, nil
}

// MustMarshal encodes v or panics. Meant for tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
