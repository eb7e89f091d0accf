// Package segid defines the 64-bit segment identifier shared by every
// component of segvis.
//
// An ID is an opaque unsigned value. Equality is bitwise and no value is
// reserved: 0 is a valid identifier unless a data source says otherwise.
package segid

import (
	"fmt"
	"slices"
	"strconv"
)

// ID identifies a segment (an object in a labeled volume).
type ID uint64

// Max is the largest representable identifier.
const Max = ID(^uint64(0))

// Parse parses s in the given radix (2..36).
func Parse(s string, radix int) (ID, error) {
	v, err := strconv.ParseUint(s, radix, 64)
	if err != nil {
		return 0, &ParseError{Input: s, Radix: radix, cause: err}
	}
	return ID(v), nil
}

// ParseDecimal parses a base-10 identifier.
func ParseDecimal(s string) (ID, error) {
	return Parse(s, 10)
}

// MustParse is like ParseDecimal but panics on error. Intended for tests.
func MustParse(s string) ID {
	id, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Format renders the identifier in the given radix (2..36).
func (id ID) Format(radix int) string {
	return strconv.FormatUint(uint64(id), radix)
}

// String renders the identifier in base 10.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Less reports whether id orders before other.
func (id ID) Less(other ID) bool { return id < other }

// Compare returns -1, 0 or +1.
func (id ID) Compare(other ID) int {
	switch {
	case id < other:
		return -1
	case id > other:
		return 1
	default:
		return 0
	}
}

// Hash returns a well-mixed 64-bit hash of the identifier (splitmix64
// finalizer). The value is identical across processes and platforms.
func (id ID) Hash() uint64 {
	z := uint64(id) + 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// MarshalText encodes the identifier as a decimal string, so JSON carries
// the full 64-bit value without float rounding.
func (id ID) MarshalText() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(id), 10), nil
}

// UnmarshalText decodes a decimal string.
func (id *ID) UnmarshalText(b []byte) error {
	v, err := ParseDecimal(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

// Sort sorts ids ascending in place.
func Sort(ids []ID) {
	slices.Sort(ids)
}

// ParseError reports an identifier that could not be parsed.
//
// The underlying strconv error can be accessed via errors.Unwrap.
type ParseError struct {
	Input string
	Radix int
	cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid segment id %q (radix %d)", e.Input, e.Radix)
}

func (e *ParseError) Unwrap() error { return e.cause }
