package layer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/hupe1980/segvis/codec"
	"github.com/hupe1980/segvis/identity"
	"github.com/hupe1980/segvis/segid"
)

// Default opacities.
const (
	DefaultSelectedAlpha    = 0.5
	DefaultNotSelectedAlpha = 0
	DefaultObjectAlpha      = 1.0
)

// State is the persisted form of a layer.
type State struct {
	Source           string       `json:"source,omitempty"`
	Mesh             string       `json:"mesh,omitempty"`
	Skeletons        string       `json:"skeletons,omitempty"`
	SelectedAlpha    float32      `json:"selectedAlpha"`
	NotSelectedAlpha float32      `json:"notSelectedAlpha"`
	ObjectAlpha      float32      `json:"objectAlpha"`
	Segments         []segid.ID   `json:"segments,omitempty"`
	Equivalences     [][]segid.ID `json:"equivalences,omitempty"`
}

// DefaultState returns an empty state with default opacities.
func DefaultState() State {
	return State{
		SelectedAlpha:    DefaultSelectedAlpha,
		NotSelectedAlpha: DefaultNotSelectedAlpha,
		ObjectAlpha:      DefaultObjectAlpha,
	}
}

// Snapshot returns the identity part of the state.
func (s State) Snapshot() identity.Snapshot {
	return identity.Snapshot{Visible: s.Segments, Equivalences: s.Equivalences}
}

// FieldError reports a malformed field of a persisted state.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("layer: field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// ParseState decodes data field by field on top of DefaultState. The
// returned state holds every field that parsed; the error joins one
// *FieldError per malformed field.
func ParseState(data []byte) (State, error) {
	s := DefaultState()
	err := s.UnmarshalJSON(data)
	return s, err
}

// UnmarshalJSON restores the fields present in data, keeping the current
// values of absent or malformed ones.
func (s *State) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := codec.Default.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("layer: state is not a JSON object: %w", err)
	}

	var errs []error
	field := func(name string, parse func(json.RawMessage) error) {
		raw, ok := fields[name]
		if !ok || isNull(raw) {
			return
		}
		if err := parse(raw); err != nil {
			errs = append(errs, &FieldError{Field: name, Err: err})
		}
	}

	field("source", stringField(&s.Source))
	field("mesh", stringField(&s.Mesh))
	field("skeletons", stringField(&s.Skeletons))
	field("selectedAlpha", alphaField(&s.SelectedAlpha))
	field("notSelectedAlpha", alphaField(&s.NotSelectedAlpha))
	field("objectAlpha", alphaField(&s.ObjectAlpha))
	field("segments", func(raw json.RawMessage) error {
		ids, err := parseIDs(raw)
		if err != nil {
			return err
		}
		s.Segments = ids
		return nil
	})
	field("equivalences", func(raw json.RawMessage) error {
		var groups []json.RawMessage
		if err := codec.Default.Unmarshal(raw, &groups); err != nil {
			return errors.New("expected an array of groups")
		}
		out := make([][]segid.ID, 0, len(groups))
		for i, g := range groups {
			ids, err := parseIDs(g)
			if err != nil {
				return fmt.Errorf("group %d: %w", i, err)
			}
			if len(ids) > 0 {
				out = append(out, ids)
			}
		}
		s.Equivalences = out
		return nil
	})
	return errors.Join(errs...)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func stringField(dst *string) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var v string
		if err := codec.Default.Unmarshal(raw, &v); err != nil {
			return errors.New("expected a string")
		}
		*dst = v
		return nil
	}
}

func alphaField(dst *float32) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		v, err := strconv.ParseFloat(string(bytes.TrimSpace(raw)), 32)
		if err != nil {
			return errors.New("expected a number")
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("%v is outside [0,1]", v)
		}
		*dst = float32(v)
		return nil
	}
}

// parseIDs parses an array of decimal strings or JSON integers without
// going through float64.
func parseIDs(raw json.RawMessage) ([]segid.ID, error) {
	var elems []json.RawMessage
	if err := codec.Default.Unmarshal(raw, &elems); err != nil {
		return nil, errors.New("expected an array of ids")
	}
	ids := make([]segid.ID, 0, len(elems))
	for i, e := range elems {
		e = bytes.TrimSpace(e)
		text := string(e)
		if len(e) > 0 && e[0] == '"' {
			if err := codec.Default.Unmarshal(e, &text); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		id, err := segid.ParseDecimal(text)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
