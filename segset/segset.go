// Package segset implements the visible-segment set: a compressed set of
// 64-bit segment identifiers with change notification.
//
// It wraps the official roaring64 implementation, which keeps large sparse
// selections compact and iterates in ascending order.
package segset

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/segvis/internal/signal"
	"github.com/hupe1980/segvis/segid"
)

// Set is a set of segment identifiers. It is not safe for concurrent
// mutation; see package identity for the guarded variant.
type Set struct {
	rb      *roaring64.Bitmap
	changed signal.Signal
}

// New returns a set containing ids.
func New(ids ...segid.ID) *Set {
	s := &Set{rb: roaring64.New()}
	for _, id := range ids {
		s.rb.Add(uint64(id))
	}
	return s
}

// OnChange registers fn to run after every change.
func (s *Set) OnChange(fn func()) (remove func()) {
	return s.changed.Add(fn)
}

// Batch coalesces the notifications of all mutations inside fn into one.
func (s *Set) Batch(fn func()) {
	s.changed.Batch(fn)
}

// Add inserts ids and reports whether the set changed.
func (s *Set) Add(ids ...segid.ID) bool {
	changed := false
	for _, id := range ids {
		if s.rb.CheckedAdd(uint64(id)) {
			changed = true
		}
	}
	if changed {
		s.changed.Dispatch()
	}
	return changed
}

// Remove deletes ids and reports whether the set changed.
func (s *Set) Remove(ids ...segid.ID) bool {
	changed := false
	for _, id := range ids {
		if s.rb.CheckedRemove(uint64(id)) {
			changed = true
		}
	}
	if changed {
		s.changed.Dispatch()
	}
	return changed
}

// Clear empties the set.
func (s *Set) Clear() bool {
	if s.rb.IsEmpty() {
		return false
	}
	s.rb.Clear()
	s.changed.Dispatch()
	return true
}

// Has reports whether id is a member.
func (s *Set) Has(id segid.ID) bool {
	return s.rb.Contains(uint64(id))
}

// Len returns the number of members.
func (s *Set) Len() int {
	return int(s.rb.GetCardinality())
}

// All enumerates the members in ascending order.
func (s *Set) All() iter.Seq[segid.ID] {
	return func(yield func(segid.ID) bool) {
		it := s.rb.Iterator()
		for it.HasNext() {
			if !yield(segid.ID(it.Next())) {
				return
			}
		}
	}
}

// Slice returns the members in ascending order.
func (s *Set) Slice() []segid.ID {
	arr := s.rb.ToArray()
	ids := make([]segid.ID, len(arr))
	for i, v := range arr {
		ids[i] = segid.ID(v)
	}
	return ids
}

// Equal reports whether both sets have the same members.
func (s *Set) Equal(other *Set) bool {
	return s.rb.Equals(other.rb)
}

// Clone returns an independent copy without handlers.
func (s *Set) Clone() *Set {
	return &Set{rb: s.rb.Clone()}
}
