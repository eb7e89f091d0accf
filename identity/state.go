package identity

import (
	"iter"
	"slices"
	"sync"

	"github.com/hupe1980/segvis/equiv"
	"github.com/hupe1980/segvis/internal/signal"
	"github.com/hupe1980/segvis/segid"
	"github.com/hupe1980/segvis/segset"
)

// State is one copy of the identity state. Writes are serialized by the
// owning context; concurrent readers are allowed.
type State struct {
	mu      sync.RWMutex
	eq      *equiv.Sets
	visible *segset.Set
	// representative -> number of visible members of its class
	visibleReps map[segid.ID]int

	changed signal.Signal
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		eq:          equiv.New(),
		visible:     segset.New(),
		visibleReps: make(map[segid.ID]int),
	}
}

// OnChange registers fn to run once after every op that changed the state.
func (s *State) OnChange(fn func()) (remove func()) {
	return s.changed.Add(fn)
}

// Batch coalesces the notifications of all ops applied inside fn.
func (s *State) Batch(fn func()) {
	s.changed.Batch(fn)
}

// Apply performs op and reports whether the state changed.
func (s *State) Apply(op Op) (bool, error) {
	s.mu.Lock()
	changed, err := s.apply(op)
	s.mu.Unlock()

	if changed {
		s.changed.Dispatch()
	}
	return changed, err
}

// Restore replaces the whole state with snap.
func (s *State) Restore(snap Snapshot) bool {
	s.mu.Lock()
	changed := s.restore(snap)
	s.mu.Unlock()

	if changed {
		s.changed.Dispatch()
	}
	return changed
}

// Snapshot captures the whole state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Visible: s.visible.Slice()}
	for _, p := range s.eq.Pairs() {
		snap.Equivalences = append(snap.Equivalences, []segid.ID{p[0], p[1]})
	}
	return snap
}

// Get returns the representative of id.
func (s *State) Get(id segid.ID) segid.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eq.Lookup(id)
}

// HasVisible reports whether id itself is in the visible set.
func (s *State) HasVisible(id segid.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible.Has(id)
}

// IsVisibleExpanded reports whether any member of id's class is visible.
func (s *State) IsVisibleExpanded(id segid.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visibleReps[s.eq.Lookup(id)] > 0
}

// Visible returns the visible set, ascending.
func (s *State) Visible() []segid.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible.Slice()
}

// VisibleLen returns the size of the visible set.
func (s *State) VisibleLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible.Len()
}

// VisibleRepresentatives returns the representatives of all visible
// classes, ascending.
func (s *State) VisibleRepresentatives() []segid.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reps := make([]segid.ID, 0, len(s.visibleReps))
	for r := range s.visibleReps {
		reps = append(reps, r)
	}
	slices.Sort(reps)
	return reps
}

// VisibleExpanded enumerates the expanded visible set: every known member
// of every visible class. The ids are collected under the read lock, so the
// sequence stays valid across later mutations.
func (s *State) VisibleExpanded() iter.Seq[segid.ID] {
	s.mu.RLock()
	var ids []segid.ID
	for r := range s.visibleReps {
		for m := range s.eq.Members(r) {
			ids = append(ids, m)
		}
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	return slices.Values(ids)
}

// Equivalences returns the serialized relation as [representative, member]
// pairs.
func (s *State) Equivalences() [][2]segid.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eq.Pairs()
}

// EquivalenceSize returns the number of ids in non-trivial classes.
func (s *State) EquivalenceSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eq.Size()
}

// Equal reports whether both states hold the same visible set and partition.
func (s *State) Equal(other *State) bool {
	if s == other {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	return s.visible.Equal(other.visible) && s.eq.Equal(other.eq)
}

func (s *State) apply(op Op) (bool, error) {
	switch op.Kind {
	case OpInsertVisible:
		changed := false
		for _, id := range op.IDs {
			if s.visible.Add(id) {
				s.visibleReps[s.eq.Find(id)]++
				changed = true
			}
		}
		return changed, nil

	case OpRemoveVisible:
		changed := false
		for _, id := range op.IDs {
			if s.visible.Remove(id) {
				r := s.eq.Find(id)
				if s.visibleReps[r]--; s.visibleReps[r] <= 0 {
					delete(s.visibleReps, r)
				}
				changed = true
			}
		}
		return changed, nil

	case OpClearVisible:
		if !s.visible.Clear() {
			return false, nil
		}
		clear(s.visibleReps)
		return true, nil

	case OpUnion:
		changed := false
		for _, g := range op.Groups {
			for _, id := range g[min(1, len(g)):] {
				if s.union(g[0], id) {
					changed = true
				}
			}
		}
		return changed, nil

	case OpSetEquivalences:
		if !s.eq.SetPairs(op.Groups) {
			return false, nil
		}
		s.recount()
		return true, nil

	default:
		return false, ErrUnknownOp
	}
}

func (s *State) union(a, b segid.ID) bool {
	ra, rb := s.eq.Find(a), s.eq.Find(b)
	if !s.eq.Union(a, b) {
		return false
	}
	n := s.visibleReps[ra] + s.visibleReps[rb]
	delete(s.visibleReps, ra)
	delete(s.visibleReps, rb)
	if n > 0 {
		s.visibleReps[s.eq.Find(a)] = n
	}
	return true
}

func (s *State) restore(snap Snapshot) bool {
	next := segset.New(snap.Visible...)
	eq := equiv.New()
	eq.SetPairs(snap.Equivalences)

	if next.Equal(s.visible) && eq.Equal(s.eq) {
		return false
	}
	s.visible = next
	s.eq = eq
	s.recount()
	return true
}

func (s *State) recount() {
	clear(s.visibleReps)
	for id := range s.visible.All() {
		s.visibleReps[s.eq.Find(id)]++
	}
}
