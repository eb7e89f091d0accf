package equiv

import (
	"cmp"
	"iter"
	"slices"

	"github.com/hupe1980/segvis/internal/signal"
	"github.com/hupe1980/segvis/segid"
)

type node struct {
	id     segid.ID
	parent *node
	next   *node // circular list of the class members
	rank   uint8

	// Valid on roots only.
	min  segid.ID
	size int
}

// Sets is a disjoint-set forest over segid.ID. Identifiers that were never
// inserted are implicit singleton classes. The zero value is not usable;
// call New.
type Sets struct {
	nodes      map[segid.ID]*node
	changed    signal.Signal
	generation uint64
}

// New returns an empty forest.
func New() *Sets {
	return &Sets{nodes: make(map[segid.ID]*node)}
}

// OnChange registers fn to run after every structural change.
func (s *Sets) OnChange(fn func()) (remove func()) {
	return s.changed.Add(fn)
}

// Batch runs fn and fires at most one change notification for all mutations
// performed inside it.
func (s *Sets) Batch(fn func()) {
	s.changed.Batch(fn)
}

// Generation increases on every structural change.
func (s *Sets) Generation() uint64 { return s.generation }

// Size returns the number of identifiers explicitly inserted into a
// non-trivial class.
func (s *Sets) Size() int { return len(s.nodes) }

// Find returns the representative (minimum member) of x's class, compressing
// the path it walks. Unknown identifiers are their own representative.
func (s *Sets) Find(x segid.ID) segid.ID {
	n, ok := s.nodes[x]
	if !ok {
		return x
	}
	return s.root(n).min
}

// Lookup is Find without path compression. It never mutates the forest.
func (s *Sets) Lookup(x segid.ID) segid.ID {
	n, ok := s.nodes[x]
	if !ok {
		return x
	}
	for n.parent != n {
		n = n.parent
	}
	return n.min
}

// Union merges the classes of a and b. It reports whether the structure
// changed; unioning an already-equivalent pair is a no-op.
func (s *Sets) Union(a, b segid.ID) bool {
	if a == b {
		return false
	}

	na, nb := s.nodes[a], s.nodes[b]
	if na != nil && nb != nil && s.root(na) == s.root(nb) {
		return false
	}
	if na == nil {
		na = s.insert(a)
	}
	if nb == nil {
		nb = s.insert(b)
	}

	ra, rb := s.root(na), s.root(nb)
	if ra.rank < rb.rank {
		ra, rb = rb, ra
	}
	rb.parent = ra
	if ra.rank == rb.rank {
		ra.rank++
	}

	// Splice the two circular member lists.
	ra.next, rb.next = rb.next, ra.next
	ra.min = min(ra.min, rb.min)
	ra.size += rb.size

	s.generation++
	s.changed.Dispatch()
	return true
}

// Members enumerates the explicitly known members of x's class (x itself
// when it was never inserted). The sequence is lazy and may be iterated
// repeatedly; it must not be used across a mutation.
func (s *Sets) Members(x segid.ID) iter.Seq[segid.ID] {
	return func(yield func(segid.ID) bool) {
		start, ok := s.nodes[x]
		if !ok {
			yield(x)
			return
		}
		n := start
		for {
			if !yield(n.id) {
				return
			}
			n = n.next
			if n == start {
				return
			}
		}
	}
}

// ClassSize returns the number of members of x's class (1 for unknown ids).
func (s *Sets) ClassSize(x segid.ID) int {
	n, ok := s.nodes[x]
	if !ok {
		return 1
	}
	for n.parent != n {
		n = n.parent
	}
	return n.size
}

// Classes enumerates all non-trivial classes, each sorted ascending, ordered
// by representative.
func (s *Sets) Classes() iter.Seq[[]segid.ID] {
	return func(yield func([]segid.ID) bool) {
		for _, r := range s.roots() {
			members := slices.Collect(s.Members(r.id))
			segid.Sort(members)
			if !yield(members) {
				return
			}
		}
	}
}

// Pairs serializes the relation as [representative, member] pairs, one per
// non-representative member, sorted. Restoring them with SetPairs yields the
// same partition.
func (s *Sets) Pairs() [][2]segid.ID {
	pairs := make([][2]segid.ID, 0, len(s.nodes))
	for class := range s.Classes() {
		for _, m := range class[1:] {
			pairs = append(pairs, [2]segid.ID{class[0], m})
		}
	}
	return pairs
}

// SetPairs replaces the whole relation and reports whether the partition
// changed. Each group lists identifiers that are equivalent; groups of any
// length are accepted (pairs included). A notification fires only when the
// partition changed.
func (s *Sets) SetPairs(groups [][]segid.ID) bool {
	next := New()
	for _, g := range groups {
		for _, id := range g[min(1, len(g)):] {
			next.Union(g[0], id)
		}
	}
	if s.Equal(next) {
		return false
	}
	s.nodes = next.nodes
	s.generation++
	s.changed.Dispatch()
	return true
}

// Clear removes every recorded equivalence.
func (s *Sets) Clear() bool {
	if len(s.nodes) == 0 {
		return false
	}
	s.nodes = make(map[segid.ID]*node)
	s.generation++
	s.changed.Dispatch()
	return true
}

// Equal reports whether both forests describe the same partition.
func (s *Sets) Equal(other *Sets) bool {
	if s.Size() != other.Size() {
		return false
	}
	for id := range s.nodes {
		if s.Lookup(id) != other.Lookup(id) {
			return false
		}
	}
	return true
}

// Clone returns an independent forest with the same partition. Handlers are
// not copied.
func (s *Sets) Clone() *Sets {
	c := New()
	for _, p := range s.Pairs() {
		c.Union(p[0], p[1])
	}
	return c
}

func (s *Sets) insert(id segid.ID) *node {
	n := &node{id: id, min: id, size: 1}
	n.parent = n
	n.next = n
	s.nodes[id] = n
	return n
}

func (s *Sets) root(n *node) *node {
	r := n
	for r.parent != r {
		r = r.parent
	}
	for n != r {
		next := n.parent
		n.parent = r
		n = next
	}
	return r
}

func (s *Sets) roots() []*node {
	var roots []*node
	for _, n := range s.nodes {
		if n.parent == n {
			roots = append(roots, n)
		}
	}
	slices.SortFunc(roots, func(a, b *node) int { return cmp.Compare(a.min, b.min) })
	return roots
}
