package equiv

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/hupe1980/segvis/segid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSets_FindUnknown(t *testing.T) {
	s := New()
	assert.Equal(t, segid.ID(42), s.Find(42))
	assert.Equal(t, segid.ID(0), s.Find(0))
	assert.Equal(t, segid.Max, s.Find(segid.Max))
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, []segid.ID{42}, slices.Collect(s.Members(42)))
}

func TestSets_UnionIdempotent(t *testing.T) {
	s := New()
	notifications := 0
	s.OnChange(func() { notifications++ })

	assert.True(t, s.Union(5, 7))
	assert.False(t, s.Union(5, 7))
	assert.False(t, s.Union(7, 5))
	assert.False(t, s.Union(5, 5))
	assert.Equal(t, 1, notifications)
	assert.Equal(t, 2, s.Size())
}

func TestSets_MinRepresentative(t *testing.T) {
	s := New()
	s.Union(9, 4)
	s.Union(12, 9)
	s.Union(30, 31)
	s.Union(31, 2)

	for _, id := range []segid.ID{4, 9, 12} {
		assert.Equal(t, segid.ID(4), s.Find(id))
	}
	for _, id := range []segid.ID{2, 30, 31} {
		assert.Equal(t, segid.ID(2), s.Find(id))
		assert.Equal(t, segid.ID(2), s.Lookup(id))
	}

	s.Union(12, 30)
	assert.Equal(t, segid.ID(2), s.Find(9))
	assert.Equal(t, 6, s.ClassSize(9))
}

func TestSets_MembersRestartable(t *testing.T) {
	s := New()
	s.Union(1, 2)
	s.Union(3, 2)

	first := slices.Sorted(s.Members(3))
	second := slices.Sorted(s.Members(3))
	assert.Equal(t, []segid.ID{1, 2, 3}, first)
	assert.Equal(t, first, second)

	// Early termination stops the walk.
	n := 0
	for range s.Members(1) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

// naive connectivity used as an oracle.
type oracle map[segid.ID]segid.ID

func (o oracle) label(x segid.ID) segid.ID {
	if l, ok := o[x]; ok {
		return l
	}
	return x
}

func (o oracle) union(a, b segid.ID) {
	la, lb := o.label(a), o.label(b)
	if la == lb {
		return
	}
	o[a], o[b] = la, lb
	for k, v := range o {
		if v == lb {
			o[k] = la
		}
	}
}

func TestSets_RandomUnionsMatchOracle(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		s := New()
		o := oracle{}
		for i := 0; i < 200; i++ {
			a, b := segid.ID(rng.Intn(60)), segid.ID(rng.Intn(60))
			s.Union(a, b)
			o.union(a, b)
		}
		for a := segid.ID(0); a < 60; a++ {
			for b := segid.ID(0); b < 60; b++ {
				want := o.label(a) == o.label(b)
				require.Equal(t, want, s.Find(a) == s.Find(b), "trial %d: %d ~ %d", trial, a, b)
			}
		}
	}
}

func TestSets_PairsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New()
	for i := 0; i < 100; i++ {
		s.Union(segid.ID(rng.Intn(50)), segid.ID(rng.Intn(50)+1000))
	}

	pairs := s.Pairs()
	groups := make([][]segid.ID, len(pairs))
	for i, p := range pairs {
		groups[i] = []segid.ID{p[0], p[1]}
	}
	// Order of pairs must not matter.
	rng.Shuffle(len(groups), func(i, j int) { groups[i], groups[j] = groups[j], groups[i] })

	restored := New()
	restored.SetPairs(groups)
	assert.True(t, s.Equal(restored))
	assert.True(t, restored.Equal(s))
	assert.Equal(t, pairs, restored.Pairs())
	assert.True(t, s.Equal(s.Clone()))
}

func TestSets_PairsFormat(t *testing.T) {
	s := New()
	s.Union(8, 3)
	s.Union(3, 5)
	s.Union(100, 99)

	assert.Equal(t, [][2]segid.ID{{3, 5}, {3, 8}, {99, 100}}, s.Pairs())
	assert.Equal(t, [][]segid.ID{{3, 5, 8}, {99, 100}}, slices.Collect(s.Classes()))
}

func TestSets_SetPairsGroups(t *testing.T) {
	s := New()
	s.Union(1, 2)

	notifications := 0
	s.OnChange(func() { notifications++ })

	assert.True(t, s.SetPairs([][]segid.ID{{10, 11, 12}, {20}, {}, {30, 31}}))
	assert.Equal(t, 1, notifications)
	assert.Equal(t, segid.ID(2), s.Find(2), "previous relation replaced")
	assert.Equal(t, segid.ID(10), s.Find(12))
	assert.Equal(t, segid.ID(30), s.Find(31))
	assert.Equal(t, 5, s.Size())
}

func TestSets_SetPairsSamePartitionIsSilent(t *testing.T) {
	s := New()
	s.SetPairs([][]segid.ID{{1, 2, 3}, {7, 8}})
	gen := s.Generation()

	notifications := 0
	s.OnChange(func() { notifications++ })

	// Same partition, different grouping.
	assert.False(t, s.SetPairs([][]segid.ID{{3, 1}, {2, 1}, {8, 7}}))
	assert.Zero(t, notifications)
	assert.Equal(t, gen, s.Generation())

	assert.True(t, s.SetPairs([][]segid.ID{{1, 2}}))
	assert.Equal(t, 1, notifications)
	assert.Equal(t, segid.ID(3), s.Find(3))
}

func TestSets_Batch(t *testing.T) {
	s := New()
	notifications := 0
	s.OnChange(func() { notifications++ })

	s.Batch(func() {
		for i := segid.ID(0); i < 10; i++ {
			s.Union(i, i+1)
		}
	})
	assert.Equal(t, 1, notifications)

	s.Batch(func() { s.Union(0, 10) })
	assert.Equal(t, 1, notifications, "no structural change, no notification")
}

func TestSets_Clear(t *testing.T) {
	s := New()
	assert.False(t, s.Clear())
	s.Union(1, 2)
	gen := s.Generation()
	assert.True(t, s.Clear())
	assert.Greater(t, s.Generation(), gen)
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, segid.ID(2), s.Find(2))
}

func TestSets_Equal(t *testing.T) {
	a, b := New(), New()
	a.Union(1, 2)
	b.Union(1, 3)
	assert.False(t, a.Equal(b))

	b.Clear()
	b.Union(2, 1)
	assert.True(t, a.Equal(b))
}
