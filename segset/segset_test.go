package segset

import (
	"slices"
	"testing"

	"github.com/hupe1980/segvis/segid"
	"github.com/stretchr/testify/assert"
)

func TestSet_AddRemove(t *testing.T) {
	s := New()
	n := 0
	s.OnChange(func() { n++ })

	assert.True(t, s.Add(3, 1, segid.Max))
	assert.False(t, s.Add(1))
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Has(segid.Max))
	assert.Equal(t, []segid.ID{1, 3, segid.Max}, s.Slice())
	assert.Equal(t, []segid.ID{1, 3, segid.Max}, slices.Collect(s.All()))

	assert.True(t, s.Remove(3, 99))
	assert.False(t, s.Remove(99))
	assert.Equal(t, 2, n)

	assert.True(t, s.Clear())
	assert.False(t, s.Clear())
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, s.Len())
}

func TestSet_Batch(t *testing.T) {
	s := New()
	n := 0
	s.OnChange(func() { n++ })

	s.Batch(func() {
		s.Add(1)
		s.Add(2)
		s.Remove(1)
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []segid.ID{2}, s.Slice())
}

func TestSet_EqualClone(t *testing.T) {
	a := New(1, 2, 3)
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Remove(2)
	assert.False(t, a.Equal(b))
	assert.True(t, a.Has(2))
}

func TestSet_ToggleIdempotent(t *testing.T) {
	s := New(7)
	before := s.Clone()

	s.Add(42)
	s.Remove(42)
	assert.True(t, before.Equal(s))
}
