package render

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hupe1980/segvis/chunk"
	"github.com/hupe1980/segvis/geometry"
	"github.com/hupe1980/segvis/gpu"
	"github.com/hupe1980/segvis/segid"
)

// PassKind selects the view being drawn.
type PassKind uint8

const (
	PassPerspective PassKind = iota + 1
	PassSlice
)

func (p PassKind) String() string {
	switch p {
	case PassPerspective:
		return "perspective"
	case PassSlice:
		return "slice"
	default:
		return fmt.Sprintf("PassKind(%d)", uint8(p))
	}
}

// Context is handed to drawables during a pass.
type Context struct {
	Pass   PassKind
	Device gpu.Device
	Picks  *PickRegistry
	Frame  uint64
}

// Drawable is anything the coordinator can draw.
type Drawable interface {
	Name() string
	Draw(ctx *Context) error
}

// Segments resolves ids against the equivalence relation and visible set.
type Segments interface {
	Get(id segid.ID) segid.ID
	IsVisibleExpanded(id segid.ID) bool
}

// Alphas are the opacity controls of a segmentation layer.
type Alphas struct {
	Selected    float32
	NotSelected float32
	Object      float32
}

// Base is the state shared by the views of one segmentation layer.
type Base interface {
	Name() string
	Segments() Segments
	// Residencies returns the chunk residencies in scope.
	Residencies() []*chunk.Residency
	ColorFor(rep segid.ID) [3]float32
	Alphas() Alphas
}

// PerspectiveView draws meshes and skeletons at the object opacity.
type PerspectiveView struct{ Base }

// Draw implements Drawable.
func (v PerspectiveView) Draw(ctx *Context) error {
	if ctx.Pass != PassPerspective {
		return nil
	}
	return DrawChunks(ctx, v.Base, v.Alphas().Object, nil)
}

// SliceView draws skeletons at the selected opacity.
type SliceView struct{ Base }

// Draw implements Drawable.
func (v SliceView) Draw(ctx *Context) error {
	if ctx.Pass != PassSlice {
		return nil
	}
	return DrawChunks(ctx, v.Base, v.Alphas().Selected, func(k geometry.Kind) bool {
		return k == geometry.KindSkeleton
	})
}

type drawItem struct {
	rep segid.ID
	res *chunk.Resident
}

// DrawChunks issues one draw per resident chunk whose representative is in
// the expanded visible set, grouped by representative. kinds filters
// residencies by geometry kind; nil accepts all. Nothing is drawn at alpha
// 0.
func DrawChunks(ctx *Context, b Base, alpha float32, kinds func(geometry.Kind) bool) error {
	if alpha <= 0 {
		return nil
	}
	segs := b.Segments()

	var items []drawItem
	for _, r := range b.Residencies() {
		if kinds != nil && !kinds(r.Kind()) {
			continue
		}
		for res := range r.Resident() {
			rep := segs.Get(res.Key.Object)
			if !segs.IsVisibleExpanded(rep) {
				continue
			}
			r.Touch(res.Key)
			if res.Count == 0 {
				continue
			}
			items = append(items, drawItem{rep: rep, res: res})
		}
	}
	slices.SortStableFunc(items, func(a, b drawItem) int { return cmp.Compare(a.rep, b.rep) })

	name := b.Name()
	for _, it := range items {
		c := b.ColorFor(it.rep)
		call := gpu.DrawCall{
			Primitive: primitive(it.res.Kind),
			Vertices:  it.res.Vertices.ID(),
			Indices:   it.res.Indices.ID(),
			Count:     it.res.Count,
			Color:     [4]float32{c[0], c[1], c[2], alpha},
			PickID:    ctx.Picks.Register(name, it.res.Key.Object),
		}
		if err := ctx.Device.Draw(call); err != nil {
			return fmt.Errorf("render: draw %s in %s: %w", it.res.Key, name, err)
		}
	}
	return nil
}

func primitive(k geometry.Kind) gpu.Primitive {
	if k == geometry.KindSkeleton {
		return gpu.PrimitiveLines
	}
	return gpu.PrimitiveTriangles
}
