package layer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/segvis/chunk"
	"github.com/hupe1980/segvis/counterpart"
	"github.com/hupe1980/segvis/gpu"
	"github.com/hupe1980/segvis/identity"
	"github.com/hupe1980/segvis/internal/resource"
	"github.com/hupe1980/segvis/render"
	"github.com/hupe1980/segvis/segid"
)

// ErrClosed is returned by operations on a closed layer.
var ErrClosed = errors.New("layer: closed")

// SourceInit is the creation body of a chunk source on the backend.
type SourceInit struct {
	GeometrySource
	// Mirror is the handle of the identity mirror driving the source.
	Mirror counterpart.Handle `json:"mirror"`
}

// Options configures a Layer.
type Options struct {
	Resolver Resolver
	Status   StatusSink
	// ColorFor maps a representative to RGB. Defaults to DefaultColor.
	ColorFor func(rep segid.ID) [3]float32
	Device   gpu.Device
	// Budget bounds GPU memory across the residencies of the layer. It is
	// usually shared by every layer of a session.
	Budget *resource.Controller
	Clock  *chunk.Clock
	// Peers returns every residency charged to Budget, so chunks of other
	// layers not drawn in the current frame can be evicted for this one.
	Peers   func() []*chunk.Residency
	Logger  *slog.Logger
	Metrics chunk.Metrics
}

type attached struct {
	source GeometrySource
	handle counterpart.Handle
	res    *chunk.Residency
}

// Layer is the interactive-context half of a segmentation layer. It is not
// safe for concurrent use.
type Layer struct {
	name string
	ep   *counterpart.Endpoint
	auth *identity.Authority
	opts Options
	log  *slog.Logger

	locators [3]string
	alphas   render.Alphas
	volume   *Volume
	sources  []*attached
	errs     []error
	closed   bool
}

// New creates a layer from st. The identity mirror is created on the peer
// of ep first, then one chunk source per resolved geometry source. A
// source that fails to resolve is reported to the status sink and left out.
func New(ctx context.Context, name string, ep *counterpart.Endpoint, st State, optFns ...func(o *Options)) (*Layer, error) {
	opts := Options{Resolver: BlobResolver{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.ColorFor == nil {
		opts.ColorFor = DefaultColor
	}
	if opts.Clock == nil {
		opts.Clock = &chunk.Clock{}
	}
	if opts.Device == nil {
		return nil, errors.New("layer: no GPU device")
	}

	l := &Layer{
		name:     name,
		ep:       ep,
		opts:     opts,
		log:      opts.Logger.With("layer", name),
		locators: [3]string{st.Source, st.Mesh, st.Skeletons},
		alphas: render.Alphas{
			Selected:    st.SelectedAlpha,
			NotSelected: st.NotSelectedAlpha,
			Object:      st.ObjectAlpha,
		},
	}
	l.auth = identity.NewAuthority(l.log)
	if err := l.auth.Reset(ctx, st.Snapshot()); err != nil {
		return nil, err
	}

	mirror, err := l.auth.Replicate(ctx, ep)
	if err != nil {
		return nil, err
	}

	resolved, err := l.resolve(ctx, st)
	if err != nil {
		_ = l.auth.Close(ctx)
		return nil, err
	}
	for _, src := range resolved {
		if err := l.attach(ctx, src, mirror); err != nil {
			l.report(err)
		}
	}
	return l, nil
}

// resolve runs the resolver for every named source concurrently. Only
// cancellation of ctx is an error; resolution failures are reported.
func (l *Layer) resolve(ctx context.Context, st State) ([]GeometrySource, error) {
	var (
		volume     *Volume
		geometries [2]*GeometrySource
		failures   [3]error
	)
	g, gctx := errgroup.WithContext(ctx)
	if st.Source != "" {
		g.Go(func() error {
			v, err := l.opts.Resolver.ResolveVolume(gctx, st.Source)
			volume, failures[0] = v, wrapResolve("volume", st.Source, err)
			return ctx.Err()
		})
	}
	if st.Mesh != "" {
		g.Go(func() error {
			s, err := l.opts.Resolver.ResolveMesh(gctx, st.Mesh)
			geometries[0], failures[1] = s, wrapResolve("mesh", st.Mesh, err)
			return ctx.Err()
		})
	}
	if st.Skeletons != "" {
		g.Go(func() error {
			s, err := l.opts.Resolver.ResolveSkeleton(gctx, st.Skeletons)
			geometries[1], failures[2] = s, wrapResolve("skeletons", st.Skeletons, err)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, err := range failures {
		if err != nil {
			l.report(err)
		}
	}
	if failures[0] == nil {
		l.volume = volume
	}
	var out []GeometrySource
	for i, s := range geometries {
		if s != nil && failures[i+1] == nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func wrapResolve(kind, locator string, err error) error {
	if err == nil {
		return nil
	}
	return &ResolveError{Kind: kind, Locator: locator, Err: err}
}

func (l *Layer) attach(ctx context.Context, src GeometrySource, mirror counterpart.Handle) error {
	res := chunk.NewResidency(l.opts.Device, l.opts.Budget, l.opts.Clock, func(o *chunk.ResidencyOptions) {
		o.Kind = src.Kind
		o.Logger = l.log
		o.Metrics = l.opts.Metrics
		o.Peers = l.opts.Peers
		o.OnError = func(err error) {
			l.report(&ResolveError{Kind: src.Kind.String(), Locator: src.Locator, Err: err})
		}
	})
	h, err := l.ep.Create(ctx, chunk.Kind, res, SourceInit{GeometrySource: src, Mirror: mirror})
	if err != nil {
		res.Close()
		return &ResolveError{Kind: src.Kind.String(), Locator: src.Locator, Err: err}
	}
	res.Bind(l.ep.Remote(h))
	l.sources = append(l.sources, &attached{source: src, handle: h, res: res})
	return nil
}

func (l *Layer) report(err error) {
	l.errs = append(l.errs, err)
	l.log.Warn("layer sub-resource unavailable", "error", err)
	if l.opts.Status != nil {
		l.opts.Status.Status(l.name, err)
	}
}

// Name implements render.Base.
func (l *Layer) Name() string { return l.name }

// Segments implements render.Base.
func (l *Layer) Segments() render.Segments { return l.auth.State }

// Identity returns the authoritative identity state.
func (l *Layer) Identity() *identity.Authority { return l.auth }

// Residencies implements render.Base.
func (l *Layer) Residencies() []*chunk.Residency {
	out := make([]*chunk.Residency, 0, len(l.sources))
	for _, s := range l.sources {
		out = append(out, s.res)
	}
	return out
}

// Retry asks the backend again for chunks its residencies rejected for lack
// of GPU budget, once the budget has room for them.
func (l *Layer) Retry(ctx context.Context) error {
	var errs []error
	for _, s := range l.sources {
		if _, err := s.res.Retry(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ColorFor implements render.Base.
func (l *Layer) ColorFor(rep segid.ID) [3]float32 { return l.opts.ColorFor(rep) }

// Alphas implements render.Base.
func (l *Layer) Alphas() render.Alphas { return l.alphas }

// SetAlphas replaces the opacity controls.
func (l *Layer) SetAlphas(a render.Alphas) error {
	for _, v := range []float32{a.Selected, a.NotSelected, a.Object} {
		if v < 0 || v > 1 {
			return fmt.Errorf("layer: alpha %v is outside [0,1]", v)
		}
	}
	l.alphas = a
	return nil
}

// PerspectiveView returns the 3D drawable of the layer.
func (l *Layer) PerspectiveView() render.PerspectiveView { return render.PerspectiveView{Base: l} }

// SliceView returns the cross-section drawable of the layer.
func (l *Layer) SliceView() render.SliceView { return render.SliceView{Base: l} }

// Volume returns the resolved volume, or nil.
func (l *Layer) Volume() *Volume { return l.volume }

// Errors returns the sub-resource failures reported so far.
func (l *Layer) Errors() []error { return slices.Clone(l.errs) }

// OnChange registers fn to run once per change of the identity state.
func (l *Layer) OnChange(fn func()) (remove func()) { return l.auth.OnChange(fn) }

// Select makes ids visible.
func (l *Layer) Select(ctx context.Context, ids ...segid.ID) (bool, error) {
	return l.auth.AddVisible(ctx, ids...)
}

// Deselect hides ids.
func (l *Layer) Deselect(ctx context.Context, ids ...segid.ID) (bool, error) {
	return l.auth.RemoveVisible(ctx, ids...)
}

// Toggle flips the visibility of id.
func (l *Layer) Toggle(ctx context.Context, id segid.ID) (bool, error) {
	if l.auth.HasVisible(id) {
		return l.auth.RemoveVisible(ctx, id)
	}
	return l.auth.AddVisible(ctx, id)
}

// ClearSelection hides every segment.
func (l *Layer) ClearSelection(ctx context.Context) (bool, error) {
	return l.auth.ClearVisible(ctx)
}

// Merge makes ids one object.
func (l *Layer) Merge(ctx context.Context, ids ...segid.ID) (bool, error) {
	return l.auth.Merge(ctx, ids...)
}

// SetEquivalences replaces the equivalence relation.
func (l *Layer) SetEquivalences(ctx context.Context, groups [][]segid.ID) (bool, error) {
	return l.auth.SetEquivalences(ctx, groups)
}

// State returns the persisted form of the layer.
func (l *Layer) State() State {
	snap := l.auth.Snapshot()
	return State{
		Source:           l.locators[0],
		Mesh:             l.locators[1],
		Skeletons:        l.locators[2],
		SelectedAlpha:    l.alphas.Selected,
		NotSelectedAlpha: l.alphas.NotSelected,
		ObjectAlpha:      l.alphas.Object,
		Segments:         snap.Visible,
		Equivalences:     snap.Equivalences,
	}
}

// Restore applies the segments, equivalences and opacities of st. Source
// locators are fixed when the layer is created and are ignored here.
func (l *Layer) Restore(ctx context.Context, st State) error {
	if l.closed {
		return ErrClosed
	}
	if err := l.SetAlphas(render.Alphas{
		Selected:    st.SelectedAlpha,
		NotSelected: st.NotSelectedAlpha,
		Object:      st.ObjectAlpha,
	}); err != nil {
		return err
	}
	return l.auth.Reset(ctx, st.Snapshot())
}

// Close releases the chunk sources and the identity mirror together with
// their frontend halves.
func (l *Layer) Close(ctx context.Context) error {
	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	for _, s := range l.sources {
		if err := l.ep.Release(ctx, s.handle); err != nil && !errors.Is(err, counterpart.ErrClosed) {
			errs = append(errs, err)
		}
		s.res.Close()
	}
	l.sources = nil
	if err := l.auth.Close(ctx); err != nil && !errors.Is(err, counterpart.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DefaultColor derives a stable color from the representative.
func DefaultColor(rep segid.ID) [3]float32 {
	h := rep.Hash()
	return [3]float32{
		0.25 + 0.75*float32(h&0xff)/255,
		0.25 + 0.75*float32(h>>8&0xff)/255,
		0.25 + 0.75*float32(h>>16&0xff)/255,
	}
}
