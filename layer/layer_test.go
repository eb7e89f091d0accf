package layer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segvis/blobstore"
	"github.com/hupe1980/segvis/chunk"
	"github.com/hupe1980/segvis/codec"
	"github.com/hupe1980/segvis/counterpart"
	"github.com/hupe1980/segvis/geometry"
	"github.com/hupe1980/segvis/gpu/soft"
	"github.com/hupe1980/segvis/internal/resource"
	"github.com/hupe1980/segvis/render"
	"github.com/hupe1980/segvis/segid"
	"github.com/hupe1980/segvis/transport"
)

type harness struct {
	ctx     context.Context
	front   *counterpart.Endpoint
	backend *Backend
	dev     *soft.Device
	clock   *chunk.Clock
	budget  *resource.Controller

	mu       sync.Mutex
	statuses []error
}

func newHarness(t *testing.T, backendOpts ...func(o *BackendOptions)) *harness {
	t.Helper()
	a, b := transport.Pipe()
	front := counterpart.NewEndpoint(a, counterpart.Frontend)
	back := counterpart.NewEndpoint(b, counterpart.Backend)
	backend := NewBackend(back, backendOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	front.Start(ctx)
	back.Start(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = back.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = front.Close()
		_ = back.Close()
	})

	return &harness{
		ctx:     ctx,
		front:   front,
		backend: backend,
		dev:     soft.New(),
		clock:   &chunk.Clock{},
		budget:  resource.NewController(resource.Config{}),
	}
}

func (h *harness) options(o *Options) {
	o.Device = h.dev
	o.Clock = h.clock
	o.Budget = h.budget
	o.Status = StatusFunc(func(_ string, err error) {
		h.mu.Lock()
		h.statuses = append(h.statuses, err)
		h.mu.Unlock()
	})
}

func (h *harness) reported() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.statuses...)
}

func (h *harness) pollUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		require.False(t, time.Now().After(deadline), "condition not reached")
		if h.front.Poll(h.ctx) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

func putPoint(t *testing.T, store blobstore.BlobStore, id segid.ID, x, y float32) {
	t.Helper()
	p := &geometry.Payload{
		Kind:     geometry.KindMesh,
		Vertices: []float32{x, y, 0, x, y, 0, x, y, 0},
		Indices:  []uint32{0, 1, 2},
	}
	frame, err := geometry.Encode(p, geometry.CompressionZSTD)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), chunk.Key{Object: id}.Name(), frame))
}

func TestLayer_EndToEnd(t *testing.T) {
	h := newHarness(t)
	store := blobstore.Memory("layer-e2e")
	putPoint(t, store, 7, 3, 4)

	st := DefaultState()
	st.Mesh = "memory://layer-e2e"
	st.Segments = []segid.ID{5}
	l, err := New(h.ctx, "seg", h.front, st, h.options)
	require.NoError(t, err)
	require.Len(t, l.Residencies(), 1)

	changed, err := l.Merge(h.ctx, 5, 7)
	require.NoError(t, err)
	require.True(t, changed)

	res := l.Residencies()[0]
	h.pollUntil(t, func() bool { return res.Len() == 1 })

	coord := render.NewCoordinator(h.dev, h.clock)
	coord.AddLayer(l.PerspectiveView())
	fb := render.NewPickingFramebuffer(h.dev)
	defer fb.Dispose()
	require.NoError(t, fb.Resize(8, 8))

	coord.BeginFrame()
	require.NoError(t, coord.Draw(fb, render.PassPerspective))
	pick, ok, err := coord.Pick(fb, 3, 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, render.Pick{Layer: "seg", ID: 7}, pick)

	_, err = l.Deselect(h.ctx, 5)
	require.NoError(t, err)
	h.dev.ResetDraws()
	coord.BeginFrame()
	require.NoError(t, coord.Draw(fb, render.PassPerspective))
	assert.Empty(t, h.dev.Draws())

	require.NoError(t, l.Close(h.ctx))
	assert.Zero(t, h.dev.Stats().LiveBuffers())
	require.Eventually(t, func() bool {
		m, s := h.backend.Len()
		return m == 0 && s == 0
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, l.Close(h.ctx))
}

func TestLayer_MirrorFollowsAuthority(t *testing.T) {
	h := newHarness(t)
	st, err := ParseState([]byte(`{"segments": ["18446744073709551615"], "equivalences": []}`))
	require.NoError(t, err)

	l, err := New(h.ctx, "seg", h.front, st, h.options)
	require.NoError(t, err)
	defer l.Close(h.ctx)

	assert.True(t, l.Identity().HasVisible(segid.Max))
	mirror := l.Identity().Handle()
	require.Eventually(t, func() bool {
		m, ok := h.backend.Mirror(mirror)
		return ok && m.HasVisible(segid.Max)
	}, 5*time.Second, time.Millisecond)

	_, err = l.SetEquivalences(h.ctx, [][]segid.ID{{1, 2, 3}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		m, _ := h.backend.Mirror(mirror)
		return m.Get(3) == 1
	}, 5*time.Second, time.Millisecond)
}

func TestLayer_ToggleIsIdempotent(t *testing.T) {
	h := newHarness(t)
	st := DefaultState()
	st.Segments = []segid.ID{1, 2}
	st.Equivalences = [][]segid.ID{{2, 9}}
	l, err := New(h.ctx, "seg", h.front, st, h.options)
	require.NoError(t, err)
	defer l.Close(h.ctx)

	before, err := codec.Default.Marshal(l.State())
	require.NoError(t, err)

	for _, id := range []segid.ID{9, 1, segid.Max} {
		_, err = l.Toggle(h.ctx, id)
		require.NoError(t, err)
		_, err = l.Toggle(h.ctx, id)
		require.NoError(t, err)
	}

	after, err := codec.Default.Marshal(l.State())
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestLayer_StateRoundTrip(t *testing.T) {
	h := newHarness(t)
	in := `{"selectedAlpha":0.5,"notSelectedAlpha":0,"objectAlpha":1,
		"segments":["3","1"],"equivalences":[["7","1"],["7","4"]]}`
	st, err := ParseState([]byte(in))
	require.NoError(t, err)

	l, err := New(h.ctx, "seg", h.front, st, h.options)
	require.NoError(t, err)
	defer l.Close(h.ctx)

	out := l.State()
	assert.ElementsMatch(t, []segid.ID{1, 3}, out.Segments)

	// Same partition, regardless of pair order.
	back, err := ParseState(codec.MustMarshal(codec.Default, out))
	require.NoError(t, err)
	l2, err := New(h.ctx, "seg2", h.front, back, h.options)
	require.NoError(t, err)
	defer l2.Close(h.ctx)
	assert.True(t, l.Identity().Equal(l2.Identity().State))
}

func TestLayer_ResolutionFailureIsReported(t *testing.T) {
	h := newHarness(t)
	st := DefaultState()
	st.Mesh = "bogus://nowhere"
	st.Source = "memory://layer-volume"
	require.NoError(t, blobstore.Memory("layer-volume").Put(context.Background(), InfoName, []byte(`{"type":"segmentation"}`)))

	l, err := New(h.ctx, "seg", h.front, st, h.options)
	require.NoError(t, err)
	defer l.Close(h.ctx)

	assert.Empty(t, l.Residencies())
	require.NotNil(t, l.Volume())
	assert.JSONEq(t, `{"type":"segmentation"}`, string(l.Volume().Info))

	reported := h.reported()
	require.Len(t, reported, 1)
	var re *ResolveError
	require.ErrorAs(t, reported[0], &re)
	assert.Equal(t, "mesh", re.Kind)
	assert.Len(t, l.Errors(), 1)

	// The layer still works without the mesh.
	_, err = l.Select(h.ctx, 4)
	require.NoError(t, err)
}

func TestLayer_BackendSourceFailureIsReported(t *testing.T) {
	h := newHarness(t, func(o *BackendOptions) {
		o.Open = func(context.Context, string) (blobstore.BlobStore, error) {
			return nil, errors.New("access denied")
		}
	})
	st := DefaultState()
	st.Skeletons = "memory://layer-denied"

	l, err := New(h.ctx, "seg", h.front, st, h.options)
	require.NoError(t, err)
	defer l.Close(h.ctx)
	require.Len(t, l.Residencies(), 1)

	h.pollUntil(t, func() bool { return len(h.reported()) == 1 })
	assert.Contains(t, h.reported()[0].Error(), "access denied")
	assert.Error(t, l.Residencies()[0].Err())
}

func TestLayer_InfoConfiguresFragments(t *testing.T) {
	h := newHarness(t)
	store := blobstore.Memory("layer-fragments")
	require.NoError(t, store.Put(context.Background(), InfoName, []byte(`{"fragments":2,"compression":"lz4"}`)))
	for f := range uint32(2) {
		p := &geometry.Payload{Kind: geometry.KindSkeleton, Vertices: []float32{0, 0, 0, 1, 1, 0}, Indices: []uint32{0, 1}}
		frame, err := geometry.Encode(p, geometry.CompressionNone)
		require.NoError(t, err)
		require.NoError(t, store.Put(context.Background(), chunk.Key{Object: 4, Fragment: f}.Name(), frame))
	}

	st := DefaultState()
	st.Skeletons = "memory://layer-fragments"
	st.Segments = []segid.ID{4}
	l, err := New(h.ctx, "seg", h.front, st, h.options)
	require.NoError(t, err)
	defer l.Close(h.ctx)

	res := l.Residencies()[0]
	assert.Equal(t, geometry.KindSkeleton, res.Kind())
	h.pollUntil(t, func() bool { return res.Len() == 2 })
}

func TestLayer_ResolveCanceled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(h.ctx)
	cancel()

	st := DefaultState()
	st.Mesh = "memory://layer-canceled"
	_, err := New(ctx, "seg", h.front, st, h.options)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLayer_RequiresDevice(t *testing.T) {
	h := newHarness(t)
	_, err := New(h.ctx, "seg", h.front, DefaultState())
	require.Error(t, err)
}

func TestLayer_SetAlphas(t *testing.T) {
	h := newHarness(t)
	l, err := New(h.ctx, "seg", h.front, DefaultState(), h.options)
	require.NoError(t, err)
	defer l.Close(h.ctx)

	require.Error(t, l.SetAlphas(render.Alphas{Object: 1.5}))
	require.NoError(t, l.SetAlphas(render.Alphas{Selected: 0.2, Object: 0.3}))
	assert.InDelta(t, 0.3, l.State().ObjectAlpha, 1e-6)
}

func TestLayer_Restore(t *testing.T) {
	h := newHarness(t)
	l, err := New(h.ctx, "seg", h.front, DefaultState(), h.options)
	require.NoError(t, err)

	st := DefaultState()
	st.Segments = []segid.ID{8}
	require.NoError(t, l.Restore(h.ctx, st))
	mirror := l.Identity().Handle()
	require.Eventually(t, func() bool {
		m, ok := h.backend.Mirror(mirror)
		return ok && m.HasVisible(8)
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, l.Close(h.ctx))
	assert.ErrorIs(t, l.Restore(h.ctx, st), ErrClosed)
}

func TestDefaultColor(t *testing.T) {
	a := DefaultColor(5)
	assert.Equal(t, a, DefaultColor(5))
	for _, c := range a {
		assert.GreaterOrEqual(t, c, float32(0.25))
		assert.LessOrEqual(t, c, float32(1))
	}
}

func TestBlobResolver_Defaults(t *testing.T) {
	ctx := context.Background()
	r := BlobResolver{Fragments: 3, Compression: geometry.CompressionLZ4}

	src, err := r.ResolveSkeleton(ctx, "memory://resolver-defaults")
	require.NoError(t, err)
	assert.Equal(t, GeometrySource{
		Locator:     "memory://resolver-defaults",
		Kind:        geometry.KindSkeleton,
		Fragments:   3,
		Compression: geometry.CompressionLZ4,
	}, *src)

	require.NoError(t, blobstore.Memory("resolver-info").Put(ctx, InfoName, []byte(`{"fragments":2,"compression":"zstd"}`)))
	src, err = r.ResolveMesh(ctx, "memory://resolver-info")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), src.Fragments)
	assert.Equal(t, geometry.CompressionZSTD, src.Compression)

	src, err = BlobResolver{}.ResolveMesh(ctx, "memory://resolver-defaults")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), src.Fragments)
	assert.Equal(t, geometry.CompressionNone, src.Compression)
}
