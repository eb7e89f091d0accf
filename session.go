package segvis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/segvis/chunk"
	"github.com/hupe1980/segvis/counterpart"
	"github.com/hupe1980/segvis/gpu"
	"github.com/hupe1980/segvis/gpu/soft"
	"github.com/hupe1980/segvis/internal/resource"
	"github.com/hupe1980/segvis/layer"
	"github.com/hupe1980/segvis/render"
	"github.com/hupe1980/segvis/transport"
)

// Session is the interactive context: it owns the layers, their GPU
// residencies and the render coordinator. It is not safe for concurrent
// use; drive it from one goroutine, calling Frame once per displayed frame.
type Session struct {
	opts   options
	log    *Logger
	ep     *counterpart.Endpoint
	dev    gpu.Device
	budget *resource.Controller
	clock  *chunk.Clock
	coord  *render.Coordinator

	layers map[string]*sessionLayer
	order  []string
	closed bool
}

type sessionLayer struct {
	*layer.Layer
	version int64
	saved   []byte
	dirty   bool
	detach  func()
}

// NewSession creates the interactive context on ch. The peer of ch must be
// served by a Backend. ctx bounds the reader goroutine of the channel.
func NewSession(ctx context.Context, ch transport.Channel, optFns ...Option) (*Session, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.config.Validate(); err != nil {
		return nil, err
	}
	if opts.device == nil {
		opts.device = soft.New()
	}
	if opts.resolver == nil {
		compression, _ := opts.config.Compression()
		opts.resolver = layer.BlobResolver{
			Open:        opts.open,
			Fragments:   opts.config.Fragments,
			Compression: compression,
		}
	}

	log := opts.logger.WithSide(counterpart.Frontend.String())
	ep := counterpart.NewEndpoint(ch, counterpart.Frontend, func(o *counterpart.Options) {
		o.Codec = opts.codec
		o.Logger = log.Logger
	})
	ep.Start(ctx)

	clock := &chunk.Clock{}
	return &Session{
		opts:   opts,
		log:    log,
		ep:     ep,
		dev:    opts.device,
		budget: resource.NewController(resource.Config{MemoryLimitBytes: opts.config.GPUMemoryBytes}),
		clock:  clock,
		coord: render.NewCoordinator(opts.device, clock, func(o *render.Options) {
			o.Logger = log.Logger
			o.Background = opts.background
		}),
		layers: make(map[string]*sessionLayer),
	}, nil
}

// Device returns the GPU device layers draw with.
func (s *Session) Device() gpu.Device { return s.dev }

// GPUMemoryUsage returns the bytes of chunk buffers currently resident.
func (s *Session) GPUMemoryUsage() int64 { return s.budget.MemoryUsage() }

// NewFramebuffer returns a framebuffer with color, pick and depth
// attachments. Call Resize before the first Frame.
func (s *Session) NewFramebuffer() *gpu.FramebufferConfiguration {
	return render.NewPickingFramebuffer(s.dev)
}

// OpenLayer creates a layer named name from st and adds it to the draw
// order. Sub-resources that fail to resolve are reported to the status sink
// and the layer opens without them.
func (s *Session) OpenLayer(ctx context.Context, name string, st layer.State) (*layer.Layer, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.layers[name]; ok {
		return nil, &LayerError{Layer: name, Op: "open", Err: ErrLayerExists}
	}

	l, err := layer.New(ctx, name, s.ep, st, func(o *layer.Options) {
		o.Resolver = s.opts.resolver
		o.Status = layer.StatusFunc(s.status)
		o.ColorFor = s.opts.colorFor
		o.Device = s.dev
		o.Budget = s.budget
		o.Clock = s.clock
		o.Peers = s.residencies
		o.Logger = s.log.Logger
		o.Metrics = s.opts.metricsCollector
	})
	if err != nil {
		s.log.LogLayerOpen(ctx, name, 0, err)
		return nil, &LayerError{Layer: name, Op: "open", Err: err}
	}
	s.log.LogLayerOpen(ctx, name, len(l.Residencies()), nil)

	sl := &sessionLayer{Layer: l}
	sl.detach = l.OnChange(func() { sl.dirty = true })
	s.layers[name] = sl
	s.order = append(s.order, name)
	s.coord.AddLayer(l.PerspectiveView())
	s.coord.AddLayer(l.SliceView())
	return l, nil
}

// LoadLayer opens the layer persisted under name. Fields of the stored
// state that fail to parse are reported to the status sink and left at
// their defaults.
func (s *Session) LoadLayer(ctx context.Context, name string) (*layer.Layer, error) {
	if s.opts.stateStore == nil {
		return nil, ErrNoStateStore
	}
	data, version, err := s.opts.stateStore.Get(ctx, s.stateKey(name))
	if err != nil {
		return nil, &LayerError{Layer: name, Op: "load", Err: err}
	}

	st, parseErr := layer.ParseState(data)
	if parseErr != nil {
		var fe *layer.FieldError
		if !errors.As(parseErr, &fe) {
			return nil, &LayerError{Layer: name, Op: "load", Err: parseErr}
		}
		s.status(name, parseErr)
	}

	l, err := s.OpenLayer(ctx, name, st)
	if err != nil {
		return nil, err
	}
	sl := s.layers[name]
	sl.version, sl.saved = version, data
	if parseErr == nil {
		// A partially restored layer keeps the stored bytes and is
		// rewritten on the next Flush.
		if canonical, err := s.opts.codec.Marshal(l.State()); err == nil {
			sl.saved = canonical
		}
	}
	return l, nil
}

// Layer returns the layer named name.
func (s *Session) Layer(name string) (*layer.Layer, bool) {
	sl, ok := s.layers[name]
	if !ok {
		return nil, false
	}
	return sl.Layer, true
}

// Layers returns the layer names in draw order.
func (s *Session) Layers() []string { return slices.Clone(s.order) }

// CloseLayer removes the layer from the draw order and releases its
// frontend and backend resources.
func (s *Session) CloseLayer(ctx context.Context, name string) error {
	sl, ok := s.layers[name]
	if !ok {
		return &LayerError{Layer: name, Op: "close", Err: ErrUnknownLayer}
	}
	delete(s.layers, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	s.coord.RemoveLayer(name)
	sl.detach()

	err := sl.Close(ctx)
	s.log.LogLayerClose(ctx, name, err)
	if err != nil {
		return &LayerError{Layer: name, Op: "close", Err: err}
	}
	return nil
}

// Poll applies pending messages from the backend, such as uploaded chunks,
// without blocking, and returns how many were handled.
func (s *Session) Poll(ctx context.Context) int {
	return s.ep.Poll(ctx)
}

// Frame polls the backend, begins a frame and draws each pass into its
// framebuffer. An incomplete framebuffer is returned as a fatal error.
func (s *Session) Frame(ctx context.Context, targets map[render.PassKind]*gpu.FramebufferConfiguration) error {
	if s.closed {
		return ErrClosed
	}
	start := time.Now()
	s.Poll(ctx)
	err := s.coord.Frame(targets)
	s.opts.metricsCollector.RecordFrame(time.Since(start), err)
	if err != nil {
		return err
	}
	for _, name := range s.order {
		if rerr := s.layers[name].Retry(ctx); rerr != nil {
			s.log.Warn("retrying deferred chunks failed", "layer", name, "error", rerr)
		}
	}
	return nil
}

// residencies returns the chunk residencies of every open layer.
func (s *Session) residencies() []*chunk.Residency {
	var out []*chunk.Residency
	for _, name := range s.order {
		out = append(out, s.layers[name].Residencies()...)
	}
	return out
}

// Pick returns the layer and segment drawn at (x, y) of fb in the last
// frame.
func (s *Session) Pick(fb *gpu.FramebufferConfiguration, x, y int) (render.Pick, bool, error) {
	return s.coord.Pick(fb, x, y)
}

// Forget drops the pick registrations of fb, typically before disposing it.
func (s *Session) Forget(fb *gpu.FramebufferConfiguration) { s.coord.Forget(fb) }

// Flush persists every layer whose state changed since it was last saved
// or loaded. A layer saved concurrently by another session fails with
// ErrConcurrentModification and stays dirty.
func (s *Session) Flush(ctx context.Context) error {
	if s.opts.stateStore == nil {
		return ErrNoStateStore
	}
	var errs []error
	for _, name := range s.order {
		if err := s.save(ctx, name, s.layers[name]); err != nil {
			errs = append(errs, &LayerError{Layer: name, Op: "save", Err: err})
		}
	}
	return errors.Join(errs...)
}

func (s *Session) save(ctx context.Context, name string, sl *sessionLayer) error {
	data, err := s.opts.codec.Marshal(sl.State())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if !sl.dirty && bytes.Equal(data, sl.saved) {
		return nil
	}

	start := time.Now()
	version, err := s.opts.stateStore.Put(ctx, s.stateKey(name), data, sl.version)
	s.opts.metricsCollector.RecordStateSave(time.Since(start), err)
	s.log.LogStateSave(ctx, name, version, err)
	if err != nil {
		return err
	}
	sl.version, sl.saved, sl.dirty = version, data, false
	return nil
}

// Close flushes dirty layers if a state store is configured, then closes
// every layer and the channel. The returned error joins every failure.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	var errs []error
	if s.opts.stateStore != nil {
		errs = append(errs, s.Flush(ctx))
	}
	for _, name := range slices.Clone(s.order) {
		errs = append(errs, s.CloseLayer(ctx, name))
	}
	s.closed = true
	errs = append(errs, s.ep.Close())
	return errors.Join(errs...)
}

func (s *Session) stateKey(name string) string {
	return s.opts.statePrefix + name
}

func (s *Session) status(name string, err error) {
	s.log.LogStatus(context.Background(), name, err)
	if s.opts.status != nil {
		s.opts.status.Status(name, err)
	}
}

// NewLocal connects a Session and a Backend over an in-process pipe and
// serves the backend on its own goroutine until ctx ends or the session
// closes. Wait for the returned channel before exiting to let the backend
// release its sources.
func NewLocal(ctx context.Context, optFns ...Option) (*Session, <-chan error, error) {
	front, back := transport.Pipe()
	b, err := NewBackend(back, optFns...)
	if err != nil {
		return nil, nil, err
	}
	s, err := NewSession(ctx, front, optFns...)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}

	done := make(chan error, 1)
	go func() {
		err := b.Serve(ctx)
		done <- errors.Join(err, b.Close())
	}()
	return s, done, nil
}
