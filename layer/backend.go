package layer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/hupe1980/segvis/blobstore"
	"github.com/hupe1980/segvis/chunk"
	"github.com/hupe1980/segvis/counterpart"
	"github.com/hupe1980/segvis/identity"
	"github.com/hupe1980/segvis/internal/resource"
)

// BackendOptions configures a Backend.
type BackendOptions struct {
	// Open resolves source locators. Defaults to blobstore.OpenLocator.
	Open func(ctx context.Context, locator string) (blobstore.BlobStore, error)
	// Controller bounds in-flight fetches and IO across all sources.
	Controller *resource.Controller
	// Memory is charged for cached decoded payloads across all sources.
	Memory     *resource.Controller
	CacheBytes int64
	RetryLimit int
	Logger     *slog.Logger
	Metrics    chunk.Metrics
}

// Backend builds the processing-context halves of layers: identity mirrors
// and the chunk sources they drive.
type Backend struct {
	opts BackendOptions
	log  *slog.Logger

	mu      sync.Mutex
	mirrors map[counterpart.Handle]*identity.Mirror
	sources map[counterpart.Handle]*chunk.Source
}

// NewBackend registers the mirror and chunk source factories on ep.
func NewBackend(ep *counterpart.Endpoint, optFns ...func(o *BackendOptions)) *Backend {
	opts := BackendOptions{
		Open:       blobstore.OpenLocator,
		CacheBytes: chunk.DefaultCacheBytes,
		RetryLimit: chunk.DefaultRetryLimit,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Controller == nil {
		opts.Controller = resource.NewController(resource.Config{MaxInFlight: chunk.DefaultMaxInFlight})
	}

	b := &Backend{
		opts:    opts,
		log:     opts.Logger,
		mirrors: make(map[counterpart.Handle]*identity.Mirror),
		sources: make(map[counterpart.Handle]*chunk.Source),
	}
	ep.Register(identity.Kind, identity.MirrorFactory(b.addMirror))
	ep.Register(chunk.Kind, b.newSource)
	return b
}

func (b *Backend) addMirror(h counterpart.Handle, m *identity.Mirror) {
	b.mu.Lock()
	b.mirrors[h] = m
	b.mu.Unlock()
	m.OnDispose(func() {
		b.mu.Lock()
		delete(b.mirrors, h)
		b.mu.Unlock()
	})
}

// Mirror returns the mirror registered under h.
func (b *Backend) Mirror(h counterpart.Handle) (*identity.Mirror, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.mirrors[h]
	return m, ok
}

// Source returns the chunk source registered under h. It must only be used
// from the processing context.
func (b *Backend) Source(h counterpart.Handle) (*chunk.Source, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sources[h]
	return s, ok
}

// Len returns the number of live mirrors and sources.
func (b *Backend) Len() (mirrors, sources int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.mirrors), len(b.sources)
}

func (b *Backend) newSource(ctx context.Context, ep *counterpart.Endpoint, h counterpart.Handle, decode func(v any) error) (counterpart.Object, error) {
	var init SourceInit
	if err := decode(&init); err != nil {
		return nil, fmt.Errorf("decode source: %w", err)
	}
	m, ok := b.Mirror(init.Mirror)
	if !ok {
		return nil, fmt.Errorf("no identity mirror %d", init.Mirror)
	}
	store, err := b.opts.Open(ctx, init.Locator)
	if err != nil {
		return nil, err
	}

	src := chunk.NewSource(ctx, store, ep.Remote(h), ep.Post, func(o *chunk.SourceOptions) {
		o.Kind = init.Kind
		o.Keys = chunk.FixedFragments(init.Fragments)
		o.RetryLimit = b.opts.RetryLimit
		o.CacheBytes = b.opts.CacheBytes
		o.Controller = b.opts.Controller
		o.Memory = b.opts.Memory
		o.WireCompression = init.Compression
		o.Logger = b.log.With("locator", init.Locator)
		o.Metrics = b.opts.Metrics
	})
	detach := m.OnChange(func() { src.SetNeeded(m.VisibleExpanded()) })
	src.SetNeeded(m.VisibleExpanded())

	b.mu.Lock()
	b.sources[h] = src
	b.mu.Unlock()

	return &sourceObject{Source: src, release: func() {
		detach()
		b.mu.Lock()
		delete(b.sources, h)
		b.mu.Unlock()
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
	}}, nil
}

// sourceObject ties a Source's lifetime to its counterpart handle.
type sourceObject struct {
	*chunk.Source
	release func()
}

func (s *sourceObject) Dispose() {
	s.Source.Close()
	s.release()
}
