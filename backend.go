package segvis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/segvis/counterpart"
	"github.com/hupe1980/segvis/internal/resource"
	"github.com/hupe1980/segvis/layer"
	"github.com/hupe1980/segvis/transport"
)

// Backend is the processing context of a session: it owns the identity
// mirrors and chunk sources created by the frontend and runs their fetches.
type Backend struct {
	opts   options
	ep     *counterpart.Endpoint
	layers *layer.Backend
	fetch  *resource.Controller
	memory *resource.Controller

	closeOnce sync.Once
}

// BackendStats is a snapshot of the processing context.
type BackendStats struct {
	Mirrors       int
	Sources       int
	InFlight      int64
	CacheBytes    int64
	CacheBytesMax int64
}

// NewBackend creates the processing context on ch.
func NewBackend(ch transport.Channel, optFns ...Option) (*Backend, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.config.Validate(); err != nil {
		return nil, err
	}

	cfg := opts.config
	fetch := resource.NewController(resource.Config{
		MaxInFlight:        int64(cfg.MaxInFlight),
		IOLimitBytesPerSec: cfg.IOBytesPerSec,
	})
	memory := resource.NewController(resource.Config{MemoryLimitBytes: cfg.CPUCacheBytes})

	log := opts.logger.WithSide(counterpart.Backend.String())
	ep := counterpart.NewEndpoint(ch, counterpart.Backend, func(o *counterpart.Options) {
		o.Codec = opts.codec
		o.Logger = log.Logger
	})
	lb := layer.NewBackend(ep, func(o *layer.BackendOptions) {
		o.Open = opts.open
		o.Controller = fetch
		o.Memory = memory
		o.CacheBytes = cfg.CPUCacheBytes
		o.RetryLimit = cfg.RetryLimit
		o.Logger = log.Logger
		o.Metrics = opts.metricsCollector
	})

	return &Backend{
		opts:   opts,
		ep:     ep,
		layers: lb,
		fetch:  fetch,
		memory: memory,
	}, nil
}

// Serve processes frontend messages and fetch completions until ctx ends or
// the channel closes. A closed channel is a normal shutdown.
func (b *Backend) Serve(ctx context.Context) error {
	b.ep.Start(ctx)
	err := b.ep.Serve(ctx)
	if errors.Is(err, counterpart.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("segvis: backend: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the backend.
func (b *Backend) Stats() BackendStats {
	mirrors, sources := b.layers.Len()
	return BackendStats{
		Mirrors:       mirrors,
		Sources:       sources,
		InFlight:      b.fetch.InFlight(),
		CacheBytes:    b.memory.MemoryUsage(),
		CacheBytesMax: b.memory.MemoryPeak(),
	}
}

// Close disposes the remaining mirrors and sources and closes the channel.
// Call it after Serve returned.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() { err = b.ep.Close() })
	return err
}
