package segvis

import (
	"context"

	"github.com/hupe1980/segvis/blobstore"
	"github.com/hupe1980/segvis/codec"
	"github.com/hupe1980/segvis/config"
	"github.com/hupe1980/segvis/gpu"
	"github.com/hupe1980/segvis/layer"
	"github.com/hupe1980/segvis/segid"
	"github.com/hupe1980/segvis/statestore"
)

type options struct {
	config           config.Config
	codec            codec.Codec
	logger           *Logger
	metricsCollector MetricsCollector
	device           gpu.Device
	resolver         layer.Resolver
	status           layer.StatusSink
	colorFor         func(segid.ID) [3]float32
	open             func(ctx context.Context, locator string) (blobstore.BlobStore, error)
	stateStore       statestore.Store
	statePrefix      string
	background       [4]float32
}

func defaultOptions() options {
	return options{
		config:           config.Default(),
		codec:            codec.Default,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		open:             blobstore.OpenLocator,
		statePrefix:      "layers/",
	}
}

// Option configures a Session or a Backend.
type Option func(*options)

// WithConfig replaces the tuning limits, typically loaded with config.Load.
func WithConfig(c config.Config) Option {
	return func(o *options) {
		o.config = c
	}
}

// WithCodec configures the codec used for messages between the execution
// contexts. Both sides must use the same codec.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithDevice sets the GPU device of a session. Defaults to a gpu/soft
// device.
func WithDevice(dev gpu.Device) Option {
	return func(o *options) {
		o.device = dev
	}
}

// WithResolver sets how a session resolves the data sources named in layer
// states. Defaults to a layer.BlobResolver over the locator opener.
func WithResolver(r layer.Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithStatus sets the sink for user-facing layer status messages.
func WithStatus(s layer.StatusSink) Option {
	return func(o *options) {
		o.status = s
	}
}

// WithColorFor sets the color of each representative.
func WithColorFor(fn func(rep segid.ID) [3]float32) Option {
	return func(o *options) {
		o.colorFor = fn
	}
}

// WithBlobOpener sets how locators are opened. Defaults to
// blobstore.OpenLocator.
func WithBlobOpener(fn func(ctx context.Context, locator string) (blobstore.BlobStore, error)) Option {
	return func(o *options) {
		if fn == nil {
			fn = blobstore.OpenLocator
		}
		o.open = fn
	}
}

// WithStateStore enables layer state persistence. States are stored under
// prefix + layer name.
func WithStateStore(s statestore.Store, prefix string) Option {
	return func(o *options) {
		o.stateStore = s
		o.statePrefix = prefix
	}
}

// WithBackground sets the clear color of drawn frames.
func WithBackground(rgba [4]float32) Option {
	return func(o *options) {
		o.background = rgba
	}
}
