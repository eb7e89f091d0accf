package render

import (
	"log/slog"
	"slices"

	"github.com/hupe1980/segvis/chunk"
	"github.com/hupe1980/segvis/gpu"
)

// PickAttachment is the color attachment holding pick values.
const PickAttachment = 1

// NewPickingFramebuffer returns a framebuffer with a color attachment, a
// pick attachment and depth.
func NewPickingFramebuffer(dev gpu.Device) *gpu.FramebufferConfiguration {
	return gpu.NewFramebufferConfiguration(dev, gpu.FramebufferSpec{
		Colors: []gpu.Format{gpu.FormatRGBA8, gpu.FormatRGBA8},
		Depth:  gpu.FormatDepth16,
	})
}

// Options configures a Coordinator.
type Options struct {
	Logger *slog.Logger
	// Background is the clear color.
	Background [4]float32
}

// Coordinator draws layers into framebuffers. It belongs to the
// interactive context.
type Coordinator struct {
	dev    gpu.Device
	clock  *chunk.Clock
	opts   Options
	log    *slog.Logger
	layers []Drawable
	picks  map[*gpu.FramebufferConfiguration]*PickRegistry
}

// NewCoordinator creates a coordinator. clock is shared with the chunk
// residencies of its layers.
func NewCoordinator(dev gpu.Device, clock *chunk.Clock, optFns ...func(o *Options)) *Coordinator {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		dev:   dev,
		clock: clock,
		opts:  opts,
		log:   opts.Logger,
		picks: make(map[*gpu.FramebufferConfiguration]*PickRegistry),
	}
}

// AddLayer appends d to the draw order.
func (c *Coordinator) AddLayer(d Drawable) {
	c.layers = append(c.layers, d)
}

// RemoveLayer removes every drawable named name and reports whether any
// was found.
func (c *Coordinator) RemoveLayer(name string) bool {
	n := len(c.layers)
	c.layers = slices.DeleteFunc(c.layers, func(d Drawable) bool { return d.Name() == name })
	return len(c.layers) != n
}

// Layers returns the drawables in draw order.
func (c *Coordinator) Layers() []Drawable {
	return slices.Clone(c.layers)
}

// BeginFrame starts a new frame. Chunks not drawn since the previous frame
// become eligible for eviction.
func (c *Coordinator) BeginFrame() uint64 {
	return c.clock.Advance()
}

// Draw renders one pass into fb. An incomplete framebuffer is returned as
// is; a failing layer is logged and skipped.
func (c *Coordinator) Draw(fb *gpu.FramebufferConfiguration, pass PassKind) error {
	picks := c.registry(fb)
	picks.Reset()

	if err := fb.Bind(); err != nil {
		return err
	}
	if err := c.dev.Clear(c.opts.Background); err != nil {
		return err
	}

	ctx := &Context{Pass: pass, Device: c.dev, Picks: picks, Frame: c.clock.Frame()}
	for _, d := range c.layers {
		if err := d.Draw(ctx); err != nil {
			c.log.Warn("layer draw failed", "layer", d.Name(), "pass", pass.String(), "error", err)
		}
	}
	return nil
}

// Frame begins a frame and draws each pass into its framebuffer.
func (c *Coordinator) Frame(targets map[PassKind]*gpu.FramebufferConfiguration) error {
	c.BeginFrame()
	for _, pass := range []PassKind{PassPerspective, PassSlice} {
		fb, ok := targets[pass]
		if !ok {
			continue
		}
		if err := c.Draw(fb, pass); err != nil {
			return err
		}
	}
	return nil
}

// Pick reads the pick value at (x, y) of fb and reverse-maps it using the
// registrations of the last Draw into fb.
func (c *Coordinator) Pick(fb *gpu.FramebufferConfiguration, x, y int) (Pick, bool, error) {
	v, err := fb.ReadPixelUint32(PickAttachment, x, y)
	if err != nil {
		return Pick{}, false, err
	}
	p, ok := c.registry(fb).Lookup(v)
	return p, ok, nil
}

// Forget drops the pick registrations of fb, typically before disposing it.
func (c *Coordinator) Forget(fb *gpu.FramebufferConfiguration) {
	delete(c.picks, fb)
}

func (c *Coordinator) registry(fb *gpu.FramebufferConfiguration) *PickRegistry {
	r, ok := c.picks[fb]
	if !ok {
		r = &PickRegistry{}
		c.picks[fb] = r
	}
	return r
}
