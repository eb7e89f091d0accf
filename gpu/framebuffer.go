package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FramebufferSpec describes the attachments of a framebuffer.
type FramebufferSpec struct {
	// Colors lists the color attachment formats in slot order.
	Colors []Format
	// Depth adds a depth renderbuffer when set.
	Depth Format
}

// FramebufferConfiguration is a framebuffer together with the surfaces
// attached to it.
type FramebufferConfiguration struct {
	dev    Device
	spec   FramebufferSpec
	fb     FramebufferID
	colors []*Texture
	depth  *Renderbuffer

	width, height int

	validated bool
	status    FramebufferStatus
	disposed  bool
}

// NewFramebufferConfiguration builds the attachment surfaces. The device
// framebuffer is created on the first Resize.
func NewFramebufferConfiguration(dev Device, spec FramebufferSpec) *FramebufferConfiguration {
	c := &FramebufferConfiguration{dev: dev, spec: spec}
	for _, f := range spec.Colors {
		c.colors = append(c.colors, NewTexture(dev, f))
	}
	if spec.Depth != 0 {
		c.depth = NewRenderbuffer(dev, spec.Depth)
	}
	return c
}

// Size returns the current dimensions.
func (c *FramebufferConfiguration) Size() (width, height int) { return c.width, c.height }

// ID returns the device framebuffer.
func (c *FramebufferConfiguration) ID() FramebufferID { return c.fb }

// Resize resizes every attachment and re-attaches those that were
// reallocated. Resizing to the current size touches nothing. The cached
// completeness result is kept.
func (c *FramebufferConfiguration) Resize(width, height int) error {
	if c.disposed {
		return ErrDisposed
	}
	if c.fb == InvalidID {
		fb, err := c.dev.CreateFramebuffer()
		if err != nil {
			return err
		}
		c.fb = fb
	}
	if width == c.width && height == c.height {
		return nil
	}

	for i, t := range c.colors {
		changed, err := t.Resize(width, height)
		if err != nil {
			return fmt.Errorf("gpu: resize color attachment %d: %w", i, err)
		}
		if changed {
			if err := c.dev.Attach(c.fb, ColorAttachment(i), Attachment{Texture: t.ID()}); err != nil {
				return err
			}
		}
	}
	if c.depth != nil {
		changed, err := c.depth.Resize(width, height)
		if err != nil {
			return fmt.Errorf("gpu: resize depth attachment: %w", err)
		}
		if changed {
			if err := c.dev.Attach(c.fb, AttachmentDepth, Attachment{Renderbuffer: c.depth.ID()}); err != nil {
				return err
			}
		}
	}
	c.width, c.height = width, height
	return nil
}

// Bind makes the framebuffer current. Completeness is checked on the first
// bind only; an incomplete framebuffer yields *FramebufferIncompleteError on
// this and every later bind.
func (c *FramebufferConfiguration) Bind() error {
	if c.disposed {
		return ErrDisposed
	}
	if c.fb == InvalidID {
		if err := c.Resize(c.width, c.height); err != nil {
			return err
		}
	}
	if err := c.dev.BindFramebuffer(c.fb); err != nil {
		return err
	}
	if !c.validated {
		c.status = c.dev.CheckFramebufferStatus(c.fb)
		c.validated = true
	}
	if c.status != StatusComplete {
		return &FramebufferIncompleteError{Status: c.status, Width: c.width, Height: c.height}
	}
	return nil
}

// ReadPixelUint32 binds the framebuffer and reads one pixel of color
// attachment i as a little-endian packed uint32. Only RGBA8 attachments can
// be read.
func (c *FramebufferConfiguration) ReadPixelUint32(i, x, y int) (uint32, error) {
	if i < 0 || i >= len(c.spec.Colors) {
		return 0, fmt.Errorf("gpu: no color attachment %d", i)
	}
	if f := c.spec.Colors[i]; f != FormatRGBA8 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if err := c.Bind(); err != nil {
		return 0, err
	}
	px, err := c.dev.ReadPixel(ColorAttachment(i), x, y)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(px[:]), nil
}

// Dispose releases the framebuffer and all attachments.
func (c *FramebufferConfiguration) Dispose() {
	if c.disposed {
		return
	}
	c.disposed = true
	for _, t := range c.colors {
		t.Dispose()
	}
	if c.depth != nil {
		c.depth.Dispose()
	}
	if c.fb != InvalidID {
		c.dev.DestroyFramebuffer(c.fb)
		c.fb = InvalidID
	}
}

// IsIncomplete reports whether err is a framebuffer completeness failure.
func IsIncomplete(err error) bool {
	var fe *FramebufferIncompleteError
	return errors.As(err, &fe)
}

// PackPick encodes a pick value as an RGBA8 color.
func PackPick(v uint32) [4]float32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return [4]float32{float32(b[0]) / 255, float32(b[1]) / 255, float32(b[2]) / 255, float32(b[3]) / 255}
}
