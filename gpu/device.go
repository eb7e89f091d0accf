package gpu

import "fmt"

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// RenderbufferID is an opaque handle to a renderbuffer.
type RenderbufferID uint64

// FramebufferID is an opaque handle to a framebuffer. 0 is the default
// framebuffer.
type FramebufferID uint64

// InvalidID is the zero value, representing no resource.
const InvalidID = 0

// BufferUsage specifies how a buffer will be bound.
type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
)

// Format is a surface pixel format.
type Format uint32

const (
	FormatRGBA8 Format = iota + 1
	FormatR32F
	FormatDepth16
)

// BytesPerPixel returns the storage size of one pixel.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8, FormatR32F:
		return 4
	case FormatDepth16:
		return 2
	default:
		return 0
	}
}

// IsDepth reports whether f is a depth format.
func (f Format) IsDepth() bool { return f == FormatDepth16 }

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatR32F:
		return "R32F"
	case FormatDepth16:
		return "DEPTH16"
	default:
		return fmt.Sprintf("Format(%d)", uint32(f))
	}
}

// AttachmentPoint names a framebuffer attachment slot.
type AttachmentPoint int

// AttachmentDepth is the depth slot. Color slots are ColorAttachment(i).
const AttachmentDepth AttachmentPoint = -1

// ColorAttachment returns the i-th color slot.
func ColorAttachment(i int) AttachmentPoint { return AttachmentPoint(i) }

// Attachment is either a texture or a renderbuffer.
type Attachment struct {
	Texture      TextureID
	Renderbuffer RenderbufferID
}

// FramebufferStatus is the result of a completeness check.
type FramebufferStatus int

const (
	StatusComplete FramebufferStatus = iota
	StatusIncompleteAttachment
	StatusMissingAttachment
	StatusIncompleteDimensions
	StatusUnsupported
)

func (s FramebufferStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusIncompleteAttachment:
		return "incomplete attachment"
	case StatusMissingAttachment:
		return "missing attachment"
	case StatusIncompleteDimensions:
		return "incomplete dimensions"
	case StatusUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("FramebufferStatus(%d)", int(s))
	}
}

// Primitive selects how indices are assembled.
type Primitive uint8

const (
	PrimitiveLines Primitive = iota + 1
	PrimitiveTriangles
)

// DrawCall is one indexed draw into the bound framebuffer.
type DrawCall struct {
	Primitive Primitive
	Vertices  BufferID
	Indices   BufferID
	// Count is the number of indices to draw.
	Count int
	// Color is RGBA in [0,1].
	Color [4]float32
	// PickID is written to the picking attachment, if the framebuffer has
	// one. 0 means nothing.
	PickID uint32
}

// Device is the explicit handle to a graphics context. All methods must be
// called from the context that owns the device.
type Device interface {
	CreateBuffer(size int, usage BufferUsage) (BufferID, error)
	WriteBuffer(id BufferID, offset int, data []byte) error
	DestroyBuffer(id BufferID)

	CreateTexture(width, height int, format Format) (TextureID, error)
	DestroyTexture(id TextureID)

	CreateRenderbuffer(width, height int, format Format) (RenderbufferID, error)
	DestroyRenderbuffer(id RenderbufferID)

	CreateFramebuffer() (FramebufferID, error)
	DestroyFramebuffer(id FramebufferID)
	Attach(fb FramebufferID, point AttachmentPoint, a Attachment) error
	BindFramebuffer(fb FramebufferID) error
	CheckFramebufferStatus(fb FramebufferID) FramebufferStatus

	// Clear fills every color attachment of the bound framebuffer.
	Clear(color [4]float32) error
	Draw(call DrawCall) error
	// ReadPixel reads one RGBA8 pixel of the bound framebuffer.
	ReadPixel(point AttachmentPoint, x, y int) ([4]byte, error)
}
