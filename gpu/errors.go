package gpu

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed is returned by surfaces used after Dispose.
	ErrDisposed = errors.New("gpu: surface disposed")

	// ErrUnsupportedFormat is returned by readback from non-RGBA8 surfaces.
	ErrUnsupportedFormat = errors.New("gpu: unsupported format")

	// ErrInvalidSize is returned for negative dimensions.
	ErrInvalidSize = errors.New("gpu: invalid size")
)

// FramebufferIncompleteError reports a framebuffer that failed its
// completeness check. It is not recoverable: the configuration is wrong.
type FramebufferIncompleteError struct {
	Status FramebufferStatus
	Width  int
	Height int
}

func (e *FramebufferIncompleteError) Error() string {
	return fmt.Sprintf("gpu: framebuffer incomplete (%s) at %dx%d", e.Status, e.Width, e.Height)
}
