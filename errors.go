package segvis

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segvis/chunk"
	"github.com/hupe1980/segvis/counterpart"
	"github.com/hupe1980/segvis/gpu"
	"github.com/hupe1980/segvis/layer"
	"github.com/hupe1980/segvis/statestore"
)

var (
	// ErrClosed is returned by operations on a closed session or backend.
	ErrClosed = errors.New("segvis: closed")

	// ErrLayerExists is returned when a layer name is already in use.
	ErrLayerExists = errors.New("segvis: layer exists")

	// ErrUnknownLayer is returned for layer names the session does not hold.
	ErrUnknownLayer = errors.New("segvis: unknown layer")

	// ErrNoStateStore is returned by persistence calls on a session without
	// a state store.
	ErrNoStateStore = errors.New("segvis: no state store")
)

// Re-exported errors of the packages a session wires together.
var (
	ErrPermanentlyFailed      = chunk.ErrPermanentlyFailed
	ErrOverBudget             = chunk.ErrOverBudget
	ErrUnknownHandle          = counterpart.ErrUnknownHandle
	ErrConcurrentModification = statestore.ErrConcurrentModification
	ErrStateNotFound          = statestore.ErrNotFound
)

// LayerError reports a failed operation on a named layer.
//
// The underlying error can be accessed via errors.Unwrap.
type LayerError struct {
	Layer string
	Op    string
	Err   error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("segvis: %s layer %q: %v", e.Op, e.Layer, e.Err)
}

func (e *LayerError) Unwrap() error { return e.Err }

// IsFatal reports whether err leaves the session unable to draw. Framebuffer
// incompleteness is fatal; sub-resource failures are not.
func IsFatal(err error) bool {
	return gpu.IsIncomplete(err) || errors.Is(err, ErrClosed)
}

// IsResolveFailure reports whether err is a data source that could not be
// resolved or loaded.
func IsResolveFailure(err error) bool {
	var re *layer.ResolveError
	return errors.As(err, &re)
}
