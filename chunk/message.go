package chunk

import (
	"context"
	"errors"
)

// Kind is the counterpart kind of a Source.
const Kind = "chunk.source"

// Methods exchanged between Source and Residency.
const (
	// MethodUpload carries an UploadBody to the Residency.
	MethodUpload = "upload"
	// MethodEvicted carries an EvictedBody to the Source.
	MethodEvicted = "evicted"
	// MethodRetry carries a RetryBody to the Source.
	MethodRetry = "retry"
)

// Reason explains why a chunk left GPU residency.
type Reason string

const (
	// ReasonEvicted means the chunk was reclaimed for budget.
	ReasonEvicted Reason = "evicted"
	// ReasonRejected means the chunk could not be made resident.
	ReasonRejected Reason = "rejected"
	// ReasonInvalid means the uploaded frame could not be decoded.
	ReasonInvalid Reason = "invalid"
	// ReasonReleased means the frontend dropped the chunk on request.
	ReasonReleased Reason = "released"
)

// UploadBody promotes a decoded chunk.
type UploadBody struct {
	Key   Key    `json:"key"`
	Frame []byte `json:"frame"`
}

// EvictedBody reports a chunk that is no longer GPU resident.
type EvictedBody struct {
	Key    Key    `json:"key"`
	Reason Reason `json:"reason"`
}

// RetryBody names rejected chunks the Residency now has room for.
type RetryBody struct {
	Keys []Key `json:"keys"`
}

// Sender delivers calls to the counterpart in the other context.
type Sender interface {
	Send(ctx context.Context, method string, body any) error
}

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("chunk: closed")

	// ErrPermanentlyFailed marks a chunk that exhausted its retries.
	ErrPermanentlyFailed = errors.New("chunk: permanently failed")

	// ErrOverBudget is returned when a chunk cannot fit the GPU budget.
	ErrOverBudget = errors.New("chunk: over GPU memory budget")
)
