// Package resource bounds the shared resources of a chunk pipeline.
//
// A Controller governs three budgets:
//
//   - Memory: bytes of GPU (or CPU cache) memory, non-blocking and fail-fast
//   - Slots: concurrent fetches in flight
//   - IO: a token bucket limiting fetched bytes per second
//
// Memory reservations never block. Callers that fail to reserve decide
// themselves whether to evict and retry:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 256 << 20})
//	if err := rc.AcquireMemory(size); errors.Is(err, resource.ErrMemoryLimitExceeded) {
//	    // evict, then retry
//	}
//	defer rc.ReleaseMemory(size)
//
// A nil *Controller is valid and imposes no limits.
package resource
