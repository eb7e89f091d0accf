package resource

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the memory limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for reserved memory.
	// If 0, usage is only tracked.
	MemoryLimitBytes int64

	// MaxInFlight is the maximum number of concurrent fetches.
	// If 0, defaults to 1.
	MaxInFlight int64

	// IOLimitBytesPerSec caps fetched bytes per second.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages memory, fetch concurrency and IO throughput.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64
	memPeak atomic.Int64

	slots    *semaphore.Weighted
	inFlight atomic.Int64

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}

	c := &Controller{
		cfg:   cfg,
		slots: semaphore.NewWeighted(cfg.MaxInFlight),
	}

	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireMemory reserves bytes of memory.
// Returns ErrMemoryLimitExceeded if the limit would be exceeded.
// Non-blocking: callers evict and retry themselves.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}

	used := c.memUsed.Add(bytes)
	for {
		peak := c.memPeak.Load()
		if used <= peak || c.memPeak.CompareAndSwap(peak, used) {
			break
		}
	}
	return nil
}

// Fits reports whether a reservation of bytes could ever succeed.
func (c *Controller) Fits(bytes int64) bool {
	if c == nil || c.cfg.MemoryLimitBytes <= 0 {
		return true
	}
	return bytes <= c.cfg.MemoryLimitBytes
}

// ReleaseMemory releases reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryAvailable returns the bytes that can still be reserved, or
// math.MaxInt64 when memory is unlimited.
func (c *Controller) MemoryAvailable() int64 {
	if c == nil || c.cfg.MemoryLimitBytes <= 0 {
		return math.MaxInt64
	}
	return max(c.cfg.MemoryLimitBytes-c.memUsed.Load(), 0)
}

// MemoryPeak returns the highest reserved bytes seen so far.
func (c *Controller) MemoryPeak() int64 {
	if c == nil {
		return 0
	}
	return c.memPeak.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireSlot reserves a fetch slot, blocking while all are busy.
func (c *Controller) AcquireSlot(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inFlight.Add(1)
	return nil
}

// TryAcquireSlot reserves a fetch slot without blocking.
func (c *Controller) TryAcquireSlot() bool {
	if c == nil {
		return true
	}
	if !c.slots.TryAcquire(1) {
		return false
	}
	c.inFlight.Add(1)
	return true
}

// ReleaseSlot releases a fetch slot.
func (c *Controller) ReleaseSlot() {
	if c == nil {
		return
	}
	c.inFlight.Add(-1)
	c.slots.Release(1)
}

// InFlight returns the number of held fetch slots.
func (c *Controller) InFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

// MaxInFlight returns the configured number of fetch slots.
func (c *Controller) MaxInFlight() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MaxInFlight
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than the burst are split.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// TryAcquireIO attempts to acquire IO tokens without blocking.
func (c *Controller) TryAcquireIO(bytes int) bool {
	if c == nil || c.ioLimiter == nil {
		return true
	}
	return c.ioLimiter.AllowN(time.Now(), bytes)
}
