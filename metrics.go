package segvis

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/segvis/chunk"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Chunk events are recorded by both execution contexts, so implementations
// must be safe for concurrent use.
type MetricsCollector interface {
	chunk.Metrics

	// RecordStateSave is called after each layer state persistence attempt.
	RecordStateSave(duration time.Duration, err error)

	// RecordFrame is called after each drawn frame.
	RecordFrame(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordChunkLoad(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordUpload(int64, error)                 {}
func (NoopMetricsCollector) RecordEviction(chunk.Reason)               {}
func (NoopMetricsCollector) RecordStateSave(time.Duration, error)      {}
func (NoopMetricsCollector) RecordFrame(time.Duration, error)          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ChunkLoads      atomic.Int64
	ChunkLoadErrors atomic.Int64
	ChunkLoadBytes  atomic.Int64
	ChunkLoadNanos  atomic.Int64
	Uploads         atomic.Int64
	UploadErrors    atomic.Int64
	UploadBytes     atomic.Int64
	Evictions       atomic.Int64
	Rejections      atomic.Int64
	InvalidChunks   atomic.Int64
	Releases        atomic.Int64
	StateSaves      atomic.Int64
	StateSaveErrors atomic.Int64
	Frames          atomic.Int64
	FrameErrors     atomic.Int64
	FrameNanos      atomic.Int64
}

// RecordChunkLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordChunkLoad(bytes int, duration time.Duration, err error) {
	b.ChunkLoads.Add(1)
	b.ChunkLoadNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ChunkLoadErrors.Add(1)
		return
	}
	b.ChunkLoadBytes.Add(int64(bytes))
}

// RecordUpload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpload(bytes int64, err error) {
	b.Uploads.Add(1)
	if err != nil {
		b.UploadErrors.Add(1)
		return
	}
	b.UploadBytes.Add(bytes)
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(reason chunk.Reason) {
	switch reason {
	case chunk.ReasonEvicted:
		b.Evictions.Add(1)
	case chunk.ReasonRejected:
		b.Rejections.Add(1)
	case chunk.ReasonInvalid:
		b.InvalidChunks.Add(1)
	case chunk.ReasonReleased:
		b.Releases.Add(1)
	}
}

// RecordStateSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStateSave(_ time.Duration, err error) {
	b.StateSaves.Add(1)
	if err != nil {
		b.StateSaveErrors.Add(1)
	}
}

// RecordFrame implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFrame(duration time.Duration, err error) {
	b.Frames.Add(1)
	b.FrameNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FrameErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ChunkLoads:        b.ChunkLoads.Load(),
		ChunkLoadErrors:   b.ChunkLoadErrors.Load(),
		ChunkLoadBytes:    b.ChunkLoadBytes.Load(),
		ChunkLoadAvgNanos: avg(b.ChunkLoadNanos.Load(), b.ChunkLoads.Load()),
		Uploads:           b.Uploads.Load(),
		UploadErrors:      b.UploadErrors.Load(),
		UploadBytes:       b.UploadBytes.Load(),
		Evictions:         b.Evictions.Load(),
		Rejections:        b.Rejections.Load(),
		InvalidChunks:     b.InvalidChunks.Load(),
		Releases:          b.Releases.Load(),
		StateSaves:        b.StateSaves.Load(),
		StateSaveErrors:   b.StateSaveErrors.Load(),
		Frames:            b.Frames.Load(),
		FrameErrors:       b.FrameErrors.Load(),
		FrameAvgNanos:     avg(b.FrameNanos.Load(), b.Frames.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ChunkLoads        int64
	ChunkLoadErrors   int64
	ChunkLoadBytes    int64
	ChunkLoadAvgNanos int64
	Uploads           int64
	UploadErrors      int64
	UploadBytes       int64
	Evictions         int64
	Rejections        int64
	InvalidChunks     int64
	Releases          int64
	StateSaves        int64
	StateSaveErrors   int64
	Frames            int64
	FrameErrors       int64
	FrameAvgNanos     int64
}
