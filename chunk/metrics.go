package chunk

import "time"

// Metrics receives chunk lifecycle events.
type Metrics interface {
	// RecordChunkLoad is called after each fetch and decode.
	RecordChunkLoad(bytes int, duration time.Duration, err error)
	// RecordUpload is called after each GPU upload attempt.
	RecordUpload(bytes int64, err error)
	// RecordEviction is called whenever a chunk leaves GPU residency.
	RecordEviction(reason Reason)
}

type noopMetrics struct{}

func (noopMetrics) RecordChunkLoad(int, time.Duration, error) {}
func (noopMetrics) RecordUpload(int64, error)                 {}
func (noopMetrics) RecordEviction(Reason)                     {}
