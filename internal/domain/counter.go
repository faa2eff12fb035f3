package domain

import "time"

// CounterBucketLayout formats the minute-granularity bucket key derived from
// wall-clock time.
const CounterBucketLayout = "2006-01-02-15-04"

// RateCounter is one (key, time-bucket) row of the windowed counters backing
// spam detection. Count and CancelCount are incremented atomically by the
// counter store; there is no read-modify-write path.
type RateCounter struct {
	Key         string
	Bucket      string
	Count       int64
	CancelCount int64
	WindowStart time.Time
	WindowEnd   time.Time
	UpdatedAt   time.Time
}
