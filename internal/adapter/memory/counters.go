package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

var _ port.CounterStore = (*Counters)(nil)

type counterKey struct {
	key    string
	bucket string
}

// Counters is the in-memory windowed counter store. Clock is injectable so
// tests can move time.
type Counters struct {
	mu   sync.Mutex
	rows map[counterKey]*domain.RateCounter
	Now  func() time.Time
}

func NewCounters() *Counters {
	return &Counters{
		rows: make(map[counterKey]*domain.RateCounter),
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

func (c *Counters) IncrementAndGet(ctx context.Context, key, field string, windowMinutes int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	bucket := now.Format(domain.CounterBucketLayout)
	ck := counterKey{key, bucket}
	row, ok := c.rows[ck]
	if !ok {
		row = &domain.RateCounter{
			Key:         key,
			Bucket:      bucket,
			WindowStart: now,
			WindowEnd:   now.Add(time.Duration(windowMinutes) * time.Minute),
		}
		c.rows[ck] = row
	}
	row.UpdatedAt = now
	switch field {
	case "cancel_count":
		row.CancelCount++
		return row.CancelCount, nil
	default:
		row.Count++
		return row.Count, nil
	}
}

func (c *Counters) CurrentCount(ctx context.Context, key, field string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	var sum int64
	for _, row := range c.rows {
		if row.Key == key && row.WindowEnd.After(now) {
			sum += fieldValue(row, field)
		}
	}
	return sum, nil
}

func (c *Counters) CountInWindow(ctx context.Context, key, field string, windowMinutes int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	var sum int64
	for _, row := range c.rows {
		if row.Key == key && !row.WindowStart.Before(cutoff) {
			sum += fieldValue(row, field)
		}
	}
	return sum, nil
}

func (c *Counters) CleanupExpired(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.Now().Add(-time.Hour)
	var deleted int64
	for k, row := range c.rows {
		if row.WindowEnd.Before(cutoff) {
			delete(c.rows, k)
			deleted++
		}
	}
	return deleted, nil
}

func fieldValue(row *domain.RateCounter, field string) int64 {
	if field == "cancel_count" {
		return row.CancelCount
	}
	return row.Count
}
