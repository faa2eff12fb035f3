package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

var _ port.CounterStore = (*Counters)(nil)

// Counters is the Postgres-backed windowed counter store. Increments are
// atomic upserts so concurrent requests on the same key never lose updates.
type Counters struct {
	pool *pgxpool.Pool
}

func NewCounters(pool *pgxpool.Pool) *Counters {
	return &Counters{pool: pool}
}

func counterColumn(field string) (string, error) {
	switch field {
	case "count", "cancel_count":
		return field, nil
	}
	return "", fmt.Errorf("pg: unknown counter field %q", field)
}

func (c *Counters) IncrementAndGet(ctx context.Context, key, field string, windowMinutes int) (int64, error) {
	col, err := counterColumn(field)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	bucket := now.Format(domain.CounterBucketLayout)

	var value int64
	err = c.pool.QueryRow(ctx, fmt.Sprintf(`
INSERT INTO rate_limit_counters (key, bucket, %[1]s, window_start, window_end, updated_at)
VALUES ($1, $2, 1, $3, $4, $3)
ON CONFLICT (key, bucket) DO UPDATE SET
  %[1]s = rate_limit_counters.%[1]s + 1,
  updated_at = $3
RETURNING %[1]s`, col),
		key, bucket, now, now.Add(time.Duration(windowMinutes)*time.Minute)).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (c *Counters) CurrentCount(ctx context.Context, key, field string) (int64, error) {
	col, err := counterColumn(field)
	if err != nil {
		return 0, err
	}
	var sum int64
	err = c.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT COALESCE(SUM(%s), 0) FROM rate_limit_counters
WHERE key = $1 AND window_end > now()`, col), key).Scan(&sum)
	return sum, err
}

func (c *Counters) CountInWindow(ctx context.Context, key, field string, windowMinutes int) (int64, error) {
	col, err := counterColumn(field)
	if err != nil {
		return 0, err
	}
	var sum int64
	err = c.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT COALESCE(SUM(%s), 0) FROM rate_limit_counters
WHERE key = $1 AND window_start >= now() - make_interval(mins => $2)`, col), key, windowMinutes).Scan(&sum)
	return sum, err
}

func (c *Counters) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := c.pool.Exec(ctx, `
DELETE FROM rate_limit_counters WHERE window_end < now() - interval '1 hour'`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
