package port

import (
	"context"
	"time"
)

// BookSnapshot is the cached, display-oriented view of one symbol's book.
type BookSnapshot struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// BookLevel is one displayed order: price, remaining amount and their product.
type BookLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Total  string `json:"total"`
}

type BookCache interface {
	SetOrderbook(ctx context.Context, symbol string, ob *BookSnapshot) error
	// GetOrderbook returns (nil, nil) on a cache miss.
	GetOrderbook(ctx context.Context, symbol string) (*BookSnapshot, error)
	Invalidate(ctx context.Context, symbol string) error
}

// CooldownCache gates repeated alerts. Acquire returns true when the key was
// free and is now held for ttl; false while a previous hold is still active.
type CooldownCache interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// CounterStore is the windowed atomic counter backing spam detection.
// Increments must be atomic upserts: concurrent callers on the same key must
// not lose updates.
type CounterStore interface {
	// IncrementAndGet bumps field ("count" or "cancel_count") for key's
	// current minute bucket and returns the bucket's new value. The bucket's
	// window runs windowMinutes from now.
	IncrementAndGet(ctx context.Context, key, field string, windowMinutes int) (int64, error)
	// CurrentCount sums field across buckets whose window has not expired.
	CurrentCount(ctx context.Context, key, field string) (int64, error)
	// CountInWindow sums field across buckets started within the last
	// windowMinutes.
	CountInWindow(ctx context.Context, key, field string, windowMinutes int) (int64, error)
	// CleanupExpired deletes buckets whose window closed over an hour ago.
	CleanupExpired(ctx context.Context) (int64, error)
}
