package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

var (
	_ port.BookCache     = (*BookCache)(nil)
	_ port.CooldownCache = (*Cooldowns)(nil)
	_ port.Publisher     = (*Publisher)(nil)
)

// BookCache is the in-memory orderbook snapshot cache.
type BookCache struct {
	mu    sync.Mutex
	snaps map[string]*port.BookSnapshot
}

func NewBookCache() *BookCache {
	return &BookCache{snaps: make(map[string]*port.BookSnapshot)}
}

func (c *BookCache) SetOrderbook(ctx context.Context, symbol string, ob *port.BookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[symbol] = ob
	return nil
}

func (c *BookCache) GetOrderbook(ctx context.Context, symbol string) (*port.BookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[symbol], nil
}

func (c *BookCache) Invalidate(ctx context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snaps, symbol)
	return nil
}

// Cooldowns is the in-memory alert cooldown gate with an injectable clock.
type Cooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
	Now   func() time.Time
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{
		until: make(map[string]time.Time),
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func (c *Cooldowns) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()
	if held, ok := c.until[key]; ok && held.After(now) {
		return false, nil
	}
	c.until[key] = now.Add(ttl)
	return true, nil
}

// Publisher records published events for assertions.
type Publisher struct {
	mu          sync.Mutex
	BookUpdates []string
	Trades      []*domain.Trade
	Alerts      []*domain.SecurityEvent
}

func NewPublisher() *Publisher { return &Publisher{} }

func (p *Publisher) PublishOrderBookUpdated(ctx context.Context, baseSymbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BookUpdates = append(p.BookUpdates, baseSymbol)
}

func (p *Publisher) PublishTradeMatched(ctx context.Context, trade *domain.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Trades = append(p.Trades, trade)
}

func (p *Publisher) PublishSecurityAlert(ctx context.Context, event *domain.SecurityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Alerts = append(p.Alerts, event)
}

// AlertCount returns the number of published security alerts.
func (p *Publisher) AlertCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Alerts)
}
