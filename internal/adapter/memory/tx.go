package memory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

var _ port.Tx = (*tx)(nil)

var errTxDone = errors.New("transaction already finished")

// tx mutates the repo state directly while holding the repo lock; the
// snapshot taken at BeginTx is restored on rollback.
type tx struct {
	repo     *Repo
	snapshot *state
	done     bool
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.snapshot = nil
	t.repo.mu.Unlock()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.repo.state = t.snapshot
	t.snapshot = nil
	t.repo.mu.Unlock()
	return nil
}

func (t *tx) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return getUser(t.repo.state, id)
}

func (t *tx) GetUserForUpdate(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return getUser(t.repo.state, id)
}

func (t *tx) SaveUser(ctx context.Context, u *domain.User) error {
	cp := *u
	t.repo.state.users[u.ID] = &cp
	return nil
}

func (t *tx) GetAssetForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Asset, error) {
	a, ok := t.repo.state.assets[assetKey{userID, symbol}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (t *tx) GetOrCreateAssetForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Asset, error) {
	key := assetKey{userID, symbol}
	a, ok := t.repo.state.assets[key]
	if !ok {
		a = &domain.Asset{
			UserID:       userID,
			Symbol:       symbol,
			Amount:       decimal.Zero,
			LockedAmount: decimal.Zero,
			UpdatedAt:    time.Now().UTC(),
		}
		t.repo.state.assets[key] = a
	}
	cp := *a
	return &cp, nil
}

func (t *tx) SaveAsset(ctx context.Context, a *domain.Asset) error {
	cp := *a
	cp.UpdatedAt = time.Now().UTC()
	t.repo.state.assets[assetKey{a.UserID, a.Symbol}] = &cp
	return nil
}

func (t *tx) CreateOrder(ctx context.Context, o *domain.Order) error {
	cp := *o
	t.repo.state.orders[o.ID] = &cp
	t.repo.state.orderSeq = append(t.repo.state.orderSeq, o.ID)
	return nil
}

func (t *tx) SaveOrder(ctx context.Context, o *domain.Order) error {
	if _, ok := t.repo.state.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *o
	t.repo.state.orders[o.ID] = &cp
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(t.repo.state, id)
}

func (t *tx) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(t.repo.state, id)
}

func (t *tx) FindMatchCandidate(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	var best *domain.Order
	for _, id := range t.repo.state.orderSeq {
		c := t.repo.state.orders[id]
		if c.ID == o.ID || c.Symbol != o.Symbol || c.Side != o.Side.Opposite() {
			continue
		}
		if c.Status != domain.OrderOpen || !c.Amount.Equal(o.Amount) {
			continue
		}
		if o.Side.IsBuy() && c.Price.GreaterThan(o.Price) {
			continue
		}
		if o.Side.IsSell() && c.Price.LessThan(o.Price) {
			continue
		}
		if best == nil || better(o.Side, c, best) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// better reports whether a beats b as the counter-order: best price first,
// earliest creation within a price level.
func better(takerSide domain.Side, a, b *domain.Order) bool {
	if !a.Price.Equal(b.Price) {
		if takerSide.IsBuy() {
			return a.Price.LessThan(b.Price)
		}
		return a.Price.GreaterThan(b.Price)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (t *tx) AppendStatusChange(ctx context.Context, c *domain.OrderStatusChange) error {
	cp := *c
	t.repo.state.statusChanges = append(t.repo.state.statusChanges, &cp)
	return nil
}

func (t *tx) AppendLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	cp := *e
	t.repo.state.ledger = append(t.repo.state.ledger, &cp)
	return nil
}

func (t *tx) CreateTrade(ctx context.Context, tr *domain.Trade) error {
	cp := *tr
	t.repo.state.trades = append(t.repo.state.trades, &cp)
	return nil
}

func (t *tx) CreateSecurityEvent(ctx context.Context, e *domain.SecurityEvent) error {
	cp := *e
	t.repo.state.events[e.ID] = &cp
	return nil
}
