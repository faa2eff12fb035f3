package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

type assetKey struct {
	userID uuid.UUID
	symbol string
}

type state struct {
	users         map[uuid.UUID]*domain.User
	assets        map[assetKey]*domain.Asset
	symbols       map[string]*domain.Symbol
	orders        map[uuid.UUID]*domain.Order
	orderSeq      []uuid.UUID
	trades        []*domain.Trade
	ledger        []*domain.LedgerEntry
	statusChanges []*domain.OrderStatusChange
	events        map[uuid.UUID]*domain.SecurityEvent
}

func newState() *state {
	return &state{
		users:   make(map[uuid.UUID]*domain.User),
		assets:  make(map[assetKey]*domain.Asset),
		symbols: make(map[string]*domain.Symbol),
		orders:  make(map[uuid.UUID]*domain.Order),
		events:  make(map[uuid.UUID]*domain.SecurityEvent),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range s.assets {
		a := *v
		c.assets[k] = &a
	}
	for k, v := range s.symbols {
		sym := *v
		c.symbols[k] = &sym
	}
	for k, v := range s.orders {
		o := *v
		c.orders[k] = &o
	}
	c.orderSeq = append([]uuid.UUID(nil), s.orderSeq...)
	c.trades = append([]*domain.Trade(nil), s.trades...)
	c.ledger = append([]*domain.LedgerEntry(nil), s.ledger...)
	c.statusChanges = append([]*domain.OrderStatusChange(nil), s.statusChanges...)
	for k, v := range s.events {
		e := *v
		c.events[k] = &e
	}
	return c
}

var _ port.Repository = (*Repo)(nil)

// Repo is an in-memory implementation of the storage port with serializable
// transactions: BeginTx takes a global lock and snapshots the state, Rollback
// restores the snapshot, Commit keeps the mutations. Intended for tests.
type Repo struct {
	mu    sync.Mutex
	state *state
}

func NewRepo() *Repo {
	return &Repo{state: newState()}
}

// Seed helpers, called from test setup before any transaction runs.

func (r *Repo) SeedUser(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.state.users[u.ID] = &cp
}

func (r *Repo) SeedAsset(a *domain.Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.state.assets[assetKey{a.UserID, a.Symbol}] = &cp
}

func (r *Repo) SeedSymbol(s *domain.Symbol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.state.symbols[s.Symbol] = &cp
}

func (r *Repo) SeedOrder(o *domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.state.orders[o.ID] = &cp
	r.state.orderSeq = append(r.state.orderSeq, o.ID)
}

func (r *Repo) SeedTrade(t *domain.Trade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.state.trades = append(r.state.trades, &cp)
}

func (r *Repo) BeginTx(ctx context.Context) (port.Tx, error) {
	r.mu.Lock()
	return &tx{repo: r, snapshot: r.state.clone()}, nil
}

func (r *Repo) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return getUser(r.state, id)
}

func (r *Repo) GetAsset(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.state.assets[assetKey{userID, symbol}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *Repo) ListUserAssets(ctx context.Context, userID uuid.UUID) ([]*domain.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Asset
	for k, a := range r.state.assets {
		if k.userID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (r *Repo) GetSymbol(ctx context.Context, symbol string) (*domain.Symbol, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.state.symbols[symbol]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *Repo) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return getOrder(r.state, id)
}

func (r *Repo) ListBookOrders(ctx context.Context, symbol string, side domain.Side, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, id := range r.state.orderSeq {
		o := r.state.orders[id]
		if o.Symbol == symbol && o.Side == side && o.Status.IsActive() {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			if side == domain.Buy {
				return out[i].Price.GreaterThan(out[j].Price)
			}
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repo) ListUserOrders(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for i := len(r.state.orderSeq) - 1; i >= 0; i-- {
		o := r.state.orders[r.state.orderSeq[i]]
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *Repo) ListUserOrdersSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Order
	for _, id := range r.state.orderSeq {
		o := r.state.orders[id]
		if o.UserID == userID && !o.CreatedAt.Before(since) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *Repo) ListUserTradesSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]port.TradeWithOrders, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []port.TradeWithOrders
	for _, t := range r.state.trades {
		if t.CreatedAt.Before(since) {
			continue
		}
		if t.BuyerID != userID && t.SellerID != userID {
			continue
		}
		buy, err := getOrder(r.state, t.BuyOrderID)
		if err != nil {
			return nil, err
		}
		sell, err := getOrder(r.state, t.SellOrderID)
		if err != nil {
			return nil, err
		}
		cp := *t
		out = append(out, port.TradeWithOrders{Trade: &cp, BuyOrder: buy, SellOrder: sell})
	}
	return out, nil
}

func (r *Repo) LastTradePrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.state.trades) - 1; i >= 0; i-- {
		if r.state.trades[i].Symbol == symbol {
			return r.state.trades[i].Price, true, nil
		}
	}
	return decimal.Zero, false, nil
}

func (r *Repo) TopOfBook(ctx context.Context, symbol string) (*decimal.Decimal, *decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var bid, ask *decimal.Decimal
	for _, id := range r.state.orderSeq {
		o := r.state.orders[id]
		if o.Symbol != symbol || !o.Status.IsActive() {
			continue
		}
		p := o.Price
		switch {
		case o.Side.IsBuy() && (bid == nil || p.GreaterThan(*bid)):
			bid = &p
		case o.Side.IsSell() && (ask == nil || p.LessThan(*ask)):
			ask = &p
		}
	}
	return bid, ask, nil
}

func (r *Repo) ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.LedgerEntry
	for i := len(r.state.ledger) - 1; i >= 0; i-- {
		e := r.state.ledger[i]
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *Repo) MarkAlertSent(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.state.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	e.AlertSent = true
	e.AlertSentAt = &at
	return nil
}

func (r *Repo) DecayRiskScores(ctx context.Context, decay, flagThreshold decimal.Decimal, cutoff time.Time) (decayed, cleared int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, u := range r.state.users {
		if !u.RiskScore.IsPositive() {
			continue
		}
		if u.RiskScoreUpdatedAt != nil && u.RiskScoreUpdatedAt.After(cutoff) {
			continue
		}
		newScore := u.RiskScore.Sub(decay)
		if newScore.IsNegative() {
			newScore = decimal.Zero
		}
		u.RiskScore = newScore
		at := now
		u.RiskScoreUpdatedAt = &at
		decayed++
		if u.ReviewRequired && newScore.LessThan(flagThreshold) {
			u.ReviewRequired = false
			cleared++
		}
	}
	return decayed, cleared, nil
}

// Events returns all recorded security events, newest last. Test helper.
func (r *Repo) Events() []*domain.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.SecurityEvent, 0, len(r.state.events))
	for _, e := range r.state.events {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// StatusChanges returns the status history of one order. Test helper.
func (r *Repo) StatusChanges(orderID uuid.UUID) []*domain.OrderStatusChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.OrderStatusChange
	for _, c := range r.state.statusChanges {
		if c.OrderID == orderID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// Trades returns every recorded trade in execution order. Test helper.
func (r *Repo) Trades() []*domain.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Trade, 0, len(r.state.trades))
	for _, t := range r.state.trades {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

func getUser(s *state, id uuid.UUID) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func getOrder(s *state, id uuid.UUID) (*domain.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}
