package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

var _ port.Repository = (*PgRepo)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the scan helpers
// serve reads inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepo struct {
	pool *pgxpool.Pool
}

// NewPgRepo connects the pool. Call Close when finished.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

func (p *PgRepo) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Pool exposes the underlying pool so sibling adapters can share it.
func (p *PgRepo) Pool() *pgxpool.Pool { return p.pool }

func (p *PgRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	t, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: begin: %w", err)
	}
	return &pgTx{tx: t}, nil
}

const userCols = `id, email, balance::text, locked_balance::text, version, is_active,
suspended_at, COALESCE(suspension_reason, ''), risk_score::text, risk_score_updated_at,
security_event_count, last_security_event_at, review_required, created_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var balance, locked, risk string
	err := row.Scan(&u.ID, &u.Email, &balance, &locked, &u.Version, &u.IsActive,
		&u.SuspendedAt, &u.SuspensionReason, &risk, &u.RiskScoreUpdatedAt,
		&u.SecurityEventCount, &u.LastSecurityEventAt, &u.ReviewRequired, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if u.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, err
	}
	if u.LockedBalance, err = decimal.NewFromString(locked); err != nil {
		return nil, err
	}
	if u.RiskScore, err = decimal.NewFromString(risk); err != nil {
		return nil, err
	}
	return &u, nil
}

func getUser(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*domain.User, error) {
	query := `SELECT ` + userCols + ` FROM users WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanUser(q.QueryRow(ctx, query, id))
}

func (p *PgRepo) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return getUser(ctx, p.pool, id, false)
}

const assetCols = `user_id, symbol, amount::text, locked_amount::text, version, updated_at`

func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var a domain.Asset
	var amount, locked string
	err := row.Scan(&a.UserID, &a.Symbol, &amount, &locked, &a.Version, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if a.LockedAmount, err = decimal.NewFromString(locked); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PgRepo) GetAsset(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Asset, error) {
	return scanAsset(p.pool.QueryRow(ctx, `
SELECT `+assetCols+` FROM assets WHERE user_id = $1 AND symbol = $2`, userID, symbol))
}

func (p *PgRepo) ListUserAssets(ctx context.Context, userID uuid.UUID) ([]*domain.Asset, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+assetCols+` FROM assets WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PgRepo) GetSymbol(ctx context.Context, symbol string) (*domain.Symbol, error) {
	var s domain.Symbol
	var minAmount string
	var maxAmount *string
	err := p.pool.QueryRow(ctx, `
SELECT symbol, base_asset, quote_asset, min_trade_amount::text, max_trade_amount::text, active
FROM symbols WHERE symbol = $1`, symbol).
		Scan(&s.Symbol, &s.BaseAsset, &s.QuoteAsset, &minAmount, &maxAmount, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.MinTradeAmount, err = decimal.NewFromString(minAmount); err != nil {
		return nil, err
	}
	if maxAmount != nil {
		m, err := decimal.NewFromString(*maxAmount)
		if err != nil {
			return nil, err
		}
		s.MaxTradeAmount = &m
	}
	return &s, nil
}

const orderCols = `id, user_id, symbol, side, price::text, amount::text, filled_amount::text,
locked_funds::text, status, COALESCE(client_order_id, ''), COALESCE(ip_address, ''),
COALESCE(user_agent, ''), created_at, filled_at, cancelled_at, expires_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var side, status string
	var price, amount, filled, locked string
	err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &side, &price, &amount, &filled,
		&locked, &status, &o.ClientOrderID, &o.IPAddress, &o.UserAgent,
		&o.CreatedAt, &o.FilledAt, &o.CancelledAt, &o.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Status = domain.OrderStatus(status)
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if o.FilledAmount, err = decimal.NewFromString(filled); err != nil {
		return nil, err
	}
	if o.LockedFunds, err = decimal.NewFromString(locked); err != nil {
		return nil, err
	}
	return &o, nil
}

func getOrder(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderCols + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanOrder(q.QueryRow(ctx, query, id))
}

func (p *PgRepo) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, p.pool, id, false)
}

func (p *PgRepo) ListBookOrders(ctx context.Context, symbol string, side domain.Side, limit int) ([]*domain.Order, error) {
	dir := "ASC"
	if side == domain.Buy {
		dir = "DESC"
	}
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
SELECT %s FROM orders
WHERE symbol = $1 AND side = $2 AND status IN ('open', 'partially_filled')
ORDER BY price %s, created_at ASC
LIMIT $3`, orderCols, dir), symbol, string(side), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (p *PgRepo) ListUserOrders(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+orderCols+` FROM orders
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (p *PgRepo) ListUserOrdersSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+orderCols+` FROM orders
WHERE user_id = $1 AND created_at >= $2
ORDER BY created_at ASC`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]*domain.Order, error) {
	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

const tradeCols = `id, buy_order_id, sell_order_id, buyer_id, seller_id, symbol,
price::text, amount::text, quote_amount::text, buyer_fee::text, seller_fee::text,
fee_currency_buyer, fee_currency_seller, is_buyer_maker, created_at`

func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var t domain.Trade
	var price, amount, quote, buyerFee, sellerFee string
	err := row.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &t.BuyerID, &t.SellerID,
		&t.Symbol, &price, &amount, &quote, &buyerFee, &sellerFee,
		&t.FeeCurrencyBuyer, &t.FeeCurrencySeller, &t.IsBuyerMaker, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&t.Price, price}, {&t.Amount, amount}, {&t.QuoteAmount, quote},
		{&t.BuyerFee, buyerFee}, {&t.SellerFee, sellerFee},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (p *PgRepo) ListUserTradesSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]port.TradeWithOrders, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+tradeCols+` FROM trades
WHERE (buyer_id = $1 OR seller_id = $1) AND created_at >= $2
ORDER BY created_at ASC`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, nil
	}

	orderIDs := make([]uuid.UUID, 0, len(trades)*2)
	for _, t := range trades {
		orderIDs = append(orderIDs, t.BuyOrderID, t.SellOrderID)
	}
	orderRows, err := p.pool.Query(ctx, `
SELECT `+orderCols+` FROM orders WHERE id = ANY($1)`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer orderRows.Close()
	orders, err := collectOrders(orderRows)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}

	out := make([]port.TradeWithOrders, 0, len(trades))
	for _, t := range trades {
		buy, ok := byID[t.BuyOrderID]
		if !ok {
			return nil, fmt.Errorf("pg: trade %s references missing buy order", t.ID)
		}
		sell, ok := byID[t.SellOrderID]
		if !ok {
			return nil, fmt.Errorf("pg: trade %s references missing sell order", t.ID)
		}
		out = append(out, port.TradeWithOrders{Trade: t, BuyOrder: buy, SellOrder: sell})
	}
	return out, nil
}

func (p *PgRepo) LastTradePrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	var price string
	err := p.pool.QueryRow(ctx, `
SELECT price::text FROM trades WHERE symbol = $1 ORDER BY created_at DESC LIMIT 1`, symbol).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, false, err
	}
	return d, true, nil
}

func (p *PgRepo) TopOfBook(ctx context.Context, symbol string) (*decimal.Decimal, *decimal.Decimal, error) {
	bid, err := p.bestPrice(ctx, symbol, domain.Buy)
	if err != nil {
		return nil, nil, err
	}
	ask, err := p.bestPrice(ctx, symbol, domain.Sell)
	if err != nil {
		return nil, nil, err
	}
	return bid, ask, nil
}

func (p *PgRepo) bestPrice(ctx context.Context, symbol string, side domain.Side) (*decimal.Decimal, error) {
	dir := "ASC"
	if side == domain.Buy {
		dir = "DESC"
	}
	var price string
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT price::text FROM orders
WHERE symbol = $1 AND side = $2 AND status IN ('open', 'partially_filled')
ORDER BY price %s LIMIT 1`, dir), symbol, string(side)).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PgRepo) ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, currency, amount::text, balance_before::text, balance_after::text,
locked_amount::text, locked_before::text, locked_after::text,
reference_type, reference_id, COALESCE(description, ''), COALESCE(idempotency_key, ''), created_at
FROM ledger_entries
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var amount, before, after, lockedAmt, lockedBefore, lockedAfter string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Currency, &amount, &before, &after,
			&lockedAmt, &lockedBefore, &lockedAfter,
			&e.ReferenceType, &e.ReferenceID, &e.Description, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&e.Amount, amount}, {&e.BalanceBefore, before}, {&e.BalanceAfter, after},
			{&e.LockedAmount, lockedAmt}, {&e.LockedBefore, lockedBefore}, {&e.LockedAfter, lockedAfter},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, err
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *PgRepo) MarkAlertSent(ctx context.Context, eventID uuid.UUID, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE security_events SET alert_sent = true, alert_sent_at = $2 WHERE id = $1`, eventID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *PgRepo) DecayRiskScores(ctx context.Context, decay, flagThreshold decimal.Decimal, cutoff time.Time) (decayed, cleared int64, err error) {
	t, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = t.Rollback(ctx) }()

	tag, err := t.Exec(ctx, `
UPDATE users
SET risk_score = GREATEST(risk_score - $1::numeric, 0), risk_score_updated_at = now()
WHERE risk_score > 0
  AND (risk_score_updated_at IS NULL OR risk_score_updated_at <= $2)`, decay.String(), cutoff)
	if err != nil {
		return 0, 0, err
	}
	decayed = tag.RowsAffected()

	tag, err = t.Exec(ctx, `
UPDATE users
SET review_required = false
WHERE review_required AND risk_score < $1::numeric`, flagThreshold.String())
	if err != nil {
		return 0, 0, err
	}
	cleared = tag.RowsAffected()

	if err := t.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return decayed, cleared, nil
}
