package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

var _ port.Tx = (*pgTx)(nil)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *pgTx) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return getUser(ctx, t.tx, id, false)
}

func (t *pgTx) GetUserForUpdate(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return getUser(ctx, t.tx, id, true)
}

func (t *pgTx) SaveUser(ctx context.Context, u *domain.User) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE users SET
  email = $2,
  balance = $3::numeric,
  locked_balance = $4::numeric,
  version = $5,
  is_active = $6,
  suspended_at = $7,
  suspension_reason = NULLIF($8, ''),
  risk_score = $9::numeric,
  risk_score_updated_at = $10,
  security_event_count = $11,
  last_security_event_at = $12,
  review_required = $13
WHERE id = $1`,
		u.ID, u.Email, u.Balance.String(), u.LockedBalance.String(), u.Version,
		u.IsActive, u.SuspendedAt, u.SuspensionReason, u.RiskScore.String(),
		u.RiskScoreUpdatedAt, u.SecurityEventCount, u.LastSecurityEventAt, u.ReviewRequired)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) GetAssetForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Asset, error) {
	return scanAsset(t.tx.QueryRow(ctx, `
SELECT `+assetCols+` FROM assets WHERE user_id = $1 AND symbol = $2 FOR UPDATE`, userID, symbol))
}

func (t *pgTx) GetOrCreateAssetForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Asset, error) {
	_, err := t.tx.Exec(ctx, `
INSERT INTO assets (user_id, symbol, amount, locked_amount, version, updated_at)
VALUES ($1, $2, 0, 0, 0, now())
ON CONFLICT (user_id, symbol) DO NOTHING`, userID, symbol)
	if err != nil {
		return nil, err
	}
	return t.GetAssetForUpdate(ctx, userID, symbol)
}

func (t *pgTx) SaveAsset(ctx context.Context, a *domain.Asset) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE assets SET amount = $3::numeric, locked_amount = $4::numeric, version = $5, updated_at = now()
WHERE user_id = $1 AND symbol = $2`,
		a.UserID, a.Symbol, a.Amount.String(), a.LockedAmount.String(), a.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) CreateOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO orders (id, user_id, symbol, side, price, amount, filled_amount, locked_funds,
  status, client_order_id, ip_address, user_agent, created_at, filled_at, cancelled_at, expires_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric,
  $9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13, $14, $15, $16)`,
		o.ID, o.UserID, o.Symbol, string(o.Side), o.Price.String(), o.Amount.String(),
		o.FilledAmount.String(), o.LockedFunds.String(), string(o.Status),
		o.ClientOrderID, o.IPAddress, o.UserAgent, o.CreatedAt, o.FilledAt, o.CancelledAt, o.ExpiresAt)
	return err
}

func (t *pgTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE orders SET
  price = $2::numeric,
  amount = $3::numeric,
  filled_amount = $4::numeric,
  locked_funds = $5::numeric,
  status = $6,
  filled_at = $7,
  cancelled_at = $8,
  expires_at = $9
WHERE id = $1`,
		o.ID, o.Price.String(), o.Amount.String(), o.FilledAmount.String(),
		o.LockedFunds.String(), string(o.Status), o.FilledAt, o.CancelledAt, o.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, false)
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) FindMatchCandidate(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	cmp, dir := "<=", "ASC"
	if o.Side.IsSell() {
		cmp, dir = ">=", "DESC"
	}
	candidate, err := scanOrder(t.tx.QueryRow(ctx, fmt.Sprintf(`
SELECT %s FROM orders
WHERE symbol = $1 AND side = $2 AND status = 'open'
  AND amount = $3::numeric AND price %s $4::numeric AND id <> $5
ORDER BY price %s, created_at ASC
LIMIT 1
FOR UPDATE`, orderCols, cmp, dir),
		o.Symbol, string(o.Side.Opposite()), o.Amount.String(), o.Price.String(), o.ID))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return candidate, nil
}

func (t *pgTx) AppendStatusChange(ctx context.Context, c *domain.OrderStatusChange) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO order_status_changes (id, order_id, from_status, to_status, reason, changed_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`,
		c.ID, c.OrderID, string(c.From), string(c.To), c.Reason, c.ChangedAt)
	return err
}

func (t *pgTx) AppendLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO ledger_entries (id, user_id, currency, amount, balance_before, balance_after,
  locked_amount, locked_before, locked_after, reference_type, reference_id,
  description, idempotency_key, created_at)
VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
  $7::numeric, $8::numeric, $9::numeric, $10, $11, NULLIF($12, ''), NULLIF($13, ''), $14)`,
		e.ID, e.UserID, e.Currency, e.Amount.String(), e.BalanceBefore.String(), e.BalanceAfter.String(),
		e.LockedAmount.String(), e.LockedBefore.String(), e.LockedAfter.String(),
		e.ReferenceType, e.ReferenceID, e.Description, e.IdempotencyKey, e.CreatedAt)
	return err
}

func (t *pgTx) CreateTrade(ctx context.Context, tr *domain.Trade) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO trades (id, buy_order_id, sell_order_id, buyer_id, seller_id, symbol,
  price, amount, quote_amount, buyer_fee, seller_fee,
  fee_currency_buyer, fee_currency_seller, is_buyer_maker, created_at)
VALUES ($1, $2, $3, $4, $5, $6,
  $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric, $12, $13, $14, $15)`,
		tr.ID, tr.BuyOrderID, tr.SellOrderID, tr.BuyerID, tr.SellerID, tr.Symbol,
		tr.Price.String(), tr.Amount.String(), tr.QuoteAmount.String(),
		tr.BuyerFee.String(), tr.SellerFee.String(),
		tr.FeeCurrencyBuyer, tr.FeeCurrencySeller, tr.IsBuyerMaker, tr.CreatedAt)
	return err
}

func (t *pgTx) CreateSecurityEvent(ctx context.Context, e *domain.SecurityEvent) error {
	metrics, err := json.Marshal(e.DetectionMetrics)
	if err != nil {
		return fmt.Errorf("pg: marshal detection metrics: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO security_events (id, event_type, severity, user_id, ip_address, user_agent,
  symbol, endpoint, http_method, detection_metrics, related_orders, related_users,
  action_taken, throttle_delay_ms, risk_score, alert_sent, alert_sent_at, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''),
  NULLIF($7, ''), $8, $9, $10, $11, $12,
  $13, $14, $15::numeric, $16, $17, $18)`,
		e.ID, string(e.EventType), string(e.Severity), e.UserID, e.IPAddress, e.UserAgent,
		e.Symbol, e.Endpoint, e.HTTPMethod, metrics, e.RelatedOrders, e.RelatedUsers,
		string(e.ActionTaken), e.ThrottleDelay.Milliseconds(), e.RiskScore.String(),
		e.AlertSent, e.AlertSentAt, e.CreatedAt)
	return err
}
