package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

// Matching is the full-match-only engine: an incoming order either trades its
// entire amount against a single resting counter-order of exactly equal
// amount, or rests on the book untouched. Partial fills never happen.
//
// Execution price is always the resting (maker) order's limit price. A buy
// order that executes below its own limit gets the surplus of its
// fee-inclusive lock refunded to its available balance.
type Matching struct {
	balances *Balances
	log      *zap.Logger
}

func NewMatching(balances *Balances, log *zap.Logger) *Matching {
	return &Matching{balances: balances, log: log}
}

// Match attempts to fill order against the book inside the caller's
// transaction. Returns nil when no exact-amount crossing counter-order rests
// on the book.
func (m *Matching) Match(ctx context.Context, tx port.Tx, order *domain.Order) (*domain.Trade, error) {
	locked, err := tx.GetOrderForUpdate(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if !locked.CanBeMatched() {
		return nil, nil
	}
	counter, err := tx.FindMatchCandidate(ctx, locked)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, nil
	}
	trade, err := m.execute(ctx, tx, locked, counter)
	if err != nil {
		return nil, err
	}
	*order = *locked
	return trade, nil
}

func (m *Matching) execute(ctx context.Context, tx port.Tx, taker, maker *domain.Order) (*domain.Trade, error) {
	buyOrder, sellOrder := taker, maker
	if taker.Side.IsSell() {
		buyOrder, sellOrder = maker, taker
	}

	price := maker.Price
	amount := taker.Amount
	quote := domain.MulMoney(price, amount)
	buyerFee := domain.MulMoney(quote, domain.BuyerFeeRate)
	now := time.Now().UTC()

	trade := &domain.Trade{
		ID:                uuid.New(),
		BuyOrderID:        buyOrder.ID,
		SellOrderID:       sellOrder.ID,
		BuyerID:           buyOrder.UserID,
		SellerID:          sellOrder.UserID,
		Symbol:            taker.Symbol,
		Price:             price,
		Amount:            amount,
		QuoteAmount:       quote,
		BuyerFee:          buyerFee,
		SellerFee:         domain.Money("0"),
		FeeCurrencyBuyer:  USDCurrency,
		FeeCurrencySeller: USDCurrency,
		IsBuyerMaker:      maker == buyOrder,
		CreatedAt:         now,
	}

	// Settlement order matters: drain the buyer's locked USD first so the
	// refund at the end sees the exact remainder.
	if _, err := m.balances.DebitLockedUSD(ctx, tx, buyOrder.UserID, quote, domain.RefTradeDebit, trade.ID, "trade settlement"); err != nil {
		return nil, err
	}
	if buyerFee.IsPositive() {
		if _, err := m.balances.DebitLockedUSD(ctx, tx, buyOrder.UserID, buyerFee, domain.RefFeeDebit, trade.ID, "trade fee"); err != nil {
			return nil, err
		}
	}
	if err := m.balances.CreditAsset(ctx, tx, buyOrder.UserID, taker.Symbol, amount, domain.RefTradeCredit, trade.ID, "trade settlement"); err != nil {
		return nil, err
	}
	if err := m.balances.DebitLockedAsset(ctx, tx, sellOrder.UserID, taker.Symbol, amount, domain.RefTradeDebit, trade.ID, "trade settlement"); err != nil {
		return nil, err
	}
	if _, err := m.balances.CreditUSD(ctx, tx, sellOrder.UserID, quote, domain.RefTradeCredit, trade.ID, "trade proceeds"); err != nil {
		return nil, err
	}

	refund := buyOrder.LockedFunds.Sub(quote).Sub(buyerFee)
	if refund.IsPositive() {
		if _, err := m.balances.RefundLockedUSD(ctx, tx, buyOrder.UserID, refund, buyOrder.ID, "price improvement refund"); err != nil {
			return nil, err
		}
	}

	for _, o := range []*domain.Order{taker, maker} {
		prev := o.Status
		o.FilledAmount = o.Amount
		o.Status = domain.OrderFilled
		o.FilledAt = &now
		if err := tx.SaveOrder(ctx, o); err != nil {
			return nil, err
		}
		change := &domain.OrderStatusChange{
			ID:        uuid.New(),
			OrderID:   o.ID,
			From:      prev,
			To:        domain.OrderFilled,
			Reason:    "matched",
			ChangedAt: now,
		}
		if err := tx.AppendStatusChange(ctx, change); err != nil {
			return nil, err
		}
	}

	if err := tx.CreateTrade(ctx, trade); err != nil {
		return nil, err
	}

	m.log.Info("trade executed",
		zap.String("trade_id", trade.ID.String()),
		zap.String("symbol", trade.Symbol),
		zap.String("price", trade.Price.String()),
		zap.String("amount", trade.Amount.String()),
		zap.String("buyer_fee", trade.BuyerFee.String()))
	return trade, nil
}
