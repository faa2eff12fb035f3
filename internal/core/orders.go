package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/metrics"
	"github.com/quantex/exchange-core/internal/port"
)

// BookDepth is the number of orders returned per side of the book.
const BookDepth = 50

// CreateOrderRequest carries everything needed to place a limit order,
// including the request provenance the security pipeline records on it.
type CreateOrderRequest struct {
	UserID        uuid.UUID
	Symbol        string
	Side          domain.Side
	Price         decimal.Decimal
	Amount        decimal.Decimal
	ClientOrderID string
	IPAddress     string
	UserAgent     string
}

// Orders is the order lifecycle service: placement with fund locking and an
// immediate match attempt, cancellation with fund release, and book reads.
type Orders struct {
	repo     port.Repository
	cache    port.BookCache
	pub      port.Publisher
	balances *Balances
	matching *Matching
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewOrders(repo port.Repository, cache port.BookCache, pub port.Publisher, balances *Balances, matching *Matching, m *metrics.Metrics, log *zap.Logger) *Orders {
	return &Orders{
		repo:     repo,
		cache:    cache,
		pub:      pub,
		balances: balances,
		matching: matching,
		metrics:  m,
		log:      log,
	}
}

// CreateOrder validates the request, persists the order with its funds locked
// and immediately tries to match it. Order creation, fund lock and any
// resulting trade settle in one transaction; events and cache invalidation
// run only after commit.
func (s *Orders) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, *domain.Trade, error) {
	if req.Side != domain.Buy && req.Side != domain.Sell {
		return nil, nil, domain.NewOrderError("side must be buy or sell")
	}
	if !req.Price.IsPositive() {
		return nil, nil, domain.NewOrderError("price must be positive")
	}
	if !req.Amount.IsPositive() {
		return nil, nil, domain.NewOrderError("amount must be positive")
	}

	symbol, err := s.repo.GetSymbol(ctx, req.Symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, domain.NewOrderError("unknown symbol %s", req.Symbol)
	}
	if err != nil {
		return nil, nil, err
	}
	if !symbol.CanTrade(req.Amount) {
		return nil, nil, domain.NewOrderError("amount %s outside the allowed range for %s", req.Amount.String(), symbol.Symbol)
	}

	order := &domain.Order{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Price:         req.Price.Truncate(domain.MoneyScale),
		Amount:        req.Amount.Truncate(domain.MoneyScale),
		Status:        domain.OrderOpen,
		ClientOrderID: req.ClientOrderID,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		CreatedAt:     time.Now().UTC(),
	}
	if order.Side.IsBuy() {
		order.LockedFunds = order.RequiredLock()
	}

	var trade *domain.Trade
	err = withTx(ctx, s.repo, func(tx port.Tx) error {
		user, err := tx.GetUserForUpdate(ctx, req.UserID)
		if err != nil {
			return err
		}
		if !user.CanTrade() {
			return domain.NewOrderError("account is not allowed to trade")
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		change := &domain.OrderStatusChange{
			ID:        uuid.New(),
			OrderID:   order.ID,
			To:        domain.OrderOpen,
			Reason:    "created",
			ChangedAt: order.CreatedAt,
		}
		if err := tx.AppendStatusChange(ctx, change); err != nil {
			return err
		}

		if order.Side.IsBuy() {
			if err := s.balances.LockUSD(ctx, tx, user, order.LockedFunds, order.ID, "order lock"); err != nil {
				return err
			}
		} else {
			if err := s.balances.LockAsset(ctx, tx, req.UserID, order.Symbol, order.Amount, order.ID, "order lock"); err != nil {
				return err
			}
		}

		trade, err = s.matching.Match(ctx, tx, order)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.metrics.OrdersCreated.WithLabelValues(string(order.Side)).Inc()
	if trade != nil {
		s.metrics.TradesExecuted.Inc()
		volume, _ := trade.QuoteAmount.Float64()
		s.metrics.TradeVolumeUSD.Add(volume)
		s.pub.PublishTradeMatched(ctx, trade)
	}
	s.afterBookChange(ctx, order)

	s.log.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID.String()),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("status", string(order.Status)))
	return order, trade, nil
}

// CancelOrder cancels the caller's own active order and releases its
// remaining locked funds.
func (s *Orders) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	var order *domain.Order
	err := withTx(ctx, s.repo, func(tx port.Tx) error {
		var err error
		order, err = tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return domain.NewOrderError("you are not authorized to cancel this order")
		}
		if !order.CanBeCancelled() {
			return domain.NewOrderError("order in status %s cannot be cancelled", order.Status)
		}

		remaining := order.Remaining()
		if order.Side.IsBuy() {
			release := domain.MulMoney(domain.MulMoney(order.Price, remaining), domain.BuyLockMultiplier)
			user, err := tx.GetUserForUpdate(ctx, userID)
			if err != nil {
				return err
			}
			if err := s.balances.UnlockUSD(ctx, tx, user, release, order.ID, "order cancelled"); err != nil {
				return err
			}
		} else {
			if err := s.balances.UnlockAsset(ctx, tx, userID, order.Symbol, remaining, order.ID, "order cancelled"); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		prev := order.Status
		order.Status = domain.OrderCancelled
		order.CancelledAt = &now
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		change := &domain.OrderStatusChange{
			ID:        uuid.New(),
			OrderID:   order.ID,
			From:      prev,
			To:        domain.OrderCancelled,
			Reason:    "cancelled by user",
			ChangedAt: now,
		}
		return tx.AppendStatusChange(ctx, change)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrdersCancelled.Inc()
	s.afterBookChange(ctx, order)

	s.log.Info("order cancelled",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()))
	return order, nil
}

// GetOrder returns one of the caller's own orders.
func (s *Orders) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

// ListUserOrders returns the user's most recent orders.
func (s *Orders) ListUserOrders(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListUserOrders(ctx, userID, limit)
}

// GetOrderBook returns the displayed book for a symbol, cache first.
func (s *Orders) GetOrderBook(ctx context.Context, symbol string) (*port.BookSnapshot, error) {
	if snap, err := s.cache.GetOrderbook(ctx, symbol); err != nil {
		s.log.Warn("orderbook cache read failed", zap.String("symbol", symbol), zap.Error(err))
	} else if snap != nil {
		return snap, nil
	}

	if _, err := s.repo.GetSymbol(ctx, symbol); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewOrderError("unknown symbol %s", symbol)
		}
		return nil, err
	}

	bids, err := s.repo.ListBookOrders(ctx, symbol, domain.Buy, BookDepth)
	if err != nil {
		return nil, err
	}
	asks, err := s.repo.ListBookOrders(ctx, symbol, domain.Sell, BookDepth)
	if err != nil {
		return nil, err
	}

	snap := &port.BookSnapshot{
		Symbol:    symbol,
		Bids:      toBookLevels(bids),
		Asks:      toBookLevels(asks),
		Timestamp: time.Now().UTC(),
	}
	if err := s.cache.SetOrderbook(ctx, symbol, snap); err != nil {
		s.log.Warn("orderbook cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
	return snap, nil
}

func toBookLevels(orders []*domain.Order) []port.BookLevel {
	levels := make([]port.BookLevel, 0, len(orders))
	for _, o := range orders {
		remaining := o.Remaining()
		levels = append(levels, port.BookLevel{
			Price:  o.Price.String(),
			Amount: remaining.String(),
			Total:  domain.MulMoney(o.Price, remaining).String(),
		})
	}
	return levels
}

func (s *Orders) afterBookChange(ctx context.Context, order *domain.Order) {
	if err := s.cache.Invalidate(ctx, order.Symbol); err != nil {
		s.log.Warn("orderbook cache invalidation failed",
			zap.String("symbol", order.Symbol), zap.Error(err))
	}
	s.pub.PublishOrderBookUpdated(ctx, order.BaseAsset())
}
