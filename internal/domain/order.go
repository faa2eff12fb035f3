package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) IsBuy() bool  { return s == Buy }
func (s Side) IsSell() bool { return s == Sell }

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Label() string {
	switch s {
	case Buy:
		return "Buy"
	case Sell:
		return "Sell"
	}
	return string(s)
}

type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
)

// IsActive reports whether the order still rests on the book.
func (s OrderStatus) IsActive() bool {
	return s == OrderOpen || s == OrderPartiallyFilled
}

// IsFinal reports whether the order reached a terminal status.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderExpired:
		return true
	case OrderOpen, OrderPartiallyFilled:
		return false
	}
	return false
}

// AllowedTransitions enumerates the legal next statuses.
func (s OrderStatus) AllowedTransitions() []OrderStatus {
	switch s {
	case OrderOpen:
		return []OrderStatus{OrderFilled, OrderPartiallyFilled, OrderCancelled, OrderExpired}
	case OrderPartiallyFilled:
		return []OrderStatus{OrderFilled, OrderCancelled}
	case OrderFilled, OrderCancelled, OrderExpired:
		return nil
	}
	return nil
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, t := range s.AllowedTransitions() {
		if t == next {
			return true
		}
	}
	return false
}

// BuyLockMultiplier sizes the USD lock for buy orders fee-inclusive: the
// matching debit takes quote_amount plus the 1.5% buyer fee out of locked
// funds, so the lock is price*amount*1.015 truncated to money scale.
var BuyLockMultiplier = Money("1.015")

// Order is a resting or incoming limit order. Identity is immutable, the
// lifecycle fields (status, filled amount, timestamps) advance per the
// OrderStatus transition table.
type Order struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Symbol        string
	Side          Side
	Price         decimal.Decimal
	Amount        decimal.Decimal
	FilledAmount  decimal.Decimal
	LockedFunds   decimal.Decimal
	Status        OrderStatus
	ClientOrderID string
	IPAddress     string
	UserAgent     string
	CreatedAt     time.Time
	FilledAt      *time.Time
	CancelledAt   *time.Time
	ExpiresAt     *time.Time
}

// Remaining is the unfilled part of the order.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.FilledAmount)
}

// TotalValue is the quote-currency value at the order's own limit price.
func (o *Order) TotalValue() decimal.Decimal {
	return MulMoney(o.Price, o.Amount)
}

// RequiredLock computes the funds reserved at creation: fee-inclusive USD
// value for buys, the asset amount itself for sells.
func (o *Order) RequiredLock() decimal.Decimal {
	if o.Side.IsBuy() {
		return MulMoney(o.TotalValue(), BuyLockMultiplier)
	}
	return o.Amount
}

func (o *Order) CanBeCancelled() bool { return o.Status.IsActive() }

func (o *Order) CanBeMatched() bool { return o.Status.IsActive() }

// BaseAsset extracts the base symbol from the pair string ("BTC/USD" -> "BTC").
func (o *Order) BaseAsset() string {
	base, _, _ := strings.Cut(o.Symbol, "/")
	return base
}

// OrderStatusChange is one immutable row of an order's status history.
type OrderStatusChange struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	From      OrderStatus
	To        OrderStatus
	Reason    string
	ChangedAt time.Time
}
