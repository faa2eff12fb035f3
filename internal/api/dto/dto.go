package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantex/exchange-core/internal/domain"
)

type CreateOrderRequest struct {
	Symbol        string          `json:"symbol" binding:"required"`
	Side          string          `json:"side" binding:"required"`
	Price         decimal.Decimal `json:"price" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	ClientOrderID string          `json:"client_order_id,omitempty"`
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Symbol string          `json:"symbol,omitempty"`
}

type Order struct {
	ID            string     `json:"id"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Price         string     `json:"price"`
	Amount        string     `json:"amount"`
	FilledAmount  string     `json:"filled_amount"`
	LockedFunds   string     `json:"locked_funds"`
	Status        string     `json:"status"`
	ClientOrderID string     `json:"client_order_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	FilledAt      *time.Time `json:"filled_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

func FromOrder(o *domain.Order) Order {
	return Order{
		ID:            o.ID.String(),
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		Price:         o.Price.String(),
		Amount:        o.Amount.String(),
		FilledAmount:  o.FilledAmount.String(),
		LockedFunds:   o.LockedFunds.String(),
		Status:        string(o.Status),
		ClientOrderID: o.ClientOrderID,
		CreatedAt:     o.CreatedAt,
		FilledAt:      o.FilledAt,
		CancelledAt:   o.CancelledAt,
	}
}

type Trade struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Price       string    `json:"price"`
	Amount      string    `json:"amount"`
	QuoteAmount string    `json:"quote_amount"`
	BuyerFee    string    `json:"buyer_fee"`
	SellerFee   string    `json:"seller_fee"`
	CreatedAt   time.Time `json:"created_at"`
}

func FromTrade(t *domain.Trade) Trade {
	return Trade{
		ID:          t.ID.String(),
		Symbol:      t.Symbol,
		Price:       t.Price.String(),
		Amount:      t.Amount.String(),
		QuoteAmount: t.QuoteAmount.String(),
		BuyerFee:    t.BuyerFee.String(),
		SellerFee:   t.SellerFee.String(),
		CreatedAt:   t.CreatedAt,
	}
}

type CreateOrderResponse struct {
	Order Order  `json:"order"`
	Trade *Trade `json:"trade,omitempty"`
}

type Asset struct {
	Symbol       string `json:"symbol"`
	Amount       string `json:"amount"`
	LockedAmount string `json:"locked_amount"`
}

type Balance struct {
	Balance       string  `json:"balance"`
	LockedBalance string  `json:"locked_balance"`
	TotalBalance  string  `json:"total_balance"`
	Assets        []Asset `json:"assets"`
}

type LedgerEntry struct {
	ID            string    `json:"id"`
	Currency      string    `json:"currency"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
	LockedAmount  string    `json:"locked_amount"`
	LockedAfter   string    `json:"locked_after"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func FromLedgerEntry(e *domain.LedgerEntry) LedgerEntry {
	return LedgerEntry{
		ID:            e.ID.String(),
		Currency:      e.Currency,
		Amount:        e.Amount.String(),
		BalanceAfter:  e.BalanceAfter.String(),
		LockedAmount:  e.LockedAmount.String(),
		LockedAfter:   e.LockedAfter.String(),
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID.String(),
		Description:   e.Description,
		CreatedAt:     e.CreatedAt,
	}
}

type Error struct {
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	Reference string `json:"reference,omitempty"`
}
