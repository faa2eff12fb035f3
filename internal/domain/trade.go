package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuyerFeeRate is the fee charged to the buy side of every trade, taken in
// USD out of the buyer's locked funds. Sellers pay no fee.
var BuyerFeeRate = Money("0.015")

// Trade is the immutable record of one executed match. QuoteAmount is derived
// as price*amount at construction and never mutated independently.
type Trade struct {
	ID          uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	Symbol      string
	Price       decimal.Decimal
	Amount      decimal.Decimal
	QuoteAmount decimal.Decimal
	BuyerFee    decimal.Decimal
	SellerFee   decimal.Decimal

	FeeCurrencyBuyer  string
	FeeCurrencySeller string
	IsBuyerMaker      bool
	CreatedAt         time.Time
}
