package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger reference types. Each names the business reason for a balance
// mutation; the referenced id points at the order, trade or external transfer
// that caused it.
const (
	RefDeposit     = "deposit"
	RefWithdrawal  = "withdrawal"
	RefOrderLock   = "order_lock"
	RefOrderUnlock = "order_unlock"
	RefTradeDebit  = "trade_debit"
	RefTradeCredit = "trade_credit"
	RefFeeDebit    = "fee_debit"
	RefRefund      = "refund"
	RefAdjustment  = "adjustment"
)

// LedgerEntry is one immutable, append-only audit row. Sign convention:
// positive means an increase of the referenced quantity (available balance for
// Amount, locked balance for LockedAmount), negative a decrease.
//
// Invariants, enforced by construction in the balance store:
//
//	BalanceAfter = BalanceBefore + Amount
//	LockedAfter  = LockedBefore + LockedAmount
type LedgerEntry struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Currency string

	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal

	LockedAmount decimal.Decimal
	LockedBefore decimal.Decimal
	LockedAfter  decimal.Decimal

	ReferenceType  string
	ReferenceID    uuid.UUID
	Description    string
	IdempotencyKey string

	CreatedAt time.Time
}
