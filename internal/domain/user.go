package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User carries the USD balance pair, the optimistic version counter and the
// risk bookkeeping maintained by the enforcement policy.
type User struct {
	ID            uuid.UUID
	Email         string
	Balance       decimal.Decimal
	LockedBalance decimal.Decimal
	Version       int64

	IsActive         bool
	SuspendedAt      *time.Time
	SuspensionReason string

	RiskScore           decimal.Decimal
	RiskScoreUpdatedAt  *time.Time
	SecurityEventCount  int64
	LastSecurityEventAt *time.Time
	ReviewRequired      bool

	CreatedAt time.Time
}

func (u *User) IsSuspended() bool { return u.SuspendedAt != nil }

// CanTrade reports whether order placement is permitted for this account.
func (u *User) CanTrade() bool { return u.IsActive && !u.IsSuspended() }

// TotalBalance is available plus locked USD.
func (u *User) TotalBalance() decimal.Decimal {
	return u.Balance.Add(u.LockedBalance)
}

// Asset is one user's holding of a traded pair's base currency, keyed by the
// pair symbol.
type Asset struct {
	UserID       uuid.UUID
	Symbol       string
	Amount       decimal.Decimal
	LockedAmount decimal.Decimal
	Version      int64
	UpdatedAt    time.Time
}

// Symbol is a tradeable pair and its order size limits.
type Symbol struct {
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	MinTradeAmount decimal.Decimal
	MaxTradeAmount *decimal.Decimal
	Active         bool
}

// CanTrade validates an order amount against the pair's limits.
func (s *Symbol) CanTrade(amount decimal.Decimal) bool {
	if !s.Active {
		return false
	}
	if amount.LessThan(s.MinTradeAmount) {
		return false
	}
	if s.MaxTradeAmount != nil && amount.GreaterThan(*s.MaxTradeAmount) {
		return false
	}
	return true
}
