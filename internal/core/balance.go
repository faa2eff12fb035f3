package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

// USDCurrency is the ledger currency code of the quote side.
const USDCurrency = "USD"

// Balances implements the fund movements every order and trade is built from.
// Each method runs inside the caller's transaction, takes the relevant row
// lock, applies one mutation and appends exactly one ledger entry. Nothing
// here commits: the caller owns the transaction boundary.
type Balances struct {
	log *zap.Logger
}

func NewBalances(log *zap.Logger) *Balances {
	return &Balances{log: log}
}

// LockUSD moves amount from the user's available USD into locked funds. The
// caller passes its current view of the user; if the locked row's version
// differs, another writer got in between the read and this lock and the call
// fails with domain.ErrOptimisticLock. On success the caller's view is
// replaced with the committed state.
func (b *Balances) LockUSD(ctx context.Context, tx port.Tx, user *domain.User, amount decimal.Decimal, refID uuid.UUID, description string) error {
	locked, err := tx.GetUserForUpdate(ctx, user.ID)
	if err != nil {
		return err
	}
	if locked.Version != user.Version {
		return domain.ErrOptimisticLock
	}
	if locked.Balance.LessThan(amount) {
		return &domain.InsufficientBalanceError{Currency: USDCurrency, Required: amount, Available: locked.Balance}
	}
	entry := usdEntry(locked, amount.Neg(), amount, domain.RefOrderLock, refID, description)
	locked.Balance = locked.Balance.Sub(amount)
	locked.LockedBalance = locked.LockedBalance.Add(amount)
	locked.Version++
	if err := tx.SaveUser(ctx, locked); err != nil {
		return err
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return err
	}
	*user = *locked
	return nil
}

// UnlockUSD returns amount from locked funds to the available balance, with
// the same optimistic version check as LockUSD. The move itself is
// unconditional: callers release only what they previously locked.
func (b *Balances) UnlockUSD(ctx context.Context, tx port.Tx, user *domain.User, amount decimal.Decimal, refID uuid.UUID, description string) error {
	locked, err := tx.GetUserForUpdate(ctx, user.ID)
	if err != nil {
		return err
	}
	if locked.Version != user.Version {
		return domain.ErrOptimisticLock
	}
	entry := usdEntry(locked, amount, amount.Neg(), domain.RefOrderUnlock, refID, description)
	locked.Balance = locked.Balance.Add(amount)
	locked.LockedBalance = locked.LockedBalance.Sub(amount)
	locked.Version++
	if err := tx.SaveUser(ctx, locked); err != nil {
		return err
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return err
	}
	*user = *locked
	return nil
}

// DebitLockedUSD permanently removes amount from the user's locked funds,
// unconditionally. Used during settlement while the matching engine already
// holds both orders, so it locks by id instead of taking a version baseline.
func (b *Balances) DebitLockedUSD(ctx context.Context, tx port.Tx, userID uuid.UUID, amount decimal.Decimal, refType string, refID uuid.UUID, description string) (*domain.User, error) {
	locked, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	entry := usdEntry(locked, decimal.Zero, amount.Neg(), refType, refID, description)
	locked.LockedBalance = locked.LockedBalance.Sub(amount)
	locked.Version++
	if err := tx.SaveUser(ctx, locked); err != nil {
		return nil, err
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	return locked, nil
}

// RefundLockedUSD moves amount from locked funds back to the available
// balance. The matching engine calls it with the price-improvement surplus
// after a buy order executes below its limit.
func (b *Balances) RefundLockedUSD(ctx context.Context, tx port.Tx, userID uuid.UUID, amount decimal.Decimal, refID uuid.UUID, description string) (*domain.User, error) {
	locked, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if locked.LockedBalance.LessThan(amount) {
		return nil, &domain.InsufficientBalanceError{Currency: USDCurrency, Required: amount, Available: locked.LockedBalance}
	}
	entry := usdEntry(locked, amount, amount.Neg(), domain.RefRefund, refID, description)
	locked.Balance = locked.Balance.Add(amount)
	locked.LockedBalance = locked.LockedBalance.Sub(amount)
	locked.Version++
	if err := tx.SaveUser(ctx, locked); err != nil {
		return nil, err
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	return locked, nil
}

// CreditUSD adds amount to the user's available balance.
func (b *Balances) CreditUSD(ctx context.Context, tx port.Tx, userID uuid.UUID, amount decimal.Decimal, refType string, refID uuid.UUID, description string) (*domain.User, error) {
	locked, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	entry := usdEntry(locked, amount, decimal.Zero, refType, refID, description)
	locked.Balance = locked.Balance.Add(amount)
	locked.Version++
	if err := tx.SaveUser(ctx, locked); err != nil {
		return nil, err
	}
	if err := tx.AppendLedgerEntry(ctx, entry); err != nil {
		return nil, err
	}
	return locked, nil
}

// LockAsset moves amount of the user's holding into its locked portion. A
// missing holding is an insufficiency, not a storage error.
func (b *Balances) LockAsset(ctx context.Context, tx port.Tx, userID uuid.UUID, symbol string, amount decimal.Decimal, refID uuid.UUID, description string) error {
	asset, err := tx.GetAssetForUpdate(ctx, userID, symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.InsufficientBalanceError{Currency: symbol, Required: amount, Available: decimal.Zero}
	}
	if err != nil {
		return err
	}
	if asset.Amount.LessThan(amount) {
		return &domain.InsufficientBalanceError{Currency: symbol, Required: amount, Available: asset.Amount}
	}
	entry := assetEntry(asset, amount.Neg(), amount, domain.RefOrderLock, refID, description)
	asset.Amount = asset.Amount.Sub(amount)
	asset.LockedAmount = asset.LockedAmount.Add(amount)
	asset.Version++
	if err := tx.SaveAsset(ctx, asset); err != nil {
		return err
	}
	return tx.AppendLedgerEntry(ctx, entry)
}

// UnlockAsset returns amount from the holding's locked portion.
func (b *Balances) UnlockAsset(ctx context.Context, tx port.Tx, userID uuid.UUID, symbol string, amount decimal.Decimal, refID uuid.UUID, description string) error {
	asset, err := tx.GetAssetForUpdate(ctx, userID, symbol)
	if err != nil {
		return err
	}
	entry := assetEntry(asset, amount, amount.Neg(), domain.RefOrderUnlock, refID, description)
	asset.Amount = asset.Amount.Add(amount)
	asset.LockedAmount = asset.LockedAmount.Sub(amount)
	asset.Version++
	if err := tx.SaveAsset(ctx, asset); err != nil {
		return err
	}
	return tx.AppendLedgerEntry(ctx, entry)
}

// DebitLockedAsset permanently removes amount from the holding's locked
// portion during settlement.
func (b *Balances) DebitLockedAsset(ctx context.Context, tx port.Tx, userID uuid.UUID, symbol string, amount decimal.Decimal, refType string, refID uuid.UUID, description string) error {
	asset, err := tx.GetAssetForUpdate(ctx, userID, symbol)
	if err != nil {
		return err
	}
	entry := assetEntry(asset, decimal.Zero, amount.Neg(), refType, refID, description)
	asset.LockedAmount = asset.LockedAmount.Sub(amount)
	asset.Version++
	if err := tx.SaveAsset(ctx, asset); err != nil {
		return err
	}
	return tx.AppendLedgerEntry(ctx, entry)
}

// CreditAsset adds amount to the user's holding, creating the zero row first
// when the user has never held the symbol.
func (b *Balances) CreditAsset(ctx context.Context, tx port.Tx, userID uuid.UUID, symbol string, amount decimal.Decimal, refType string, refID uuid.UUID, description string) error {
	asset, err := tx.GetOrCreateAssetForUpdate(ctx, userID, symbol)
	if err != nil {
		return err
	}
	entry := assetEntry(asset, amount, decimal.Zero, refType, refID, description)
	asset.Amount = asset.Amount.Add(amount)
	asset.Version++
	if err := tx.SaveAsset(ctx, asset); err != nil {
		return err
	}
	return tx.AppendLedgerEntry(ctx, entry)
}

func usdEntry(u *domain.User, amount, lockedDelta decimal.Decimal, refType string, refID uuid.UUID, description string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:             uuid.New(),
		UserID:         u.ID,
		Currency:       USDCurrency,
		Amount:         amount,
		BalanceBefore:  u.Balance,
		BalanceAfter:   u.Balance.Add(amount),
		LockedAmount:   lockedDelta,
		LockedBefore:   u.LockedBalance,
		LockedAfter:    u.LockedBalance.Add(lockedDelta),
		ReferenceType:  refType,
		ReferenceID:    refID,
		Description:    description,
		IdempotencyKey: idemKey(refType, refID, u.ID, USDCurrency),
		CreatedAt:      time.Now().UTC(),
	}
}

func assetEntry(a *domain.Asset, amount, lockedDelta decimal.Decimal, refType string, refID uuid.UUID, description string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:             uuid.New(),
		UserID:         a.UserID,
		Currency:       a.Symbol,
		Amount:         amount,
		BalanceBefore:  a.Amount,
		BalanceAfter:   a.Amount.Add(amount),
		LockedAmount:   lockedDelta,
		LockedBefore:   a.LockedAmount,
		LockedAfter:    a.LockedAmount.Add(lockedDelta),
		ReferenceType:  refType,
		ReferenceID:    refID,
		Description:    description,
		IdempotencyKey: idemKey(refType, refID, a.UserID, a.Symbol),
		CreatedAt:      time.Now().UTC(),
	}
}

func idemKey(refType string, refID, userID uuid.UUID, currency string) string {
	return fmt.Sprintf("%s:%s:%s:%s", refType, refID, userID, currency)
}
