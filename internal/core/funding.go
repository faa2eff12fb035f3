package core

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

// Funding handles external money entering the exchange. Withdrawals go
// through a manual review pipeline outside the core, so only deposits are
// implemented here.
type Funding struct {
	repo     port.Repository
	balances *Balances
	log      *zap.Logger
}

func NewFunding(repo port.Repository, balances *Balances, log *zap.Logger) *Funding {
	return &Funding{repo: repo, balances: balances, log: log}
}

// Deposit credits USD to the user's available balance.
func (f *Funding) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, externalRef uuid.UUID) (*domain.User, error) {
	if !amount.IsPositive() {
		return nil, domain.NewOrderError("deposit amount must be positive")
	}
	var user *domain.User
	err := withTx(ctx, f.repo, func(tx port.Tx) error {
		var err error
		user, err = f.balances.CreditUSD(ctx, tx, userID, amount, domain.RefDeposit, externalRef, "deposit")
		return err
	})
	if err != nil {
		return nil, err
	}
	f.log.Info("deposit credited",
		zap.String("user_id", userID.String()),
		zap.String("amount", amount.String()))
	return user, nil
}

// DepositAsset credits an asset holding, creating it when absent.
func (f *Funding) DepositAsset(ctx context.Context, userID uuid.UUID, symbol string, amount decimal.Decimal, externalRef uuid.UUID) error {
	if !amount.IsPositive() {
		return domain.NewOrderError("deposit amount must be positive")
	}
	err := withTx(ctx, f.repo, func(tx port.Tx) error {
		return f.balances.CreditAsset(ctx, tx, userID, symbol, amount, domain.RefDeposit, externalRef, "asset deposit")
	})
	if err != nil {
		return err
	}
	f.log.Info("asset deposit credited",
		zap.String("user_id", userID.String()),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()))
	return nil
}
