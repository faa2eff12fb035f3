package security

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/port"
)

// Maintenance hosts the periodic jobs: daily risk score decay and expired
// rate counter cleanup.
type Maintenance struct {
	repo     port.Repository
	counters port.CounterStore
	cfg      config.Provider
	log      *zap.Logger
}

func NewMaintenance(repo port.Repository, counters port.CounterStore, cfg config.Provider, log *zap.Logger) *Maintenance {
	return &Maintenance{repo: repo, counters: counters, cfg: cfg, log: log}
}

// DecayRiskScores lowers every stale positive risk score by the daily decay
// rate and clears the review flag for accounts that dropped below the flag
// threshold. Scores untouched for less than a day keep their value.
func (m *Maintenance) DecayRiskScores(ctx context.Context) (decayed, cleared int64, err error) {
	cfg := m.cfg.Detection()
	decay := decimal.NewFromFloat(cfg.RiskScoring.DecayRatePerDay)
	flagThreshold := decimal.NewFromFloat(cfg.RiskScoring.AutoFlagThreshold)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)

	decayed, cleared, err = m.repo.DecayRiskScores(ctx, decay, flagThreshold, cutoff)
	if err != nil {
		return 0, 0, err
	}
	m.log.Info("risk scores decayed",
		zap.Int64("users_decayed", decayed),
		zap.Int64("flags_cleared", cleared))
	return decayed, cleared, nil
}

// CleanupCounters removes rate counter buckets whose window closed over an
// hour ago.
func (m *Maintenance) CleanupCounters(ctx context.Context) (int64, error) {
	deleted, err := m.counters.CleanupExpired(ctx)
	if err != nil {
		return 0, err
	}
	m.log.Info("expired rate counters removed", zap.Int64("deleted", deleted))
	return deleted, nil
}
