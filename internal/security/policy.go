package security

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/metrics"
	"github.com/quantex/exchange-core/internal/port"
)

// SuspensionReason is written to accounts the policy suspends automatically.
const SuspensionReason = "Automated suspension due to high security risk score"

// Decision tells the transport layer what to do with the request. Reference
// is the first recorded event's id, returned to a blocked caller.
type Decision struct {
	Block     bool
	Reference uuid.UUID
	Delay     time.Duration
}

// Policy turns a detection result into consequences: it records one security
// event per threat, raises the user's risk score with its flag and suspend
// thresholds, hands alert-worthy events to the alert worker and tells the
// caller whether to block or how long it was delayed.
type Policy struct {
	repo    port.Repository
	alerts  *Alerts
	cfg     config.Provider
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewPolicy(repo port.Repository, alerts *Alerts, cfg config.Provider, m *metrics.Metrics, log *zap.Logger) *Policy {
	return &Policy{repo: repo, alerts: alerts, cfg: cfg, metrics: m, log: log}
}

// Enforce applies the policy for one analyzed request. Event rows and the
// risk score update commit in one transaction; throttling sleeps before
// returning so the caller just forwards the request afterwards.
func (p *Policy) Enforce(ctx context.Context, rc *RequestContext, result *DetectionResult) (*Decision, error) {
	if !result.Detected {
		return &Decision{}, nil
	}
	cfg := p.cfg.Detection()

	action := domain.ActionLogged
	switch {
	case result.ShouldBlock():
		action = domain.ActionBlocked
	case result.ShouldThrottle():
		action = domain.ActionThrottled
	}

	events := make([]*domain.SecurityEvent, 0, len(result.Threats))
	now := time.Now().UTC()
	err := withTx(ctx, p.repo, func(tx port.Tx) error {
		for _, threat := range result.Threats {
			event := &domain.SecurityEvent{
				ID:               uuid.New(),
				EventType:        threat.Type,
				Severity:         threat.Severity,
				UserID:           rc.UserID(),
				IPAddress:        rc.IP,
				UserAgent:        rc.UserAgent,
				Symbol:           rc.Symbol,
				Endpoint:         rc.Endpoint,
				HTTPMethod:       rc.Method,
				DetectionMetrics: threat.Metrics,
				RelatedOrders:    threat.RelatedOrders,
				RelatedUsers:     threat.RelatedUsers,
				ActionTaken:      action,
				ThrottleDelay:    result.ThrottleDelay(),
				RiskScore:        threat.Type.RiskWeight(),
				CreatedAt:        now,
			}
			if err := tx.CreateSecurityEvent(ctx, event); err != nil {
				return err
			}
			events = append(events, event)
		}
		if rc.User != nil {
			return p.raiseRiskScore(ctx, tx, cfg, rc.User.ID, result, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, threat := range result.Threats {
		p.metrics.ThreatsDetected.WithLabelValues(string(threat.Type), string(threat.Severity)).Inc()
	}

	if result.ShouldAlert() && cfg.Alerts.Enabled {
		for _, event := range events {
			p.alerts.Dispatch(event)
		}
	}

	if result.ShouldBlock() {
		p.metrics.RequestsBlocked.Inc()
		p.log.Warn("request blocked",
			zap.String("user_key", rc.UserKey()),
			zap.String("endpoint", rc.Endpoint),
			zap.Strings("threats", threatTypes(result.Threats)))
		return &Decision{Block: true, Reference: events[0].ID}, nil
	}

	if result.ShouldThrottle() && cfg.ThrottlingEnabled {
		delay := result.ThrottleDelay()
		if delay > 0 {
			p.metrics.RequestsThrottled.Inc()
			p.log.Info("request throttled",
				zap.String("user_key", rc.UserKey()),
				zap.Duration("delay", delay),
				zap.Strings("threats", threatTypes(result.Threats)))
			p.sleep(ctx, delay)
			return &Decision{Delay: delay}, nil
		}
	}
	return &Decision{}, nil
}

// raiseRiskScore adds the detection's score to the account, capped at the
// configured maximum, flags the account for review at the flag threshold and
// suspends it at the suspend threshold.
func (p *Policy) raiseRiskScore(ctx context.Context, tx port.Tx, cfg config.Detection, userID uuid.UUID, result *DetectionResult, now time.Time) error {
	user, err := tx.GetUserForUpdate(ctx, userID)
	if err != nil {
		return err
	}

	maxScore := decimal.NewFromFloat(cfg.RiskScoring.MaxScore)
	newScore := user.RiskScore.Add(result.RiskScore)
	if newScore.GreaterThan(maxScore) {
		newScore = maxScore
	}
	newScore = newScore.Truncate(domain.RiskScale)

	user.RiskScore = newScore
	user.RiskScoreUpdatedAt = &now
	user.SecurityEventCount += int64(len(result.Threats))
	user.LastSecurityEventAt = &now

	if newScore.GreaterThanOrEqual(decimal.NewFromFloat(cfg.RiskScoring.AutoFlagThreshold)) && !user.ReviewRequired {
		user.ReviewRequired = true
		p.log.Warn("account flagged for review",
			zap.String("user_id", userID.String()),
			zap.String("risk_score", newScore.String()))
	}
	if newScore.GreaterThanOrEqual(decimal.NewFromFloat(cfg.RiskScoring.AutoSuspendThreshold)) && !user.IsSuspended() {
		user.SuspendedAt = &now
		user.SuspensionReason = SuspensionReason
		p.log.Warn("account suspended",
			zap.String("user_id", userID.String()),
			zap.String("risk_score", newScore.String()))
	}

	user.Version++
	return tx.SaveUser(ctx, user)
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func threatTypes(threats []Threat) []string {
	types := make([]string, len(threats))
	for i, t := range threats {
		types[i] = string(t.Type)
	}
	return types
}

func withTx(ctx context.Context, repo port.Repository, fn func(port.Tx) error) error {
	tx, err := repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
