package security

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange-core/internal/domain"
)

// Threat is one detected pattern instance with its evidence.
type Threat struct {
	Type          domain.SecurityEventType
	Severity      domain.Severity
	Metrics       map[string]any
	RelatedOrders []uuid.UUID
	RelatedUsers  []uuid.UUID
}

// DetectionResult aggregates every threat found in one request. RiskScore is
// the summed weight of the threat types, capped at the configured maximum.
type DetectionResult struct {
	Detected        bool
	Threats         []Threat
	HighestSeverity domain.Severity
	RiskScore       decimal.Decimal
}

// Clean is the result for a request with no findings.
func Clean() *DetectionResult {
	return &DetectionResult{RiskScore: decimal.Zero}
}

func (r *DetectionResult) ShouldBlock() bool {
	return r.Detected && r.HighestSeverity.ShouldBlock()
}

func (r *DetectionResult) ShouldThrottle() bool {
	return r.Detected && !r.HighestSeverity.ShouldBlock()
}

func (r *DetectionResult) ShouldAlert() bool {
	return r.Detected && r.HighestSeverity.ShouldAlert()
}

func (r *DetectionResult) ThrottleDelay() time.Duration {
	if !r.Detected {
		return 0
	}
	return r.HighestSeverity.ThrottleDelay()
}

// AllRelatedOrders collects the distinct order ids across every threat.
func (r *DetectionResult) AllRelatedOrders() []uuid.UUID {
	return collectIDs(r.Threats, func(t Threat) []uuid.UUID { return t.RelatedOrders })
}

// AllRelatedUsers collects the distinct user ids across every threat.
func (r *DetectionResult) AllRelatedUsers() []uuid.UUID {
	return collectIDs(r.Threats, func(t Threat) []uuid.UUID { return t.RelatedUsers })
}

func (r *DetectionResult) HasThreatType(t domain.SecurityEventType) bool {
	for _, threat := range r.Threats {
		if threat.Type == t {
			return true
		}
	}
	return false
}

func collectIDs(threats []Threat, pick func(Threat) []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, t := range threats {
		for _, id := range pick(t) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
