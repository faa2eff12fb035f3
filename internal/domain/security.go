package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SecurityEventType is the closed set of manipulation patterns the detector
// can report.
type SecurityEventType string

const (
	ThreatOrderSpoofing      SecurityEventType = "order_spoofing"
	ThreatWashTrading        SecurityEventType = "wash_trading"
	ThreatLayering           SecurityEventType = "layering"
	ThreatPriceManipulation  SecurityEventType = "price_manipulation"
	ThreatRapidFireSpam      SecurityEventType = "rapid_fire_spam"
	ThreatSuspiciousPattern  SecurityEventType = "suspicious_pattern"
	ThreatCoordinatedTrading SecurityEventType = "coordinated_trading"
)

func (t SecurityEventType) Label() string {
	switch t {
	case ThreatOrderSpoofing:
		return "Order Spoofing"
	case ThreatWashTrading:
		return "Wash Trading"
	case ThreatLayering:
		return "Layering Attack"
	case ThreatPriceManipulation:
		return "Price Manipulation"
	case ThreatRapidFireSpam:
		return "Rapid-Fire Spam"
	case ThreatSuspiciousPattern:
		return "Suspicious Pattern"
	case ThreatCoordinatedTrading:
		return "Coordinated Trading"
	}
	return string(t)
}

// RiskWeight is the fixed contribution of one detected instance of this
// threat type to a user's cumulative risk score.
func (t SecurityEventType) RiskWeight() decimal.Decimal {
	switch t {
	case ThreatOrderSpoofing:
		return decimal.NewFromInt(15)
	case ThreatWashTrading:
		return decimal.NewFromInt(25)
	case ThreatLayering:
		return decimal.NewFromInt(20)
	case ThreatPriceManipulation:
		return decimal.NewFromInt(30)
	case ThreatRapidFireSpam:
		return decimal.NewFromInt(5)
	case ThreatSuspiciousPattern:
		return decimal.NewFromInt(3)
	case ThreatCoordinatedTrading:
		return decimal.NewFromInt(18)
	}
	return decimal.Zero
}

// Severity is totally ordered: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Label() string {
	switch s {
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	}
	return string(s)
}

// Rank gives the ordering value used for max-severity aggregation.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ThrottleDelay is the fixed synchronous penalty applied to throttled
// requests. Critical never delays: it blocks instead.
func (s Severity) ThrottleDelay() time.Duration {
	switch s {
	case SeverityLow:
		return 500 * time.Millisecond
	case SeverityMedium:
		return 2 * time.Second
	case SeverityHigh:
		return 5 * time.Second
	case SeverityCritical:
		return 0
	}
	return 0
}

func (s Severity) ShouldBlock() bool {
	return s == SeverityCritical
}

func (s Severity) ShouldAlert() bool {
	return s.Rank() >= SeverityMedium.Rank()
}

// MaxSeverity returns the higher of the two.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// SecurityAction records how the policy responded to a detection.
type SecurityAction string

const (
	ActionLogged           SecurityAction = "logged"
	ActionThrottled        SecurityAction = "throttled"
	ActionBlocked          SecurityAction = "blocked"
	ActionAccountFlagged   SecurityAction = "account_flagged"
	ActionAccountSuspended SecurityAction = "account_suspended"
)

func (a SecurityAction) Label() string {
	switch a {
	case ActionLogged:
		return "Logged Only"
	case ActionThrottled:
		return "Request Throttled"
	case ActionBlocked:
		return "Request Blocked"
	case ActionAccountFlagged:
		return "Account Flagged"
	case ActionAccountSuspended:
		return "Account Suspended"
	}
	return string(a)
}

// SecurityEvent is the immutable record of one detected threat instance.
// Review and resolution fields are mutated later by a human reviewer through
// tooling outside the core.
type SecurityEvent struct {
	ID        uuid.UUID
	EventType SecurityEventType
	Severity  Severity

	UserID    *uuid.UUID
	IPAddress string
	UserAgent string

	Symbol     string
	Endpoint   string
	HTTPMethod string

	DetectionMetrics map[string]any
	RelatedOrders    []uuid.UUID
	RelatedUsers     []uuid.UUID

	ActionTaken   SecurityAction
	ThrottleDelay time.Duration
	RiskScore     decimal.Decimal

	AlertSent   bool
	AlertSentAt *time.Time

	CreatedAt time.Time
}
