package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Detection holds every tunable of the manipulation detector and the
// enforcement policy. Components receive a snapshot per call rather than
// reading ambient global state.
type Detection struct {
	Enabled bool

	Spoofing struct {
		CancelRateThreshold   float64
		MinOrdersForDetection int
		QuickCancelWindow     time.Duration
		LargeOrderMultiplier  float64
		Lookback              time.Duration
	}

	WashTrading struct {
		SameIPTradeThreshold int
		TimingWindow         time.Duration
		Lookback             time.Duration
	}

	Layering struct {
		MinOrdersSamePrice   int
		BatchCancelThreshold int
		BatchWindow          time.Duration
		PriceLevelTolerance  float64
	}

	PriceManipulation struct {
		DeviationFromMarket float64
		ExtremeDeviation    float64
	}

	Spam struct {
		OrdersPerMinute   int64
		RequestsPerSecond int64
	}

	RiskScoring struct {
		AutoFlagThreshold    float64
		AutoSuspendThreshold float64
		DecayRatePerDay      float64
		MaxScore             float64
	}

	ThrottlingEnabled bool

	Alerts struct {
		Enabled      bool
		Cooldown     time.Duration
		AdminChannel string
	}

	// ProtectedEndpoints maps HTTP method to path patterns; "*" matches one
	// path segment.
	ProtectedEndpoints map[string][]string

	IPWhitelist   []string
	UserWhitelist []string
}

// DefaultDetection returns the reference thresholds.
func DefaultDetection() Detection {
	var d Detection
	d.Enabled = true

	d.Spoofing.CancelRateThreshold = 0.7
	d.Spoofing.MinOrdersForDetection = 5
	d.Spoofing.QuickCancelWindow = 30 * time.Second
	d.Spoofing.LargeOrderMultiplier = 3.0
	d.Spoofing.Lookback = 60 * time.Minute

	d.WashTrading.SameIPTradeThreshold = 3
	d.WashTrading.TimingWindow = 60 * time.Second
	d.WashTrading.Lookback = 24 * time.Hour

	d.Layering.MinOrdersSamePrice = 3
	d.Layering.BatchCancelThreshold = 3
	d.Layering.BatchWindow = 10 * time.Second
	d.Layering.PriceLevelTolerance = 0.0001

	d.PriceManipulation.DeviationFromMarket = 0.05
	d.PriceManipulation.ExtremeDeviation = 0.20

	d.Spam.OrdersPerMinute = 30
	d.Spam.RequestsPerSecond = 5

	d.RiskScoring.AutoFlagThreshold = 50
	d.RiskScoring.AutoSuspendThreshold = 80
	d.RiskScoring.DecayRatePerDay = 5
	d.RiskScoring.MaxScore = 100

	d.ThrottlingEnabled = true

	d.Alerts.Enabled = true
	d.Alerts.Cooldown = 5 * time.Minute
	d.Alerts.AdminChannel = "security-alerts"

	d.ProtectedEndpoints = map[string][]string{
		"POST": {
			"/api/orders",
			"/api/orders/*/cancel",
		},
	}
	return d
}

// Provider hands out the current detection configuration. Implementations
// must be safe for concurrent use and cheap enough to call on every request.
type Provider interface {
	Detection() Detection
}

// EnvProvider re-reads threshold overrides from the environment on every
// call, so tuning a variable applies to the next request without a restart.
type EnvProvider struct {
	v *viper.Viper
}

func NewEnvProvider() *EnvProvider {
	v := viper.New()
	v.SetEnvPrefix("detection")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &EnvProvider{v: v}
}

func (p *EnvProvider) Detection() Detection {
	d := DefaultDetection()

	if p.v.IsSet("enabled") {
		d.Enabled = p.v.GetBool("enabled")
	}
	if p.v.IsSet("spoofing_cancel_rate") {
		d.Spoofing.CancelRateThreshold = p.v.GetFloat64("spoofing_cancel_rate")
	}
	if p.v.IsSet("spam_orders_per_minute") {
		d.Spam.OrdersPerMinute = p.v.GetInt64("spam_orders_per_minute")
	}
	if p.v.IsSet("spam_requests_per_second") {
		d.Spam.RequestsPerSecond = p.v.GetInt64("spam_requests_per_second")
	}
	if p.v.IsSet("throttling_enabled") {
		d.ThrottlingEnabled = p.v.GetBool("throttling_enabled")
	}
	if p.v.IsSet("alerts_enabled") {
		d.Alerts.Enabled = p.v.GetBool("alerts_enabled")
	}
	if p.v.IsSet("ip_whitelist") {
		d.IPWhitelist = splitCSV(p.v.GetString("ip_whitelist"))
	}
	if p.v.IsSet("user_whitelist") {
		d.UserWhitelist = splitCSV(p.v.GetString("user_whitelist"))
	}
	return d
}

// StaticProvider returns a fixed snapshot; used by tests and the maintenance
// binary.
type StaticProvider struct {
	Snapshot Detection
}

func (p *StaticProvider) Detection() Detection { return p.Snapshot }

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
