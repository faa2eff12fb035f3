package security

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

// Detector runs the manipulation pattern analysis over one request. It only
// reads: recording events and punishing accounts is the Policy's job.
//
// Thresholds are fetched from the Provider on every Analyze call, so
// operational tuning applies to the next request without a restart.
type Detector struct {
	repo     port.Repository
	counters port.CounterStore
	cfg      config.Provider
	log      *zap.Logger
}

func NewDetector(repo port.Repository, counters port.CounterStore, cfg config.Provider, log *zap.Logger) *Detector {
	return &Detector{repo: repo, counters: counters, cfg: cfg, log: log}
}

// Analyze runs every detector applicable to the request and aggregates the
// findings. Guests only get the rate-based checks; the behavioral detectors
// need an order history to look at.
func (d *Detector) Analyze(ctx context.Context, rc *RequestContext) (*DetectionResult, error) {
	cfg := d.cfg.Detection()

	if !cfg.Enabled || d.isWhitelisted(cfg, rc) {
		return Clean(), nil
	}

	now := time.Now().UTC()
	var threats []Threat

	spam, err := d.detectRapidFireSpam(ctx, cfg, rc, now)
	if err != nil {
		return nil, err
	}
	threats = append(threats, spam...)

	if rc.User != nil {
		recent, err := d.repo.ListUserOrdersSince(ctx, rc.User.ID, now.Add(-cfg.Spoofing.Lookback))
		if err != nil {
			return nil, err
		}

		threats = append(threats, d.detectOrderSpoofing(cfg, recent)...)
		threats = append(threats, d.detectLayering(cfg, recent, now)...)

		price, err := d.detectPriceManipulation(ctx, cfg, rc)
		if err != nil {
			return nil, err
		}
		threats = append(threats, price...)

		wash, err := d.detectWashTrading(ctx, cfg, rc, now)
		if err != nil {
			return nil, err
		}
		threats = append(threats, wash...)
	}

	return d.buildResult(cfg, threats), nil
}

func (d *Detector) isWhitelisted(cfg config.Detection, rc *RequestContext) bool {
	for _, ip := range cfg.IPWhitelist {
		if ip == rc.IP {
			return true
		}
	}
	if rc.User != nil {
		id := rc.User.ID.String()
		for _, u := range cfg.UserWhitelist {
			if u == id {
				return true
			}
		}
	}
	return false
}

func (d *Detector) detectRapidFireSpam(ctx context.Context, cfg config.Detection, rc *RequestContext, now time.Time) ([]Threat, error) {
	var threats []Threat
	key := rc.UserKey() + ":orders"

	count, err := d.counters.IncrementAndGet(ctx, key, "count", 1)
	if err != nil {
		return nil, err
	}
	if count > cfg.Spam.OrdersPerMinute {
		severity := domain.SeverityMedium
		if count > cfg.Spam.OrdersPerMinute*2 {
			severity = domain.SeverityHigh
		}
		threats = append(threats, Threat{
			Type:     domain.ThreatRapidFireSpam,
			Severity: severity,
			Metrics: map[string]any{
				"current_rate": count,
				"threshold":    cfg.Spam.OrdersPerMinute,
				"window":       "1 minute",
			},
		})
	}

	// Per-second rate approximated over a 5-second bucket.
	burstKey := fmt.Sprintf("%s:burst:%d", key, now.Unix()/5)
	burst, err := d.counters.IncrementAndGet(ctx, burstKey, "count", 1)
	if err != nil {
		return nil, err
	}
	if burst > cfg.Spam.RequestsPerSecond*5 {
		threats = append(threats, Threat{
			Type:     domain.ThreatRapidFireSpam,
			Severity: domain.SeverityHigh,
			Metrics: map[string]any{
				"current_rate": math.Round(float64(burst)/5*100) / 100,
				"threshold":    cfg.Spam.RequestsPerSecond,
				"window":       "5 seconds",
			},
		})
	}
	return threats, nil
}

func (d *Detector) detectOrderSpoofing(cfg config.Detection, orders []*domain.Order) []Threat {
	var threats []Threat
	if len(orders) < cfg.Spoofing.MinOrdersForDetection {
		return nil
	}

	var cancelled []*domain.Order
	for _, o := range orders {
		if o.Status == domain.OrderCancelled {
			cancelled = append(cancelled, o)
		}
	}
	cancelRate := float64(len(cancelled)) / float64(len(orders))

	if cancelRate >= cfg.Spoofing.CancelRateThreshold {
		var quickCancels []*domain.Order
		for _, o := range cancelled {
			if isQuickCancel(o, cfg.Spoofing.QuickCancelWindow) {
				quickCancels = append(quickCancels, o)
			}
		}
		if len(quickCancels) >= 3 {
			severity := domain.SeverityMedium
			if cancelRate >= 0.9 {
				severity = domain.SeverityHigh
			}
			threats = append(threats, Threat{
				Type:     domain.ThreatOrderSpoofing,
				Severity: severity,
				Metrics: map[string]any{
					"cancel_rate":                    math.Round(cancelRate*1000) / 1000,
					"threshold":                      cfg.Spoofing.CancelRateThreshold,
					"quick_cancels":                  len(quickCancels),
					"quick_cancel_threshold_seconds": cfg.Spoofing.QuickCancelWindow.Seconds(),
					"total_orders":                   len(orders),
				},
				RelatedOrders: orderIDs(quickCancels),
			})
		}
	}

	// Large orders cancelled quickly are the classic spoof shape even when
	// the overall cancel rate stays under the threshold.
	amounts := make([]decimal.Decimal, len(orders))
	for i, o := range orders {
		amounts[i] = o.Amount
	}
	avg := domain.DivMoney(domain.SumMoney(amounts), decimal.NewFromInt(int64(len(orders))), domain.MoneyScale)
	if avg.IsPositive() {
		largeThreshold := domain.MulMoney(avg, decimal.NewFromFloat(cfg.Spoofing.LargeOrderMultiplier))
		var largeQuick []*domain.Order
		for _, o := range cancelled {
			if o.Amount.GreaterThanOrEqual(largeThreshold) && isQuickCancel(o, cfg.Spoofing.QuickCancelWindow) {
				largeQuick = append(largeQuick, o)
			}
		}
		if len(largeQuick) >= 2 {
			threats = append(threats, Threat{
				Type:     domain.ThreatOrderSpoofing,
				Severity: domain.SeverityHigh,
				Metrics: map[string]any{
					"large_quick_cancels":   len(largeQuick),
					"large_order_threshold": largeThreshold.String(),
					"average_order_size":    avg.String(),
				},
				RelatedOrders: orderIDs(largeQuick),
			})
		}
	}
	return threats
}

func (d *Detector) detectLayering(cfg config.Detection, orders []*domain.Order, now time.Time) []Threat {
	var threats []Threat
	if len(orders) == 0 {
		return nil
	}

	var batchCancels []*domain.Order
	batchCutoff := now.Add(-cfg.Layering.BatchWindow)
	for _, o := range orders {
		if o.Status == domain.OrderCancelled && o.CancelledAt != nil && !o.CancelledAt.Before(batchCutoff) {
			batchCancels = append(batchCancels, o)
		}
	}
	if len(batchCancels) >= cfg.Layering.BatchCancelThreshold {
		threats = append(threats, Threat{
			Type:     domain.ThreatLayering,
			Severity: domain.SeverityHigh,
			Metrics: map[string]any{
				"batch_cancels":  len(batchCancels),
				"window_seconds": cfg.Layering.BatchWindow.Seconds(),
				"threshold":      cfg.Layering.BatchCancelThreshold,
			},
			RelatedOrders: orderIDs(batchCancels),
		})
	}

	var active []*domain.Order
	for _, o := range orders {
		if o.Status.IsActive() {
			active = append(active, o)
		}
	}
	if len(active) < cfg.Layering.MinOrdersSamePrice {
		return threats
	}

	groups := make(map[string][]*domain.Order)
	for _, o := range active {
		level := priceLevel(o.Price, cfg.Layering.PriceLevelTolerance)
		groups[level] = append(groups[level], o)
	}
	for level, stacked := range groups {
		if len(stacked) < cfg.Layering.MinOrdersSamePrice {
			continue
		}
		amounts := make([]decimal.Decimal, len(stacked))
		for i, o := range stacked {
			amounts[i] = o.Amount
		}
		threats = append(threats, Threat{
			Type:     domain.ThreatLayering,
			Severity: domain.SeverityMedium,
			Metrics: map[string]any{
				"orders_at_price": len(stacked),
				"price_level":     level,
				"threshold":       cfg.Layering.MinOrdersSamePrice,
				"total_amount":    domain.SumMoney(amounts).String(),
			},
			RelatedOrders: orderIDs(stacked),
		})
	}
	return threats
}

func (d *Detector) detectPriceManipulation(ctx context.Context, cfg config.Detection, rc *RequestContext) ([]Threat, error) {
	if rc.Price == nil || rc.Symbol == "" {
		return nil, nil
	}

	market, ok, err := d.marketPrice(ctx, rc.Symbol)
	if err != nil {
		return nil, err
	}
	if !ok || !market.IsPositive() {
		return nil, nil
	}

	deviation := rc.Price.Sub(market).Abs().Div(market).InexactFloat64()

	switch {
	case deviation >= cfg.PriceManipulation.ExtremeDeviation:
		return []Threat{{
			Type:     domain.ThreatPriceManipulation,
			Severity: domain.SeverityCritical,
			Metrics: map[string]any{
				"order_price":       rc.Price.String(),
				"market_price":      market.String(),
				"deviation_percent": math.Round(deviation*10000) / 100,
				"extreme_threshold": cfg.PriceManipulation.ExtremeDeviation * 100,
			},
		}}, nil
	case deviation >= cfg.PriceManipulation.DeviationFromMarket:
		return []Threat{{
			Type:     domain.ThreatPriceManipulation,
			Severity: domain.SeverityMedium,
			Metrics: map[string]any{
				"order_price":       rc.Price.String(),
				"market_price":      market.String(),
				"deviation_percent": math.Round(deviation*10000) / 100,
				"threshold":         cfg.PriceManipulation.DeviationFromMarket * 100,
			},
		}}, nil
	}
	return nil, nil
}

// marketPrice is the last trade price, falling back to the book mid-price,
// falling back to whichever side of the book is populated.
func (d *Detector) marketPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	last, ok, err := d.repo.LastTradePrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, false, err
	}
	if ok {
		return last, true, nil
	}

	bid, ask, err := d.repo.TopOfBook(ctx, symbol)
	if err != nil {
		return decimal.Zero, false, err
	}
	switch {
	case bid != nil && ask != nil:
		return domain.DivMoney(bid.Add(*ask), decimal.NewFromInt(2), domain.MoneyScale), true, nil
	case bid != nil:
		return *bid, true, nil
	case ask != nil:
		return *ask, true, nil
	}
	return decimal.Zero, false, nil
}

func (d *Detector) detectWashTrading(ctx context.Context, cfg config.Detection, rc *RequestContext, now time.Time) ([]Threat, error) {
	trades, err := d.repo.ListUserTradesSince(ctx, rc.User.ID, now.Add(-cfg.WashTrading.Lookback))
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, nil
	}

	var threats []Threat

	var sameIP []port.TradeWithOrders
	for _, t := range trades {
		buyIP, sellIP := t.BuyOrder.IPAddress, t.SellOrder.IPAddress
		if buyIP != "" && sellIP != "" && buyIP == sellIP {
			sameIP = append(sameIP, t)
		}
	}
	if len(sameIP) >= cfg.WashTrading.SameIPTradeThreshold {
		users := make(map[uuid.UUID]struct{})
		orders := make(map[uuid.UUID]struct{})
		var relatedUsers, relatedOrders []uuid.UUID
		for _, t := range sameIP {
			for _, u := range []uuid.UUID{t.Trade.BuyerID, t.Trade.SellerID} {
				if _, ok := users[u]; !ok {
					users[u] = struct{}{}
					relatedUsers = append(relatedUsers, u)
				}
			}
			for _, o := range []uuid.UUID{t.Trade.BuyOrderID, t.Trade.SellOrderID} {
				if _, ok := orders[o]; !ok {
					orders[o] = struct{}{}
					relatedOrders = append(relatedOrders, o)
				}
			}
		}
		threats = append(threats, Threat{
			Type:     domain.ThreatWashTrading,
			Severity: domain.SeverityCritical,
			Metrics: map[string]any{
				"same_ip_trades": len(sameIP),
				"threshold":      cfg.WashTrading.SameIPTradeThreshold,
				"lookback_hours": cfg.WashTrading.Lookback.Hours(),
			},
			RelatedOrders: relatedOrders,
			RelatedUsers:  relatedUsers,
		})
	}

	threats = append(threats, d.detectCoordinatedTiming(cfg, rc, trades)...)
	return threats, nil
}

// detectCoordinatedTiming flags windows in which the user traded against
// itself: appearing as both buyer and seller within one timing bucket.
func (d *Detector) detectCoordinatedTiming(cfg config.Detection, rc *RequestContext, trades []port.TradeWithOrders) []Threat {
	windowSeconds := int64(cfg.WashTrading.TimingWindow.Seconds())
	if windowSeconds <= 0 {
		return nil
	}

	byWindow := make(map[int64][]port.TradeWithOrders)
	for _, t := range trades {
		w := t.Trade.CreatedAt.Unix() / windowSeconds
		byWindow[w] = append(byWindow[w], t)
	}

	var threats []Threat
	for _, windowTrades := range byWindow {
		if len(windowTrades) < 2 {
			continue
		}
		asBuyer, asSeller := 0, 0
		for _, t := range windowTrades {
			if t.Trade.BuyerID == rc.User.ID {
				asBuyer++
			}
			if t.Trade.SellerID == rc.User.ID {
				asSeller++
			}
		}
		if asBuyer > 0 && asSeller > 0 {
			threats = append(threats, Threat{
				Type:     domain.ThreatCoordinatedTrading,
				Severity: domain.SeverityHigh,
				Metrics: map[string]any{
					"trades_in_window": len(windowTrades),
					"as_buyer":         asBuyer,
					"as_seller":        asSeller,
					"window_seconds":   windowSeconds,
				},
			})
		}
	}
	return threats
}

func (d *Detector) buildResult(cfg config.Detection, threats []Threat) *DetectionResult {
	if len(threats) == 0 {
		return Clean()
	}

	highest := domain.SeverityLow
	score := decimal.Zero
	for _, t := range threats {
		highest = domain.MaxSeverity(highest, t.Severity)
		score = score.Add(t.Type.RiskWeight())
	}
	maxScore := decimal.NewFromFloat(cfg.RiskScoring.MaxScore)
	if score.GreaterThan(maxScore) {
		score = maxScore
	}

	return &DetectionResult{
		Detected:        true,
		Threats:         threats,
		HighestSeverity: highest,
		RiskScore:       score,
	}
}

func isQuickCancel(o *domain.Order, window time.Duration) bool {
	return o.CancelledAt != nil && o.CancelledAt.Sub(o.CreatedAt) <= window
}

func orderIDs(orders []*domain.Order) []uuid.UUID {
	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}
	return ids
}

func priceLevel(price decimal.Decimal, tolerance float64) string {
	if tolerance <= 0 {
		return price.String()
	}
	p := price.InexactFloat64()
	return strconv.FormatFloat(math.Round(p/tolerance)*tolerance, 'f', -1, 64)
}
