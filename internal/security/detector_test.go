package security

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/adapter/memory"
	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/domain"
)

func newDetector(cfg config.Detection) (*Detector, *memory.Repo, *memory.Counters) {
	repo := memory.NewRepo()
	counters := memory.NewCounters()
	d := NewDetector(repo, counters, &config.StaticProvider{Snapshot: cfg}, zap.NewNop())
	return d, repo, counters
}

func activeUser(repo *memory.Repo) *domain.User {
	u := &domain.User{ID: uuid.New(), IsActive: true}
	repo.SeedUser(u)
	return u
}

func requestFor(user *domain.User, ip string) *RequestContext {
	return &RequestContext{
		User:     user,
		IP:       ip,
		Endpoint: "/api/orders",
		Method:   "POST",
	}
}

func money(s string) decimal.Decimal { return domain.Money(s) }

func TestAnalyzeDisabledReturnsClean(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.Enabled = false
	d, repo, _ := newDetector(cfg)

	result, err := d.Analyze(context.Background(), requestFor(activeUser(repo), "1.2.3.4"))
	require.NoError(t, err)
	assert.False(t, result.Detected)
	assert.True(t, result.RiskScore.IsZero())
}

func TestAnalyzeSkipsWhitelistedActors(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.Spam.OrdersPerMinute = 0
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)

	cfg.IPWhitelist = []string{"1.2.3.4"}
	d.cfg = &config.StaticProvider{Snapshot: cfg}
	result, err := d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	assert.False(t, result.Detected)

	cfg.IPWhitelist = nil
	cfg.UserWhitelist = []string{user.ID.String()}
	d.cfg = &config.StaticProvider{Snapshot: cfg}
	result, err = d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	assert.False(t, result.Detected)
}

func TestSpamEscalatesWithOrderRate(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.Spam.OrdersPerMinute = 3
	cfg.Spam.RequestsPerSecond = 1000
	d, _, counters := newDetector(cfg)
	ctx := context.Background()

	// Pin the clock so every increment lands in one minute bucket.
	fixed := time.Now().UTC()
	counters.Now = func() time.Time { return fixed }

	// Guest request keyed by IP; behavioral detectors need an account.
	rc := requestFor(nil, "9.9.9.9")

	var result *DetectionResult
	var err error
	for i := 0; i < 4; i++ {
		result, err = d.Analyze(ctx, rc)
		require.NoError(t, err)
	}
	require.True(t, result.Detected)
	assert.Equal(t, domain.SeverityMedium, result.HighestSeverity)
	assert.True(t, result.HasThreatType(domain.ThreatRapidFireSpam))
	assert.Equal(t, "5", result.RiskScore.String())

	// Past double the limit the severity escalates.
	for i := 0; i < 3; i++ {
		result, err = d.Analyze(ctx, rc)
		require.NoError(t, err)
	}
	assert.Equal(t, domain.SeverityHigh, result.HighestSeverity)
}

func TestSpamBurstDetection(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.Spam.OrdersPerMinute = 1000
	cfg.Spam.RequestsPerSecond = 0
	d, _, _ := newDetector(cfg)

	result, err := d.Analyze(context.Background(), requestFor(nil, "9.9.9.9"))
	require.NoError(t, err)
	require.True(t, result.Detected)
	assert.Equal(t, domain.SeverityHigh, result.HighestSeverity)
	assert.True(t, result.HasThreatType(domain.ThreatRapidFireSpam))
}

func seedSpoofOrders(repo *memory.Repo, userID uuid.UUID, total, cancelled int, cancelAfter time.Duration, amount string) []uuid.UUID {
	now := time.Now().UTC()
	var cancelledIDs []uuid.UUID
	for i := 0; i < total; i++ {
		o := &domain.Order{
			ID:        uuid.New(),
			UserID:    userID,
			Symbol:    "BTC/USD",
			Side:      domain.Buy,
			Price:     money("100").Add(decimal.NewFromInt(int64(i))),
			Amount:    money(amount),
			Status:    domain.OrderOpen,
			CreatedAt: now.Add(-10 * time.Minute),
		}
		if i < cancelled {
			o.Status = domain.OrderCancelled
			at := o.CreatedAt.Add(cancelAfter)
			o.CancelledAt = &at
			cancelledIDs = append(cancelledIDs, o.ID)
		}
		repo.SeedOrder(o)
	}
	return cancelledIDs
}

func TestSpoofingHighCancelRate(t *testing.T) {
	cfg := config.DefaultDetection()
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)

	cancelled := seedSpoofOrders(repo, user.ID, 10, 8, 5*time.Second, "1")

	result, err := d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	require.True(t, result.Detected)
	assert.True(t, result.HasThreatType(domain.ThreatOrderSpoofing))
	assert.Equal(t, domain.SeverityMedium, result.HighestSeverity)
	assert.ElementsMatch(t, cancelled, result.AllRelatedOrders())
}

func TestSpoofingNearTotalCancelRateIsHigh(t *testing.T) {
	cfg := config.DefaultDetection()
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)

	seedSpoofOrders(repo, user.ID, 10, 9, 5*time.Second, "1")

	result, err := d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	require.True(t, result.HasThreatType(domain.ThreatOrderSpoofing))
	assert.Equal(t, domain.SeverityHigh, result.HighestSeverity)
}

func TestSpoofingSlowCancelsAreIgnored(t *testing.T) {
	cfg := config.DefaultDetection()
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)

	// High cancel rate but every cancel came minutes later.
	seedSpoofOrders(repo, user.ID, 10, 8, 5*time.Minute, "1")

	result, err := d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	assert.False(t, result.HasThreatType(domain.ThreatOrderSpoofing))
}

func TestSpoofingLargeQuickCancelsBelowRateThreshold(t *testing.T) {
	cfg := config.DefaultDetection()
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)
	now := time.Now().UTC()

	// Eight small resting orders plus two oversized ones yanked immediately:
	// cancel rate 0.2 stays under the threshold, the size pattern does not.
	for i := 0; i < 8; i++ {
		repo.SeedOrder(&domain.Order{
			ID:        uuid.New(),
			UserID:    user.ID,
			Symbol:    "BTC/USD",
			Side:      domain.Buy,
			Price:     money("100").Add(decimal.NewFromInt(int64(i))),
			Amount:    money("1"),
			Status:    domain.OrderOpen,
			CreatedAt: now.Add(-10 * time.Minute),
		})
	}
	for i := 0; i < 2; i++ {
		created := now.Add(-10 * time.Minute)
		at := created.Add(3 * time.Second)
		repo.SeedOrder(&domain.Order{
			ID:          uuid.New(),
			UserID:      user.ID,
			Symbol:      "BTC/USD",
			Side:        domain.Buy,
			Price:       money("200").Add(decimal.NewFromInt(int64(i))),
			Amount:      money("10"),
			Status:      domain.OrderCancelled,
			CreatedAt:   created,
			CancelledAt: &at,
		})
	}

	result, err := d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	require.True(t, result.HasThreatType(domain.ThreatOrderSpoofing))
	assert.Equal(t, domain.SeverityHigh, result.HighestSeverity)
}

func TestLayeringStackedOrdersAtOnePrice(t *testing.T) {
	cfg := config.DefaultDetection()
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		repo.SeedOrder(&domain.Order{
			ID:        uuid.New(),
			UserID:    user.ID,
			Symbol:    "BTC/USD",
			Side:      domain.Buy,
			Price:     money("100"),
			Amount:    money("1"),
			Status:    domain.OrderOpen,
			CreatedAt: now.Add(-5 * time.Minute),
		})
	}

	result, err := d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	require.True(t, result.HasThreatType(domain.ThreatLayering))
	assert.Equal(t, domain.SeverityMedium, result.HighestSeverity)
	assert.Len(t, result.AllRelatedOrders(), 4)
}

func TestLayeringBatchCancels(t *testing.T) {
	cfg := config.DefaultDetection()
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		created := now.Add(-5 * time.Minute)
		at := now.Add(-2 * time.Second)
		repo.SeedOrder(&domain.Order{
			ID:          uuid.New(),
			UserID:      user.ID,
			Symbol:      "BTC/USD",
			Side:        domain.Sell,
			Price:       money("100").Add(decimal.NewFromInt(int64(i))),
			Amount:      money("1"),
			Status:      domain.OrderCancelled,
			CreatedAt:   created,
			CancelledAt: &at,
		})
	}

	result, err := d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	require.True(t, result.HasThreatType(domain.ThreatLayering))
	assert.Equal(t, domain.SeverityHigh, result.HighestSeverity)
}

func TestPriceManipulationTiers(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		detected bool
		severity domain.Severity
	}{
		{"extreme deviation", "120", true, domain.SeverityCritical},
		{"moderate deviation", "106", true, domain.SeverityMedium},
		{"within tolerance", "104", false, domain.SeverityLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultDetection()
			d, repo, _ := newDetector(cfg)
			user := activeUser(repo)

			// Last trade between two other accounts pins the market at 100.
			repo.SeedTrade(&domain.Trade{
				ID:        uuid.New(),
				Symbol:    "BTC/USD",
				Price:     money("100"),
				Amount:    money("1"),
				BuyerID:   uuid.New(),
				SellerID:  uuid.New(),
				CreatedAt: time.Now().UTC(),
			})

			rc := requestFor(user, "1.2.3.4")
			rc.Symbol = "BTC/USD"
			p := money(tt.price)
			rc.Price = &p

			result, err := d.Analyze(context.Background(), rc)
			require.NoError(t, err)
			assert.Equal(t, tt.detected, result.HasThreatType(domain.ThreatPriceManipulation))
			if tt.detected {
				assert.Equal(t, tt.severity, result.HighestSeverity)
			}
		})
	}
}

func TestPriceManipulationMidPriceFallback(t *testing.T) {
	cfg := config.DefaultDetection()
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)
	other := uuid.New()
	now := time.Now().UTC()

	// No trades yet; market comes from the 90/110 book mid.
	repo.SeedOrder(&domain.Order{
		ID: uuid.New(), UserID: other, Symbol: "BTC/USD", Side: domain.Buy,
		Price: money("90"), Amount: money("1"), Status: domain.OrderOpen, CreatedAt: now,
	})
	repo.SeedOrder(&domain.Order{
		ID: uuid.New(), UserID: other, Symbol: "BTC/USD", Side: domain.Sell,
		Price: money("110"), Amount: money("1"), Status: domain.OrderOpen, CreatedAt: now,
	})

	rc := requestFor(user, "1.2.3.4")
	rc.Symbol = "BTC/USD"
	p := money("130")
	rc.Price = &p

	result, err := d.Analyze(context.Background(), rc)
	require.NoError(t, err)
	require.True(t, result.HasThreatType(domain.ThreatPriceManipulation))
	assert.Equal(t, domain.SeverityCritical, result.HighestSeverity)
}

func seedTradePair(repo *memory.Repo, buyer, seller uuid.UUID, buyIP, sellIP string, at time.Time) *domain.Trade {
	buyOrder := &domain.Order{
		ID: uuid.New(), UserID: buyer, Symbol: "BTC/USD", Side: domain.Buy,
		Price: money("100"), Amount: money("1"), Status: domain.OrderFilled,
		IPAddress: buyIP, CreatedAt: at,
	}
	sellOrder := &domain.Order{
		ID: uuid.New(), UserID: seller, Symbol: "BTC/USD", Side: domain.Sell,
		Price: money("100"), Amount: money("1"), Status: domain.OrderFilled,
		IPAddress: sellIP, CreatedAt: at,
	}
	repo.SeedOrder(buyOrder)
	repo.SeedOrder(sellOrder)
	trade := &domain.Trade{
		ID:          uuid.New(),
		BuyOrderID:  buyOrder.ID,
		SellOrderID: sellOrder.ID,
		BuyerID:     buyer,
		SellerID:    seller,
		Symbol:      "BTC/USD",
		Price:       money("100"),
		Amount:      money("1"),
		CreatedAt:   at,
	}
	repo.SeedTrade(trade)
	return trade
}

func TestWashTradingSameIPCounterparties(t *testing.T) {
	cfg := config.DefaultDetection()
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)
	counterparty := uuid.New()
	now := time.Now().UTC()

	// Three fills where both sides came from one address, spread out so the
	// timing detector stays quiet.
	for i := 1; i <= 3; i++ {
		seedTradePair(repo, user.ID, counterparty, "10.0.0.1", "10.0.0.1", now.Add(-time.Duration(i)*10*time.Minute))
	}

	result, err := d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	require.True(t, result.HasThreatType(domain.ThreatWashTrading))
	assert.Equal(t, domain.SeverityCritical, result.HighestSeverity)
	assert.ElementsMatch(t, []uuid.UUID{user.ID, counterparty}, result.AllRelatedUsers())
	assert.Len(t, result.AllRelatedOrders(), 6)
}

func TestCoordinatedTradingBothSidesInOneWindow(t *testing.T) {
	cfg := config.DefaultDetection()
	d, repo, _ := newDetector(cfg)
	user := activeUser(repo)
	at := time.Now().UTC().Truncate(time.Minute).Add(5 * time.Second)

	// Same minute, user buys in one trade and sells in the other.
	seedTradePair(repo, user.ID, uuid.New(), "10.0.0.1", "10.0.0.2", at)
	seedTradePair(repo, uuid.New(), user.ID, "10.0.0.3", "10.0.0.4", at.Add(2*time.Second))

	result, err := d.Analyze(context.Background(), requestFor(user, "1.2.3.4"))
	require.NoError(t, err)
	require.True(t, result.HasThreatType(domain.ThreatCoordinatedTrading))
	assert.False(t, result.HasThreatType(domain.ThreatWashTrading))
	assert.Equal(t, domain.SeverityHigh, result.HighestSeverity)
}

func TestRiskScoreIsCapped(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.Spam.OrdersPerMinute = 0
	cfg.Spam.RequestsPerSecond = 0
	cfg.RiskScoring.MaxScore = 7
	d, _, _ := newDetector(cfg)

	// Both spam checks fire, 5 points each, capped at 7.
	result, err := d.Analyze(context.Background(), requestFor(nil, "9.9.9.9"))
	require.NoError(t, err)
	require.Len(t, result.Threats, 2)
	assert.Equal(t, "7", result.RiskScore.String())
}
