package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/adapter/memory"
	"github.com/quantex/exchange-core/internal/api/dto"
	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/core"
	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/metrics"
	"github.com/quantex/exchange-core/internal/security"
)

type serverFixture struct {
	repo   *memory.Repo
	router *gin.Engine
}

func newServerFixture(t *testing.T, cfg config.Detection) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.NewRepo()
	repo.SeedSymbol(&domain.Symbol{
		Symbol:         "BTC/USD",
		BaseAsset:      "BTC",
		QuoteAsset:     "USD",
		MinTradeAmount: domain.Money("0.0001"),
		Active:         true,
	})

	provider := &config.StaticProvider{Snapshot: cfg}
	m := metrics.NewNop()
	log := zap.NewNop()
	pub := memory.NewPublisher()

	balances := core.NewBalances(log)
	matching := core.NewMatching(balances, log)
	orders := core.NewOrders(repo, memory.NewBookCache(), pub, balances, matching, m, log)
	funding := core.NewFunding(repo, balances, log)

	detector := security.NewDetector(repo, memory.NewCounters(), provider, log)
	alerts := security.NewAlerts(repo, memory.NewCooldowns(), pub, provider, m, log)
	policy := security.NewPolicy(repo, alerts, provider, m, log)

	srv := NewServer(repo, orders, funding, detector, policy, provider, prometheus.NewRegistry(), log)
	return &serverFixture{repo: repo, router: srv.Router()}
}

func quietDetection() config.Detection {
	cfg := config.DefaultDetection()
	cfg.Enabled = false
	return cfg
}

func (f *serverFixture) seedTrader(t *testing.T, balance string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:       uuid.New(),
		Email:    uuid.NewString() + "@example.com",
		Balance:  domain.Money(balance),
		IsActive: true,
	}
	f.repo.SeedUser(u)
	return u
}

func (f *serverFixture) do(t *testing.T, method, path string, userID *uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != nil {
		req.Header.Set("X-User-ID", userID.String())
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateOrderEndpoint(t *testing.T) {
	f := newServerFixture(t, quietDetection())
	user := f.seedTrader(t, "10000")

	w := f.do(t, http.MethodPost, "/api/orders", &user.ID, gin.H{
		"symbol": "BTC/USD",
		"side":   "buy",
		"price":  "2500",
		"amount": "2",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "open", resp.Order.Status)
	assert.Equal(t, "5075", resp.Order.LockedFunds)
	assert.Nil(t, resp.Trade)

	w = f.do(t, http.MethodGet, "/api/balance", &user.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bal dto.Balance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	assert.Equal(t, "4925", bal.Balance)
	assert.Equal(t, "5075", bal.LockedBalance)
	assert.Equal(t, "10000", bal.TotalBalance)
}

func TestCreateOrderRequiresAuth(t *testing.T) {
	f := newServerFixture(t, quietDetection())

	w := f.do(t, http.MethodPost, "/api/orders", nil, gin.H{
		"symbol": "BTC/USD",
		"side":   "buy",
		"price":  "2500",
		"amount": "1",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateOrderUnknownUser(t *testing.T) {
	f := newServerFixture(t, quietDetection())
	stranger := uuid.New()

	w := f.do(t, http.MethodGet, "/api/balance", &stranger, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateOrderValidationFailures(t *testing.T) {
	f := newServerFixture(t, quietDetection())
	user := f.seedTrader(t, "10000")

	w := f.do(t, http.MethodPost, "/api/orders", &user.ID, gin.H{"symbol": "BTC/USD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/orders", &user.ID, gin.H{
		"symbol": "DOGE/USD",
		"side":   "buy",
		"price":  "1",
		"amount": "1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	f := newServerFixture(t, quietDetection())
	user := f.seedTrader(t, "10")

	w := f.do(t, http.MethodPost, "/api/orders", &user.ID, gin.H{
		"symbol": "BTC/USD",
		"side":   "buy",
		"price":  "2500",
		"amount": "1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCancelOrderEndpoint(t *testing.T) {
	f := newServerFixture(t, quietDetection())
	user := f.seedTrader(t, "10000")

	w := f.do(t, http.MethodPost, "/api/orders", &user.ID, gin.H{
		"symbol": "BTC/USD",
		"side":   "buy",
		"price":  "2500",
		"amount": "1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp dto.CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = f.do(t, http.MethodPost, "/api/orders/"+resp.Order.ID+"/cancel", &user.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cancelled dto.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, "cancelled", cancelled.Status)
}

func TestCancelUnknownOrderIs404(t *testing.T) {
	f := newServerFixture(t, quietDetection())
	user := f.seedTrader(t, "10000")

	w := f.do(t, http.MethodPost, "/api/orders/"+uuid.NewString()+"/cancel", &user.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrderBookEndpoint(t *testing.T) {
	f := newServerFixture(t, quietDetection())
	user := f.seedTrader(t, "10000")

	w := f.do(t, http.MethodPost, "/api/orders", &user.ID, gin.H{
		"symbol": "BTC/USD",
		"side":   "buy",
		"price":  "2400",
		"amount": "1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/orderbook?symbol=BTC/USD", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var book struct {
		Symbol string `json:"symbol"`
		Bids   []struct {
			Price  string `json:"price"`
			Amount string `json:"amount"`
			Total  string `json:"total"`
		} `json:"bids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	assert.Equal(t, "BTC/USD", book.Symbol)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, "2400", book.Bids[0].Price)

	w = f.do(t, http.MethodGet, "/api/orderbook", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDepositEndpoint(t *testing.T) {
	f := newServerFixture(t, quietDetection())
	user := f.seedTrader(t, "0")

	w := f.do(t, http.MethodPost, "/api/deposit", &user.ID, gin.H{"amount": "150.25"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Reference string `json:"reference"`
		Balance   string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "150.25", resp.Balance)
	assert.NotEmpty(t, resp.Reference)

	w = f.do(t, http.MethodGet, "/api/ledger", &user.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ledger struct {
		Entries []dto.LedgerEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ledger))
	require.Len(t, ledger.Entries, 1)
	assert.Equal(t, domain.RefDeposit, ledger.Entries[0].ReferenceType)
}

func TestSecurityBlockReturns429(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.ThrottlingEnabled = false
	f := newServerFixture(t, cfg)
	user := f.seedTrader(t, "1000000")

	// Resting trade pins the market at 100; an order at 300 is an extreme
	// deviation and the policy blocks it before the handler runs.
	f.repo.SeedTrade(&domain.Trade{
		ID:        uuid.New(),
		Symbol:    "BTC/USD",
		Price:     domain.Money("100"),
		Amount:    domain.Money("1"),
		BuyerID:   uuid.New(),
		SellerID:  uuid.New(),
		CreatedAt: time.Now().UTC(),
	})

	w := f.do(t, http.MethodPost, "/api/orders", &user.ID, gin.H{
		"symbol": "BTC/USD",
		"side":   "buy",
		"price":  "300",
		"amount": "1",
	})
	require.Equal(t, http.StatusTooManyRequests, w.Code, w.Body.String())

	var resp dto.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "security_block", resp.Error)
	assert.NotEmpty(t, resp.Reference)

	// The handler never ran, so no order and no funds moved.
	orders, err := f.repo.ListUserOrders(context.Background(), user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestHealthz(t *testing.T) {
	f := newServerFixture(t, quietDetection())
	w := f.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
