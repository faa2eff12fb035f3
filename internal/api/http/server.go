package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/api/dto"
	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/core"
	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
	"github.com/quantex/exchange-core/internal/security"
)

// Server wires the order, funding and security services into the REST API.
type Server struct {
	repo     port.Repository
	orders   *core.Orders
	funding  *core.Funding
	detector *security.Detector
	policy   *security.Policy
	cfg      config.Provider
	registry *prometheus.Registry
	log      *zap.Logger
}

func NewServer(repo port.Repository, orders *core.Orders, funding *core.Funding, detector *security.Detector, policy *security.Policy, cfg config.Provider, registry *prometheus.Registry, log *zap.Logger) *Server {
	return &Server{
		repo:     repo,
		orders:   orders,
		funding:  funding,
		detector: detector,
		policy:   policy,
		cfg:      cfg,
		registry: registry,
		log:      log,
	}
}

// Router builds the gin engine with the middleware chain and all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(resolveUser(s.repo, s.log))
	r.Use(attackDetection(s.detector, s.policy, s.cfg, s.log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.POST("/orders", s.createOrder)
		api.POST("/orders/:id/cancel", s.cancelOrder)
		api.GET("/orders/:id", s.getOrder)
		api.GET("/orders", s.listOrders)
		api.GET("/orderbook", s.getOrderBook)
		api.GET("/balance", s.getBalance)
		api.GET("/ledger", s.getLedger)
		api.POST("/deposit", s.deposit)
	}
	return r
}

func (s *Server) Run(addr string) error {
	return s.Router().Run(addr)
}

func (s *Server) createOrder(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, dto.Error{Message: "authentication required"})
		return
	}
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Error{Message: err.Error()})
		return
	}

	order, trade, err := s.orders.CreateOrder(c.Request.Context(), core.CreateOrderRequest{
		UserID:        user.ID,
		Symbol:        req.Symbol,
		Side:          domain.Side(req.Side),
		Price:         req.Price,
		Amount:        req.Amount,
		ClientOrderID: req.ClientOrderID,
		IPAddress:     c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := dto.CreateOrderResponse{Order: dto.FromOrder(order)}
	if trade != nil {
		t := dto.FromTrade(trade)
		resp.Trade = &t
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) cancelOrder(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, dto.Error{Message: "authentication required"})
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.Error{Message: "invalid order id"})
		return
	}

	order, err := s.orders.CancelOrder(c.Request.Context(), user.ID, orderID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOrder(order))
}

func (s *Server) getOrder(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, dto.Error{Message: "authentication required"})
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.Error{Message: "invalid order id"})
		return
	}

	order, err := s.orders.GetOrder(c.Request.Context(), user.ID, orderID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOrder(order))
}

func (s *Server) listOrders(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, dto.Error{Message: "authentication required"})
		return
	}
	limit := 50
	if v, ok := c.GetQuery("limit"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	orders, err := s.orders.ListUserOrders(c.Request.Context(), user.ID, limit)
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]dto.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, dto.FromOrder(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (s *Server) getOrderBook(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, dto.Error{Message: "symbol is required"})
		return
	}
	snap, err := s.orders.GetOrderBook(c.Request.Context(), symbol)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getBalance(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, dto.Error{Message: "authentication required"})
		return
	}
	fresh, err := s.repo.GetUser(c.Request.Context(), user.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	assets, err := s.repo.ListUserAssets(c.Request.Context(), user.ID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	out := dto.Balance{
		Balance:       fresh.Balance.String(),
		LockedBalance: fresh.LockedBalance.String(),
		TotalBalance:  fresh.TotalBalance().String(),
		Assets:        make([]dto.Asset, 0, len(assets)),
	}
	for _, a := range assets {
		out.Assets = append(out.Assets, dto.Asset{
			Symbol:       a.Symbol,
			Amount:       a.Amount.String(),
			LockedAmount: a.LockedAmount.String(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getLedger(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, dto.Error{Message: "authentication required"})
		return
	}
	entries, err := s.repo.ListLedgerEntries(c.Request.Context(), user.ID, 100)
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]dto.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.FromLedgerEntry(e))
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func (s *Server) deposit(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, dto.Error{Message: "authentication required"})
		return
	}
	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.Error{Message: err.Error()})
		return
	}

	ref := uuid.New()
	if req.Symbol != "" {
		if err := s.funding.DepositAsset(c.Request.Context(), user.ID, req.Symbol, req.Amount, ref); err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reference": ref.String()})
		return
	}
	fresh, err := s.funding.Deposit(c.Request.Context(), user.ID, req.Amount, ref)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": ref.String(), "balance": fresh.Balance.String()})
}

func (s *Server) respondError(c *gin.Context, err error) {
	var orderErr *domain.OrderError
	var insufficient *domain.InsufficientBalanceError
	switch {
	case errors.As(err, &orderErr):
		c.JSON(http.StatusUnprocessableEntity, dto.Error{Message: orderErr.Message})
	case errors.As(err, &insufficient):
		c.JSON(http.StatusUnprocessableEntity, dto.Error{Message: insufficient.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.Error{Message: "not found"})
	case errors.Is(err, domain.ErrOptimisticLock):
		c.JSON(http.StatusConflict, dto.Error{Message: "concurrent update, retry"})
	default:
		s.log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, dto.Error{Message: "internal error"})
	}
}
