package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/api/dto"
	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
	"github.com/quantex/exchange-core/internal/security"
)

const userContextKey = "auth.user"

// resolveUser loads the account named by the X-User-ID header into the gin
// context. Requests without the header proceed as guests; authentication
// itself lives at the gateway in front of this service.
func resolveUser(repo port.Repository, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.Next()
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.Error{Message: "invalid user id"})
			return
		}
		user, err := repo.GetUser(c.Request.Context(), id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.Error{Message: "unknown user"})
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(userContextKey)
	if !ok {
		return nil
	}
	return v.(*domain.User)
}

// attackDetection analyzes requests hitting protected endpoints and lets the
// policy block, throttle or just record what it found. Detection failures
// fail open: an analysis error must not take order flow down.
func attackDetection(detector *security.Detector, policy *security.Policy, cfg config.Provider, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conf := cfg.Detection()
		if !conf.Enabled || !isProtected(conf.ProtectedEndpoints, c.Request.Method, c.Request.URL.Path) {
			c.Next()
			return
		}

		rc := buildRequestContext(c)
		result, err := detector.Analyze(c.Request.Context(), rc)
		if err != nil {
			log.Warn("attack detection failed", zap.Error(err))
			c.Next()
			return
		}
		if !result.Detected {
			c.Next()
			return
		}

		decision, err := policy.Enforce(c.Request.Context(), rc, result)
		if err != nil {
			log.Warn("security policy enforcement failed", zap.Error(err))
			c.Next()
			return
		}
		if decision.Block {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.Error{
				Message:   "Request blocked due to suspicious activity",
				Error:     "security_block",
				Reference: decision.Reference.String(),
			})
			return
		}
		c.Next()
	}
}

func buildRequestContext(c *gin.Context) *security.RequestContext {
	rc := &security.RequestContext{
		User:      currentUser(c),
		IP:        c.ClientIP(),
		Endpoint:  c.Request.URL.Path,
		Method:    c.Request.Method,
		UserAgent: c.Request.UserAgent(),
	}

	if c.Request.Body == nil {
		return rc
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return rc
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var probe struct {
		Symbol string           `json:"symbol"`
		Side   string           `json:"side"`
		Price  *decimal.Decimal `json:"price"`
		Amount *decimal.Decimal `json:"amount"`
	}
	if err := json.Unmarshal(body, &probe); err == nil {
		rc.Symbol = probe.Symbol
		rc.Side = probe.Side
		rc.Price = probe.Price
		rc.Amount = probe.Amount
	}
	return rc
}

// isProtected matches the request against the configured method and path
// patterns; "*" in a pattern matches exactly one path segment.
func isProtected(patterns map[string][]string, method, path string) bool {
	for _, pattern := range patterns[method] {
		if matchPattern(pattern, path) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, path string) bool {
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	ts := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(ts) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != ts[i] {
			return false
		}
	}
	return true
}
