package security

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange-core/internal/domain"
)

// RequestContext is everything the detector knows about one incoming request:
// who sent it, from where, and the order parameters when the request carries
// them. User is nil for unauthenticated requests.
type RequestContext struct {
	User      *domain.User
	IP        string
	Endpoint  string
	Method    string
	UserAgent string

	Symbol string
	Price  *decimal.Decimal
	Amount *decimal.Decimal
	Side   string
}

// UserKey identifies the actor for rate counting: the account when
// authenticated, the source address otherwise.
func (c *RequestContext) UserKey() string {
	if c.User != nil {
		return "user:" + c.User.ID.String()
	}
	return "ip:" + c.IP
}

// UserID returns the authenticated user's id, or nil.
func (c *RequestContext) UserID() *uuid.UUID {
	if c.User == nil {
		return nil
	}
	id := c.User.ID
	return &id
}
