package port

import (
	"context"

	"github.com/quantex/exchange-core/internal/domain"
)

// Publisher is the fire-and-forget outbound event boundary. The core calls it
// after a successful commit and never awaits delivery; publish failures are
// logged by the adapter, not surfaced as transaction failures.
type Publisher interface {
	// PublishOrderBookUpdated announces a book change for a base symbol.
	PublishOrderBookUpdated(ctx context.Context, baseSymbol string)
	// PublishTradeMatched delivers the trade to both parties' private
	// channels.
	PublishTradeMatched(ctx context.Context, trade *domain.Trade)
	// PublishSecurityAlert broadcasts a security event to admin channels.
	PublishSecurityAlert(ctx context.Context, event *domain.SecurityEvent)
}
