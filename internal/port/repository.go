package port

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantex/exchange-core/internal/domain"
)

// Repository is the keyed-storage boundary of the core. Reads outside a
// transaction go through Repository directly; every mutation happens inside a
// Tx so balance, order and ledger writes commit or roll back as one unit.
type Repository interface {
	BeginTx(ctx context.Context) (Tx, error)

	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetAsset(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Asset, error)
	ListUserAssets(ctx context.Context, userID uuid.UUID) ([]*domain.Asset, error)
	GetSymbol(ctx context.Context, symbol string) (*domain.Symbol, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// ListBookOrders returns active orders for one side of the book, best
	// price first (highest bid / lowest ask), FIFO within a price level.
	ListBookOrders(ctx context.Context, symbol string, side domain.Side, limit int) ([]*domain.Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Order, error)
	ListUserOrdersSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]*domain.Order, error)

	ListUserTradesSince(ctx context.Context, userID uuid.UUID, since time.Time) ([]TradeWithOrders, error)
	// LastTradePrice reports the most recent execution price for the symbol;
	// ok is false when the symbol has never traded.
	LastTradePrice(ctx context.Context, symbol string) (price decimal.Decimal, ok bool, err error)
	// TopOfBook returns the best bid and best ask; either is nil when that
	// side of the book is empty.
	TopOfBook(ctx context.Context, symbol string) (bestBid, bestAsk *decimal.Decimal, err error)

	ListLedgerEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error)

	MarkAlertSent(ctx context.Context, eventID uuid.UUID, at time.Time) error
	// DecayRiskScores lowers every positive risk score not updated since the
	// cutoff by decay (floored at zero) and clears the review flag for users
	// whose score dropped below flagThreshold. Returns counts of users
	// decayed and flags cleared.
	DecayRiskScores(ctx context.Context, decay decimal.Decimal, flagThreshold decimal.Decimal, cutoff time.Time) (decayed, cleared int64, err error)
}

// Tx is one storage transaction. ForUpdate variants take an exclusive row
// lock held until commit or rollback.
type Tx interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetUserForUpdate(ctx context.Context, id uuid.UUID) (*domain.User, error)
	SaveUser(ctx context.Context, u *domain.User) error

	// GetAssetForUpdate returns domain.ErrNotFound when the holding does not
	// exist yet; GetOrCreateAssetForUpdate creates the zero row first.
	GetAssetForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Asset, error)
	GetOrCreateAssetForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*domain.Asset, error)
	SaveAsset(ctx context.Context, a *domain.Asset) error

	CreateOrder(ctx context.Context, o *domain.Order) error
	SaveOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	// FindMatchCandidate selects, under an exclusive lock, the single best
	// counter-order for o: same symbol, opposite side, open, exactly equal
	// amount, crossing price; best price first, then earliest created.
	// Returns (nil, nil) when the book holds no match.
	FindMatchCandidate(ctx context.Context, o *domain.Order) (*domain.Order, error)
	AppendStatusChange(ctx context.Context, c *domain.OrderStatusChange) error

	AppendLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error
	CreateTrade(ctx context.Context, t *domain.Trade) error
	CreateSecurityEvent(ctx context.Context, e *domain.SecurityEvent) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TradeWithOrders joins a trade with its originating orders; the detector
// needs the orders' IP addresses for wash-trading analysis.
type TradeWithOrders struct {
	Trade     *domain.Trade
	BuyOrder  *domain.Order
	SellOrder *domain.Order
}
