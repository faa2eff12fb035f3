package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/port"
)

var _ port.Publisher = (*RedisPublisher)(nil)

// RedisPublisher broadcasts events over redis pub/sub channels for websocket
// gateways and admin dashboards to pick up. Delivery is fire-and-forget:
// failures are logged and never propagate into the transaction that produced
// the event.
type RedisPublisher struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisPublisher(client *redis.Client, log *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

func (p *RedisPublisher) PublishOrderBookUpdated(ctx context.Context, baseSymbol string) {
	p.publish(ctx, "orderbook:"+baseSymbol, map[string]any{
		"event":     "orderbook_updated",
		"symbol":    baseSymbol,
		"timestamp": time.Now().UTC(),
	})
}

func (p *RedisPublisher) PublishTradeMatched(ctx context.Context, trade *domain.Trade) {
	payload := map[string]any{
		"event":     "trade_matched",
		"trade_id":  trade.ID,
		"symbol":    trade.Symbol,
		"price":     trade.Price.String(),
		"amount":    trade.Amount.String(),
		"timestamp": trade.CreatedAt,
	}
	p.publish(ctx, "trades:"+trade.BuyerID.String(), payload)
	p.publish(ctx, "trades:"+trade.SellerID.String(), payload)
}

func (p *RedisPublisher) PublishSecurityAlert(ctx context.Context, event *domain.SecurityEvent) {
	p.publish(ctx, "security-alerts", map[string]any{
		"event":      "security_alert",
		"event_id":   event.ID,
		"event_type": event.EventType,
		"severity":   event.Severity,
		"user_id":    event.UserID,
		"ip_address": event.IPAddress,
		"symbol":     event.Symbol,
		"metrics":    event.DetectionMetrics,
		"timestamp":  event.CreatedAt,
	})
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, payload map[string]any) {
	b, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("event marshal failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, channel, b).Err(); err != nil {
		p.log.Warn("event publish failed", zap.String("channel", channel), zap.Error(err))
	}
}
