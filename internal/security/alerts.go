package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/domain"
	"github.com/quantex/exchange-core/internal/metrics"
	"github.com/quantex/exchange-core/internal/port"
)

// Alerts delivers security events to admin channels asynchronously. A
// per-(type, actor, ip) cooldown suppresses repeats so one attack does not
// flood the channel.
type Alerts struct {
	repo     port.Repository
	cooldown port.CooldownCache
	pub      port.Publisher
	cfg      config.Provider
	metrics  *metrics.Metrics
	log      *zap.Logger

	ch   chan *domain.SecurityEvent
	wg   sync.WaitGroup
	once sync.Once
}

func NewAlerts(repo port.Repository, cooldown port.CooldownCache, pub port.Publisher, cfg config.Provider, m *metrics.Metrics, log *zap.Logger) *Alerts {
	return &Alerts{
		repo:     repo,
		cooldown: cooldown,
		pub:      pub,
		cfg:      cfg,
		metrics:  m,
		log:      log,
		ch:       make(chan *domain.SecurityEvent, 256),
	}
}

// Start launches the delivery worker. It drains until Stop is called or the
// context ends.
func (a *Alerts) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-a.ch:
				if !ok {
					return
				}
				a.deliver(ctx, event)
			}
		}
	}()
}

// Stop closes the queue and waits for in-flight deliveries.
func (a *Alerts) Stop() {
	a.once.Do(func() { close(a.ch) })
	a.wg.Wait()
}

// Dispatch queues an event for delivery. It never blocks the request path:
// when the queue is full the alert is dropped and counted as suppressed.
func (a *Alerts) Dispatch(event *domain.SecurityEvent) {
	select {
	case a.ch <- event:
	default:
		a.metrics.AlertsSuppressed.Inc()
		a.log.Warn("alert queue full, dropping alert",
			zap.String("event_id", event.ID.String()),
			zap.String("type", string(event.EventType)))
	}
}

func (a *Alerts) deliver(ctx context.Context, event *domain.SecurityEvent) {
	cfg := a.cfg.Detection()

	actor := "guest"
	if event.UserID != nil {
		actor = event.UserID.String()
	}
	key := fmt.Sprintf("security_alert:%s:%s:%s", event.EventType, actor, event.IPAddress)

	acquired, err := a.cooldown.Acquire(ctx, key, cfg.Alerts.Cooldown)
	if err != nil {
		a.log.Warn("alert cooldown check failed", zap.Error(err))
		return
	}
	if !acquired {
		a.metrics.AlertsSuppressed.Inc()
		return
	}

	a.pub.PublishSecurityAlert(ctx, event)

	if err := a.repo.MarkAlertSent(ctx, event.ID, time.Now().UTC()); err != nil {
		a.log.Warn("failed to mark alert sent",
			zap.String("event_id", event.ID.String()), zap.Error(err))
		return
	}
	a.metrics.AlertsDispatched.Inc()
	a.log.Info("security alert dispatched",
		zap.String("event_id", event.ID.String()),
		zap.String("type", string(event.EventType)),
		zap.String("severity", string(event.Severity)))
}
