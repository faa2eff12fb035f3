package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/adapter/cache"
	"github.com/quantex/exchange-core/internal/adapter/pg"
	httpapi "github.com/quantex/exchange-core/internal/api/http"
	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/core"
	"github.com/quantex/exchange-core/internal/logging"
	"github.com/quantex/exchange-core/internal/metrics"
	"github.com/quantex/exchange-core/internal/security"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := pg.NewPgRepo(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer repo.Close()

	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.BookCacheTTL)
	defer func() { _ = redisCache.Close() }()
	publisher := cache.NewRedisPublisher(redisCache.Client(), log)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	detectionCfg := config.NewEnvProvider()
	counters := pg.NewCounters(repo.Pool())

	balances := core.NewBalances(log)
	matching := core.NewMatching(balances, log)
	orders := core.NewOrders(repo, redisCache, publisher, balances, matching, m, log)
	funding := core.NewFunding(repo, balances, log)

	detector := security.NewDetector(repo, counters, detectionCfg, log)
	alerts := security.NewAlerts(repo, redisCache, publisher, detectionCfg, m, log)
	alerts.Start(ctx)
	defer alerts.Stop()
	policy := security.NewPolicy(repo, alerts, detectionCfg, m, log)

	server := httpapi.NewServer(repo, orders, funding, detector, policy, detectionCfg, registry, log)

	log.Info("server starting", zap.String("addr", cfg.HTTPAddr))
	if err := server.Run(cfg.HTTPAddr); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}
