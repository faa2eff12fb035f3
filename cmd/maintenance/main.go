package main

import (
	"context"
	"flag"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quantex/exchange-core/internal/adapter/pg"
	"github.com/quantex/exchange-core/internal/config"
	"github.com/quantex/exchange-core/internal/logging"
	"github.com/quantex/exchange-core/internal/security"
)

// Runs the periodic jobs once and exits; schedule it with cron or a
// Kubernetes CronJob.
func main() {
	decay := flag.Bool("decay", false, "decay stale risk scores")
	cleanup := flag.Bool("cleanup", false, "delete expired rate counters")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogJSON)
	defer func() { _ = log.Sync() }()

	if !*decay && !*cleanup {
		log.Fatal("nothing to do: pass -decay and/or -cleanup")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	repo, err := pg.NewPgRepo(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer repo.Close()

	maint := security.NewMaintenance(repo, pg.NewCounters(repo.Pool()), config.NewEnvProvider(), log)

	if *decay {
		if _, _, err := maint.DecayRiskScores(ctx); err != nil {
			log.Fatal("risk score decay failed", zap.Error(err))
		}
	}
	if *cleanup {
		if _, err := maint.CleanupCounters(ctx); err != nil {
			log.Fatal("counter cleanup failed", zap.Error(err))
		}
	}
}
