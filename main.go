package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridcore/internal/api"
	"gridcore/internal/balance"
	"gridcore/internal/breaker"
	"gridcore/internal/events"
	"gridcore/internal/execution"
	"gridcore/internal/grid"
	"gridcore/internal/monitor"
	"gridcore/internal/ratelimit"
	"gridcore/internal/retry"
	"gridcore/internal/validator"
	"gridcore/pkg/config"
	"gridcore/pkg/db"
	"gridcore/pkg/venue/kraken"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Printf("starting gridcore: venue=%s pairs=%v dry_run=%v", cfg.Venue, cfg.Pairs, cfg.DryRun)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()

	mon := monitor.New(bus)
	mon.Start(ctx)

	limits := buildVenueLimiter(cfg)

	tb := breaker.NewTrading(breaker.TradingConfig{
		Config: breaker.Config{
			Name:             "trading",
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: cfg.SuccessThreshold,
			RecoveryTimeout:  cfg.RecoveryTimeout,
		},
		InitialBalance:  cfg.InitialQuote,
		MaxLossPercent:  cfg.MaxLossPercent,
		MaxLossAbsolute: cfg.MaxLossAbsolute,
	})

	v := validator.New(validator.Config{
		Tolerance:              0.001,
		MaxPositionSizePercent: cfg.MaxPositionSizePercent,
		MinOrderValue:          cfg.MinOrderValue,
		MinBalancePerPair:      cfg.MinBalancePerPair,
	})

	if res := v.ValidatePortfolioAllocation(len(cfg.Pairs), cfg.InitialQuote, cfg.MinBalancePerPair); !res.OK {
		log.Fatalf("allocation: %s", res.Message)
	}

	funds := balance.NewTracker(cfg.InitialQuote, cfg.InitialBase)
	book := grid.NewBook()

	strategy := buildStrategy(cfg, limits)

	mgr := retry.NewManager(
		retry.Config{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
		},
		strategy, v, tb, database, bus, book, funds,
		func() float64 {
			s := funds.Snapshot()
			return s.Quote + s.QuoteReserved
		},
	)
	mgr.Start(ctx)

	if !cfg.DryRun && cfg.StreamURL != "" {
		stream := execution.NewStream(cfg.StreamURL, bus)
		go stream.Run(ctx)
	}

	go cleanupLoop(ctx, database, cfg.CleanupDays)

	server := api.NewServer(api.Deps{
		Breaker: tb,
		Retry:   mgr,
		Limits:  limits,
		Funds:   funds,
		Monitor: mon,
		DB:      database,
	})
	go func() {
		if err := server.Run(":" + cfg.Port); err != nil {
			log.Printf("api: server stopped: %v", err)
		}
	}()
	log.Printf("api listening on :%s", cfg.Port)

	<-ctx.Done()
	log.Println("shutting down")
}

// buildVenueLimiter applies YAML ceiling overrides when configured.
func buildVenueLimiter(cfg *config.Config) *ratelimit.VenueLimiter {
	if cfg.LimitsPath == "" {
		return ratelimit.NewVenueLimiter(cfg.Venue)
	}
	overrides, err := ratelimit.LoadLimits(cfg.LimitsPath)
	if err != nil {
		log.Printf("ratelimit: %v, using built-in ceilings", err)
		return ratelimit.NewVenueLimiter(cfg.Venue)
	}
	if lim, ok := overrides[cfg.Venue]; ok {
		return ratelimit.NewVenueLimiterWithLimits(cfg.Venue, lim)
	}
	return ratelimit.NewVenueLimiter(cfg.Venue)
}

// buildStrategy selects paper trading or the live venue client.
func buildStrategy(cfg *config.Config, limits *ratelimit.VenueLimiter) execution.Strategy {
	if cfg.DryRun {
		log.Println("execution: dry run, using simulated fills")
		return execution.NewSimulated(cfg.FeeRate)
	}
	client := kraken.New(kraken.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})
	return execution.NewLive(client, limits)
}

// cleanupLoop prunes terminal orders past the retention window once a day.
func cleanupLoop(ctx context.Context, database *db.Database, days int) {
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := database.CleanupOldOrders(ctx, days)
			if err != nil {
				log.Printf("cleanup: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("cleanup: removed %d terminal orders older than %d days", n, days)
			}
		}
	}
}
