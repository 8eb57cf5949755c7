package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcclellann/carloan/pkg/cache"
	"github.com/mcclellann/carloan/pkg/config"
	"github.com/mcclellann/carloan/pkg/ledger"
	"github.com/mcclellann/carloan/pkg/penalty"
	"github.com/mcclellann/carloan/pkg/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)

	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize SQLite store")
	}
	defer sqliteStore.Close()
	log.Info().Str("path", cfg.DatabasePath).Msg("Connected to database")

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	estimates, closeCache := newEstimateCache(ctx, cfg.RedisAddr, cfg.EstimateCacheTTL)
	defer closeCache()

	l := ledger.NewLedger(sqliteStore, ledgerDefaults(cfg.Defaults), log.Logger.With().Str("component", "ledger").Logger(),
		ledger.WithCache(estimates, cfg.EstimateCacheTTL))

	limiter := NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst, cfg.TrustProxyHeaders)
	defer limiter.Stop()

	server := NewServer(l)
	router := server.Router(recoverer, requestLogger, metricsMiddleware, limiter.Middleware())

	go runOverdueSweep(ctx, l, cfg.OverdueSweepInterval)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func ledgerDefaults(d config.LoanDefaults) ledger.Defaults {
	return ledger.Defaults{
		AnnualRatePercent: d.AnnualRatePercent,
		Compounding:       d.Compounding,
		Penalty: penalty.Policy{
			Type:      d.PenaltyType,
			Rate:      d.PenaltyRate,
			GraceDays: d.GraceDays,
		},
	}
}

// newEstimateCache connects to Redis when an address is configured and falls
// back to an in-process cache when none is set or it cannot be reached. The
// in-process cache is swept every ttl until ctx is done.
func newEstimateCache(ctx context.Context, redisAddr string, ttl time.Duration) (cache.Cache, func()) {
	if redisAddr == "" {
		log.Info().Msg("Using in-memory estimate cache")
		return newMemoryEstimateCache(ctx, ttl), func() {}
	}

	rc := cache.NewRedisCache(redisAddr, "carloan:")
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", redisAddr).Msg("Redis unavailable, using in-memory estimate cache")
		rc.Close()
		return newMemoryEstimateCache(ctx, ttl), func() {}
	}

	log.Info().Str("addr", redisAddr).Msg("Connected to Redis estimate cache")
	return rc, func() { rc.Close() }
}

func newMemoryEstimateCache(ctx context.Context, ttl time.Duration) *cache.MemoryCache {
	mc := cache.NewMemoryCache()
	if ttl > 0 {
		go mc.Run(ctx, ttl)
	}
	return mc
}

// runOverdueSweep logs the overdue report every interval until ctx is done.
func runOverdueSweep(ctx context.Context, l *ledger.Ledger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sweepOverdue(l, now.UTC())
		}
	}
}

func sweepOverdue(l *ledger.Ledger, today time.Time) int {
	report, err := l.OverdueReport(today)
	if err != nil {
		log.Error().Err(err).Msg("Overdue sweep failed")
		return 0
	}
	for _, item := range report {
		log.Warn().
			Str("loan_id", item.LoanID.String()).
			Int("overdue_periods", len(item.Entries)).
			Str("accrued_penalty", item.AccruedPenalty.StringFixed(2)).
			Msg("Loan has overdue periods")
	}
	overdueLoans.Set(float64(len(report)))
	log.Info().Int("loans", len(report)).Msg("Overdue sweep complete")
	return len(report)
}
