package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/partner-dispatch/internal/auth"
	"github.com/example/partner-dispatch/internal/config"
	"github.com/example/partner-dispatch/internal/dispatch"
	httpapi "github.com/example/partner-dispatch/internal/http"
	"github.com/example/partner-dispatch/internal/ingest"
	"github.com/example/partner-dispatch/internal/logging"
	"github.com/example/partner-dispatch/internal/monitor"
	"github.com/example/partner-dispatch/internal/orders"
	"github.com/example/partner-dispatch/internal/pool"
	"github.com/example/partner-dispatch/internal/profile"
	"github.com/example/partner-dispatch/internal/push"
	"github.com/example/partner-dispatch/internal/selector"
	"github.com/example/partner-dispatch/internal/verify"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store pool.Store
	var codes verify.CodeStore
	if cfg.RedisAddr != "" {
		rp := pool.NewRedisPool(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, cfg.StalenessThreshold)
		defer rp.Close()
		store = rp
		codes = verify.NewRedisCodes(rp.Client())
		logger.Info("availability pool on redis", "addr", cfg.RedisAddr)
	} else {
		store = pool.NewIndex(cfg.StalenessThreshold)
		codes = verify.NewMemoryCodes()
		logger.Warn("REDIS_ADDR unset, using in-memory pool")
	}

	var profiles profile.Store
	if cfg.PGDSN != "" {
		ps, err := profile.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("opening postgres", "error", err)
			os.Exit(1)
		}
		defer ps.Close()
		profiles = ps
	} else {
		profiles = profile.NewMemoryStore()
		logger.Warn("PG_DSN unset, partner profiles are in-memory")
	}

	var publisher ingest.Publisher = ingest.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	var details orders.Details
	if cfg.OrderServiceURL != "" {
		details = orders.NewClient(cfg.OrderServiceURL)
	}

	hub := push.NewHub(logger)
	coordinator := dispatch.New(store, selector.New(store), hub, details, cfg.OfferTTL, cfg.DefaultSpeedMps, logger)
	gate := verify.NewGate(codes, profiles, hub, cfg.CodeTTL, logger)

	sweeper := monitor.New(store, profiles, hub, cfg.StalenessThreshold, logger)
	if err := sweeper.Start(); err != nil {
		logger.Error("starting inactivity sweep", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	srv := httpapi.NewServer(httpapi.Deps{
		Pool:        store,
		Coordinator: coordinator,
		Gate:        gate,
		Sweeper:     sweeper,
		Hub:         hub,
		Profiles:    profiles,
		Verifier:    auth.NewVerifier(cfg.JWTSecret),
		Publisher:   publisher,
		Sampler:     ingest.NewSampler(cfg.LocationSampleRate),
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("partner-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
