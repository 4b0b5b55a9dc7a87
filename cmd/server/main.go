package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/delivery-events/internal/config"
	"github.com/example/delivery-events/internal/eta"
	"github.com/example/delivery-events/internal/fees"
	"github.com/example/delivery-events/internal/geo"
	"github.com/example/delivery-events/internal/hub"
	"github.com/example/delivery-events/internal/ingest"
	"github.com/example/delivery-events/internal/logging"
	"github.com/example/delivery-events/internal/orders"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var locator geo.Locator
	if cfg.RedisAddr != "" {
		locator = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis geo index", "addr", cfg.RedisAddr)
	} else {
		locator = geo.NewIndex()
		logger.Info("using in-memory geo index")
	}

	var store orders.Store
	if cfg.PGDSN != "" {
		ps, err := orders.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = ps
		logger.Info("using postgres order store")
	} else {
		store = orders.NewMemoryStore()
		logger.Info("using in-memory order store")
	}

	var publisher hub.LocationPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info("publishing locations to kafka", "topic", cfg.KafkaTopic)
	}

	var etaClient eta.Client
	if cfg.OSRMEndpoint != "" {
		etaClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		logger.Info("using osrm for eta", "endpoint", cfg.OSRMEndpoint)
	}

	h := hub.New(hub.Options{
		Logger:     logger,
		Geo:        locator,
		Store:      store,
		ETA:        etaClient,
		Publisher:  publisher,
		OfferTTL:   cfg.OfferTTL,
		TopN:       cfg.DispatchTopN,
		SpeedMps:   cfg.DefaultSpeedMps,
		RetryDelay: cfg.DispatchRetryDelay,
		RetryLimit: cfg.DispatchRetryLimit,
	})
	feeCfg := fees.Config{BaseFee: cfg.FeeBase, PerKmRate: cfg.FeePerKm, MinFee: cfg.FeeMin, MaxFee: cfg.FeeMax}
	api := hub.NewServer(h, store, feeCfg, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("delivery-events listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_orders.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(b))
	return err
}
