package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/file-interrogator/internal/api"
	"github.com/kenneth/file-interrogator/internal/audit"
	"github.com/kenneth/file-interrogator/internal/c4gh"
	"github.com/kenneth/file-interrogator/internal/central"
	"github.com/kenneth/file-interrogator/internal/cleaner"
	"github.com/kenneth/file-interrogator/internal/config"
	"github.com/kenneth/file-interrogator/internal/interrogator"
	"github.com/kenneth/file-interrogator/internal/metrics"
	"github.com/kenneth/file-interrogator/internal/s3"
	"github.com/kenneth/file-interrogator/internal/transport"
)

var (
	version = "dev"
	commit  = "unknown"
)

const journalRetention = 256

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Mode: "interrogate" (default) runs the pipeline, "cleanup" runs
	// one sweep of the cleaner.
	mode := "interrogate"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	if mode != "interrogate" && mode != "cleanup" {
		logger.WithField("mode", mode).Fatal("Unknown mode, expected interrogate or cleanup")
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level from config
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"mode":    mode,
	}).Info("Starting file interrogator")

	// Initialize metrics
	m := metrics.NewMetrics()
	m.StartSystemMetricsCollector()

	// Service key for unwrapping header packets
	serviceKey, err := c4gh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load service private key")
	}

	// Storage gateway
	backend, err := s3.NewClient(&cfg.Backend)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create S3 client")
	}
	storage := s3.NewInstrumentedClient(backend, m)

	// Central API on top of the resilient transport
	rt := transport.New(transport.Options{
		CacheCapacity:     cfg.Client.CacheCapacity,
		CacheTTL:          cfg.Client.CacheTTL,
		CacheableMethods:  cfg.Client.CacheableMethods,
		CacheableStatuses: cfg.Client.CacheableStatuses,
		RetryableStatuses: cfg.Client.RetryableStatuses,
		MaxRetryAttempts:  cfg.Client.MaxRetryAttempts,
		MaxBackoff:        cfg.Client.MaxBackoff,
		Jitter:            cfg.Client.Jitter,
		RateLimitValidity: cfg.Client.RateLimitValidity,
		WrapRetryErrors:   cfg.Client.WrapRetryErrors,
		RequestTimeout:    cfg.Client.RequestTimeout,
		Metrics:           m,
	}, nil, logger)

	centralClient, err := central.NewClient(central.Config{
		BaseURL:      cfg.Central.URL,
		PublicKey:    cfg.Central.PublicKey,
		AuthSecret:   []byte(cfg.Central.AuthSecret),
		StorageAlias: cfg.InboxBucket,
	}, rt, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create central API client")
	}

	journal := audit.NewJournal(journalRetention, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mode == "cleanup" {
		// Inbox objects are the upload source of record until the
		// workflow retires them; only re-encrypted copies are swept.
		sweeper := cleaner.New(storage, centralClient, journal, m, logger, cfg.InterrogationBucket)
		removed, err := sweeper.Run(ctx)
		if err != nil {
			logger.WithError(err).WithField("removed", removed).Fatal("Cleanup sweep failed")
		}
		logger.WithField("removed", removed).Info("Cleanup sweep finished")
		return
	}

	claims := interrogator.NewMemoryClaimStore(cfg.Pipeline.ClaimStaleAfter, m.RecordClaimReclaimed)
	pipeline := interrogator.New(storage, centralClient, claims, journal, m, logger, serviceKey, interrogator.Options{
		InboxBucket:         cfg.InboxBucket,
		InterrogationBucket: cfg.InterrogationBucket,
		StorageAlias:        cfg.InboxBucket,
		MaxHeaderSize:       cfg.Pipeline.MaxHeaderSize,
	})
	service := interrogator.NewService(pipeline, centralClient, m, logger, cfg.Pipeline.WorkerCount, cfg.Pipeline.PollInterval)

	// Ops listener: metrics, health, recent outcomes
	opsHandler := api.NewHandler(m, journal, logger)
	opsServer := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           opsHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", cfg.OpsAddr).Info("Starting ops listener")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Ops listener failed")
		}
	}()

	// Hot reload of the log level on file change or SIGHUP
	reloader := config.NewReloader(configPath, logger)
	go func() {
		if err := reloader.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Warn("Config watcher stopped")
		}
	}()

	if err := service.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("Pipeline stopped unexpectedly")
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Ops listener shutdown failed")
	}
	logger.Info("Shutdown complete")
}
