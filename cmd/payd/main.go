package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/buhogo/payd/internal/callbacks"
	"github.com/buhogo/payd/internal/circuitbreaker"
	"github.com/buhogo/payd/internal/config"
	"github.com/buhogo/payd/internal/events"
	"github.com/buhogo/payd/internal/httpserver"
	"github.com/buhogo/payd/internal/ledger"
	"github.com/buhogo/payd/internal/lifecycle"
	"github.com/buhogo/payd/internal/logger"
	"github.com/buhogo/payd/internal/metrics"
	"github.com/buhogo/payd/internal/payments"
	"github.com/buhogo/payd/internal/wallet"
	"github.com/buhogo/payd/internal/watcher"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "buhogo-payd",
		Version:     version,
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager()

	store, err := ledger.NewStore(cfg.Ledger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize ledger backend")
	}
	resources.Register("ledger-store", store)
	attemptLedger := ledger.New(store, log)

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, log)

	var capability wallet.Capability
	if cfg.Wallet.RelayURL != "" {
		relay, err := wallet.NewRelayClient(cfg.Wallet.RelayURL, log)
		if err != nil {
			log.Fatal().Err(err).Str("relay_url", cfg.Wallet.RelayURL).Msg("failed to connect wallet relay")
		}
		resources.Register("wallet-relay", relay)
		capability = wallet.WithBreakers(relay, breakers)
	} else {
		// Submissions answer NotConnected until a relay is configured;
		// the server itself still comes up for health and inspection.
		log.Warn().Msg("no wallet relay configured, payment submission disabled")
	}

	notifier := callbacks.NewRetryableClient(cfg.Callbacks,
		callbacks.WithRetryLogger(log),
		callbacks.WithBreakers(breakers),
		callbacks.WithMetrics(metricsCollector),
	)

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		natsPublisher, err := events.NewNATSPublisher(cfg.Events, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event broker")
		}
		resources.RegisterFunc("nats-publisher", func() error {
			natsPublisher.Close()
			return nil
		})
		publisher = natsPublisher
	}

	settlementWatcher := watcher.New(capability, attemptLedger, watcher.Config{
		Backoff:       cfg.Watcher.BackoffDurations(),
		LookupTimeout: cfg.Wallet.LookupTimeout.Duration,
		MaxWatchers:   cfg.Watcher.MaxWatchers,
	}, notifier, publisher, metricsCollector, log)
	resources.Register("settlement-watcher", settlementWatcher)

	coordinator := payments.New(capability, attemptLedger, settlementWatcher,
		cfg.Wallet.PayTimeout.Duration, notifier, publisher, metricsCollector, log)

	if cfg.Wallet.PushEnabled && capability != nil {
		push := wallet.NewPushListener(cfg.Wallet.PushURL, settlementWatcher.HintInvoice, log)
		push.Start()
		resources.Register("push-listener", push)
	}

	// Crash recovery: attempts left mid-flight by a previous process get
	// a watcher before any new traffic arrives.
	if capability != nil {
		settlementWatcher.Resume(context.Background())
	}

	server := httpserver.New(cfg, coordinator, settlementWatcher, breakers, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("http server listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	if err := resources.Close(); err != nil {
		log.Error().Err(err).Msg("resource cleanup reported errors")
	}
	log.Info().Msg("shutdown complete")
}
