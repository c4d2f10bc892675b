// Command broker runs the paper-trading API: account store, simulated
// or static market data, order execution, a resting order book, and a
// scheduled expiration sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/papertrade-io/paperbroker/internal/broker"
	"github.com/papertrade-io/paperbroker/internal/config"
	"github.com/papertrade-io/paperbroker/internal/engine"
	"github.com/papertrade-io/paperbroker/internal/estimator"
	"github.com/papertrade-io/paperbroker/internal/orders"
	"github.com/papertrade-io/paperbroker/internal/quotes"
	"github.com/papertrade-io/paperbroker/internal/server"
	"github.com/papertrade-io/paperbroker/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Optional .env for local development; missing files are fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BROKER] ", log.LstdFlags|log.Lshortfile)
	httpLogger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		httpLogger.SetLevel(level)
	}

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("closing storage: %v", err)
		}
	}()

	src := buildQuoteSource(cfg)
	est, err := buildEstimator(cfg)
	if err != nil {
		log.Fatalf("Failed to build estimator: %v", err)
	}

	b := broker.New(logger, store, src, broker.Config{
		DefaultEstimator: est,
		Engine: engine.Config{
			Commission: engine.Commission{
				PerShare:    cfg.Execution.Commission.PerShare,
				PerContract: cfg.Execution.Commission.PerContract,
			},
			Limits: cfg.Limits,
		},
		SweepExpirationsOnSubmit: cfg.Execution.SweepExpirationsOnSubmit,
	})
	book := orders.NewBook(b, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Daily expiration sweep after the close.
	scheduler := cron.New(cron.WithLocation(cfg.ExpirationLocation()))
	_, err = scheduler.AddFunc(cfg.Expiration.Schedule, func() {
		b.SweepExpirations(ctx, time.Now())
	})
	if err != nil {
		log.Fatalf("Failed to schedule expiration sweep: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	go book.Run(ctx)

	srv := server.NewServer(server.Config{
		Addr:           cfg.Server.Addr,
		AuthToken:      cfg.Server.AuthToken,
		RequestTimeout: cfg.RequestTimeout(),
	}, b, book, httpLogger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping broker...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("Starting paper broker on %s (storage=%s quotes=%s estimator=%s)",
		cfg.Server.Addr, cfg.Storage.Backend, cfg.Quotes.Source, cfg.Execution.Estimator)
	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	logger.Println("Broker stopped successfully")
}

func buildStore(cfg *config.Config) (storage.Interface, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return storage.NewSQLiteStorage(cfg.Storage.Path)
	default:
		return storage.NewJSONStorage(cfg.Storage.Path)
	}
}

func buildQuoteSource(cfg *config.Config) quotes.Source {
	var src quotes.Source
	switch cfg.Quotes.Source {
	case "static":
		src = quotes.NewStaticSource()
	default:
		src = quotes.NewSimSource(cfg.Quotes.Volatility, cfg.Quotes.Seed)
	}
	if cfg.Quotes.CircuitBreaker {
		src = quotes.NewCircuitBreakerSource(src)
	}
	return src
}

func buildEstimator(cfg *config.Config) (estimator.Estimator, error) {
	switch cfg.Execution.Estimator {
	case "midpoint":
		return estimator.Midpoint{}, nil
	case "market":
		return estimator.Market{}, nil
	case "slippage":
		return estimator.Slippage{Factor: cfg.Execution.SlippageFactor}, nil
	default:
		return nil, fmt.Errorf("unknown estimator %q", cfg.Execution.Estimator)
	}
}
