// syncwatch wires the sync layer against a PulseDesk backend and tails
// updates for the customer ids given on the command line.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pulsedesk-sync/application/datasync"
	"pulsedesk-sync/domain/entities"
	"pulsedesk-sync/infrastructure/config"
	"pulsedesk-sync/infrastructure/persistence/sqlite"
	"pulsedesk-sync/infrastructure/transport/resthttp"
	"pulsedesk-sync/interfaces/websocket"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	gateway, err := resthttp.New(resthttp.Options{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal("Failed to build transport", zap.Error(err))
	}

	store, err := sqlite.Open(cfg.CacheDBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open cache database", zap.Error(err))
	}
	defer store.Close()

	opts := datasync.Options{
		Logger: logger,
		TTL: map[entities.Kind]time.Duration{
			entities.KindCustomer:       cfg.CustomerTTL,
			entities.KindRiskAssessment: cfg.RiskTTL,
			entities.KindHealthScore:    cfg.HealthScoreTTL,
		},
		Retry: datasync.RetryConfig{
			MaxAttempts:   cfg.RetryMaxAttempts,
			BaseDelay:     cfg.RetryBaseDelay,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
		},
		RefreshInterval: cfg.RefreshInterval,
		ReplayInterval:  cfg.ReplayInterval,
	}

	if cfg.EnableMetrics {
		registry := prometheus.NewRegistry()
		opts.Metrics = datasync.NewMetrics(registry)
		go serveMetrics(cfg.MetricsAddress, registry, logger)
	}

	client := datasync.New(gateway, store, store, opts)
	client.Start(ctx)
	defer client.Close()

	if cfg.PushURL != "" {
		channel := websocket.NewChannel(cfg.PushURL, cfg.APIToken, client.Invalidate, logger)
		client.AttachPush(channel)
		go channel.Run()
		go func() {
			for err := range channel.Errors() {
				logger.Warn("push connectivity", zap.Error(err))
			}
		}()
	}

	if cfg.DynamicConfigPath != "" {
		watcher, err := config.NewWatcher(cfg.DynamicConfigPath, logger)
		if err != nil {
			logger.Warn("dynamic config unavailable", zap.Error(err))
		} else {
			watcher.OnChange(func(dc config.DynamicConfig) {
				client.ApplyLimits(dc.RefreshInterval, kindTTLs(dc.TTL))
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	for _, id := range os.Args[1:] {
		watch := client.Watch(entities.KindCustomer, id)
		defer watch.Close()
		go tail(logger, id, watch)

		// Prime the slot so the watch has something to show.
		if _, err := client.Customer(ctx, id); err != nil {
			logger.Warn("initial fetch failed", zap.String("customerID", id), zap.Error(err))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
}

func tail(logger *zap.Logger, id string, watch *datasync.Watch) {
	for update := range watch.Updates {
		fields := []zap.Field{
			zap.String("customerID", id),
			zap.Bool("loading", update.Loading),
		}
		if update.Value != nil {
			if customer, ok := update.Value.(entities.Customer); ok {
				fields = append(fields,
					zap.String("name", customer.Name),
					zap.String("status", string(customer.Status)),
				)
			}
			fields = append(fields, zap.Time("fetchedAt", update.FetchedAt))
		}
		if update.Err != nil {
			fields = append(fields, zap.Error(update.Err))
		}
		logger.Info("customer update", fields...)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info("metrics listening", zap.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func kindTTLs(in map[string]time.Duration) map[entities.Kind]time.Duration {
	out := make(map[entities.Kind]time.Duration, len(in))
	for k, d := range in {
		out[entities.Kind(k)] = d
	}
	return out
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == "production" {
		zcfg := zap.NewProductionConfig()
		if err := zcfg.Level.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
			return zcfg.Build()
		}
		return zap.NewProduction()
	}
	zcfg := zap.NewDevelopmentConfig()
	if err := zcfg.Level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return zap.NewDevelopment()
	}
	return zcfg.Build()
}
