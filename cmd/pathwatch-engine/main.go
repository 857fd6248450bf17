package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pathwatch/pathwatch-engine/internal/api"
	"github.com/pathwatch/pathwatch-engine/internal/cache"
	"github.com/pathwatch/pathwatch-engine/internal/config"
	"github.com/pathwatch/pathwatch-engine/internal/flows"
	"github.com/pathwatch/pathwatch-engine/internal/incidents"
	"github.com/pathwatch/pathwatch-engine/internal/metrics"
	"github.com/pathwatch/pathwatch-engine/internal/risk"
	"github.com/pathwatch/pathwatch-engine/internal/servicegraph"
	"github.com/pathwatch/pathwatch-engine/internal/store"
	"github.com/pathwatch/pathwatch-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting pathwatch-engine", slog.String("store", cfg.Store.Path))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := store.Open(cfg.Store.Path, cfg.Store.BusyTimeout, utils.Component(logger, "store"))
	if err != nil {
		logger.Error("failed to open store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, caching disabled", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer func() { _ = provider.Close() }()
		}
	}

	graphBuilder := servicegraph.NewBuilder(st, cacheProvider, cfg.Cache.ServiceGraphTTL,
		utils.Component(logger, "servicegraph"))
	incidentService := incidents.NewService(st, utils.Component(logger, "incidents"), graphBuilder)
	flowAggregator := flows.NewAggregator(st, utils.Component(logger, "flows"))
	watchlist := risk.NewWatchlist(st, cfg.SLA, utils.Component(logger, "risk"))

	handlers := api.NewHandlers(incidentService, flowAggregator, graphBuilder, watchlist,
		utils.Component(logger, "api"))
	server := api.NewServer(cfg.Server, handlers, utils.Component(logger, "api"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("api server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("api server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	server.Shutdown(shutdownCtx)
	cancel()

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("pathwatch-engine stopped")
}
