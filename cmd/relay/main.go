package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/hi-zp/recording/internal/infrastructure/monitoring"
	"github.com/hi-zp/recording/internal/infrastructure/signal"
	"github.com/hi-zp/recording/pkg/config"
	"github.com/hi-zp/recording/pkg/logger"
	"github.com/hi-zp/recording/pkg/tracing"
	"github.com/hi-zp/recording/pkg/utils"

	"github.com/redis/go-redis/v9"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Monitoring.TracingEnabled,
		ServiceName: "recording-relay",
		JaegerURL:   cfg.Monitoring.JaegerEndpoint,
		Environment: "development",
		SampleRate:  1.0,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
		log.Info("Prometheus metrics enabled")
	}

	var bridge *signal.RedisBridge
	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	defer bridgeCancel()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := client.Ping(bridgeCtx).Err(); err != nil {
			log.Fatalw("redis unreachable", "address", cfg.Redis.Address, "error", err)
		}
		bridge = signal.NewRedisBridge(client, utils.GenerateID("relay"), log)
		log.Infow("redis bridge enabled", "address", cfg.Redis.Address)
	}

	relayCfg := signal.DefaultRelayConfig()
	relayCfg.PingInterval = cfg.Relay.PingInterval
	relayCfg.PongTimeout = cfg.Relay.PongTimeout
	if cfg.Auth.Enabled {
		relayCfg.JWTSecret = cfg.Auth.JWTSecret
	}
	if cfg.RateLimiting.Enabled {
		relayCfg.MessagesPerSecond = cfg.RateLimiting.MessagesPerSecond
		relayCfg.Burst = cfg.RateLimiting.Burst
		relayCfg.MaxMessageSize = cfg.RateLimiting.MaxMessageSizeBytes
	}

	server := signal.NewRelayServer(relayCfg, collector, bridge, log)
	if bridge != nil {
		go func() {
			if err := bridge.Run(bridgeCtx); err != nil && bridgeCtx.Err() == nil {
				log.Errorw("redis bridge stopped", "error", err)
			}
		}()
	}

	router := signal.NewRouter(server, cfg.Relay.UploadDir, collector, log)
	srv := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting relay server on %s", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("relay server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		srv.Close()
	}
	bridgeCancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracing", "error", err)
	}
	log.Info("relay server stopped")
}
