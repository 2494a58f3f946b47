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

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"qosd-go/internal/client"
	"qosd-go/internal/config"
	"qosd-go/internal/handlers"
	"qosd-go/internal/metrics"
	"qosd-go/internal/services/live"
	"qosd-go/internal/services/override"
	"qosd-go/internal/services/policysync"
	"qosd-go/internal/services/qosd"
	"qosd-go/internal/services/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logging
	logger, err := setupLogging(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to setup logging: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting qosd")

	policies, problems := cfg.Policies()
	for _, p := range problems {
		logger.Warn("Ignoring persona entry", zap.String("problem", p))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background loops; waited on at shutdown so queued telemetry is flushed.
	var workers errgroup.Group

	m := metrics.New()
	opts := []qosd.Option{qosd.WithMetrics(m)}

	// Redis mirror for overrides
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unavailable, overrides will not survive restarts", zap.Error(err))
		} else {
			opts = append(opts, qosd.WithMirror(override.NewRedisMirror(redisClient, logger)))
		}
	}

	// Telemetry, optionally forwarded to the collector
	var collectorClient *client.Client
	if cfg.Collector.URL != "" {
		collectorClient = client.New(cfg.Collector.URL, 10*time.Second)
	}

	var publisher telemetry.Publisher
	if collectorClient != nil && cfg.Collector.Forward {
		publisher = collectorClient
	}
	emitter := telemetry.New(logger, telemetry.Config{
		RouterID:      cfg.Telemetry.RouterID,
		QueueSize:     cfg.Telemetry.QueueSize,
		BatchSize:     cfg.Telemetry.BatchSize,
		FlushInterval: cfg.Telemetry.FlushInterval,
	}, publisher)
	opts = append(opts, qosd.WithEmitter(emitter))
	workers.Go(func() error {
		emitter.Run(ctx)
		return nil
	})

	// Host snapshot source
	source := live.NewFileSource(cfg.Sources.LeasesFile, cfg.Sources.ARPFile, cfg.Sources.ConntrackFile, logger)
	if cfg.Sources.ConntrackBackend == "netlink" {
		source.Conntrack = live.NewNetlinkConntrack()
	}

	service := qosd.New(logger, qosd.Config{
		MaxOverrides: cfg.Limits.MaxOverrides,
		MaxHosts:     cfg.Limits.MaxHosts,
	}, policies, source, opts...)
	if err := service.Start(ctx); err != nil {
		logger.Fatal("Failed to start qosd", zap.Error(err))
	}
	defer service.Stop()

	logger.Info("qosd started",
		zap.String("router", emitter.Router()),
		zap.Int("personas", len(policies)),
		zap.Duration("watchdog_backoff", cfg.WatchdogBackoff()))

	// Pull persona policies from the collector
	if collectorClient != nil {
		syncer := policysync.New(logger, policysync.Config{
			Interval: cfg.Collector.PollInterval,
			Base:     policies,
		}, collectorClient, service)
		workers.Go(func() error {
			syncer.Run(ctx)
			return nil
		})
	}

	router := setupRouter(logger, service, m)

	// Start HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	workers.Wait()

	logger.Info("Server stopped")
}

func setupLogging(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zap.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zap.DebugLevel
	case "warn":
		level = zap.WarnLevel
	case "error":
		level = zap.ErrorLevel
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if cfg.Format == "json" {
		zapConfig.Encoding = "json"
	} else {
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	return zapConfig.Build()
}

func setupRouter(logger *zap.Logger, service *qosd.Service, m *metrics.Metrics) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().Unix()})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))

	handlers.NewQosdHandler(service, logger).RegisterRoutes(router)

	return router
}
