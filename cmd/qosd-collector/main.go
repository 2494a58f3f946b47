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
	"github.com/sirupsen/logrus"

	"qosd-go/internal/config"
	"qosd-go/internal/database"
	"qosd-go/internal/handlers"
	"qosd-go/internal/services/collector"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadCollector(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Setup logging
	setupLogging(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)

	logrus.Info("Starting qosd collector")

	store, err := openStore(cfg)
	if err != nil {
		logrus.Fatalf("Failed to open event store: %v", err)
	}
	if store != nil {
		defer store.Close()
	}

	service := collector.New(logrus.StandardLogger(), collector.Config{
		MaxEvents:  cfg.MaxEvents,
		PolicyFile: cfg.PolicyFile,
	}, store)

	if cfg.PolicyFile != "" {
		if err := service.LoadPolicies(cfg.PolicyFile); err != nil {
			logrus.Warnf("Using default policies: %v", err)
		}
	}

	router := setupRouter(cfg, service)

	// Start HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logrus.Infof("Starting HTTP server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server stopped")
}

func openStore(cfg *config.CollectorServiceConfig) (database.EventStore, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := database.NewPostgreSQL(cfg.Storage.Database)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "sqlite":
		db, err := database.NewSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		logrus.Info("No event store configured, keeping events in memory only")
		return nil, nil
	}
}

func setupLogging(level, format, file string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logrus.SetOutput(f)
		} else {
			logrus.Warnf("Failed to open log file %s: %v", file, err)
		}
	}
}

func setupRouter(cfg *config.CollectorServiceConfig, service *collector.Service) *gin.Engine {
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})

	handlers.NewCollectorHandler(service, logrus.StandardLogger()).RegisterRoutes(router)

	return router
}
