package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/buddy-work/internal/api/handler"
	"github.com/cuongbtq/buddy-work/internal/api/router"
	"github.com/cuongbtq/buddy-work/internal/config"
	"github.com/cuongbtq/buddy-work/internal/metrics"
	"github.com/cuongbtq/buddy-work/internal/orchestrator"
	"github.com/cuongbtq/buddy-work/shared/logger"
	"github.com/cuongbtq/buddy-work/shared/prediction"
	"github.com/cuongbtq/buddy-work/shared/rabbitmq"
	"github.com/cuongbtq/buddy-work/shared/recordstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("BUDDY_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/buddy-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting buddy work service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// One pooled client shared by both upstreams
	httpClient := newHTTPClient()

	storeClient := recordstore.NewClient(&recordstore.Config{
		BaseURL:        cfg.RecordStore.BaseURL,
		RequestTimeout: cfg.RecordStore.RequestTimeout,
		CreateShape:    cfg.RecordStore.CreateShape,
		UpdateRetry:    cfg.RecordStore.UpdateRetry,
	}, appLogger.With(slog.String("component", "record_store")).Logger,
		recordstore.WithHTTPClient(httpClient),
		recordstore.WithRetryHook(metrics.RecordUpdateRetry),
	)

	predictionClient := prediction.NewClient(&prediction.Config{
		BaseURL: cfg.Prediction.BaseURL,
		APIKey:  cfg.Prediction.APIKey,
		Timeout: cfg.Prediction.Timeout,
		Retry:   cfg.Prediction.Retry,
	}, appLogger.With(slog.String("component", "prediction")).Logger, prediction.WithHTTPClient(httpClient))

	orchCfg := &orchestrator.Config{
		Logger:      appLogger.Logger,
		Store:       storeClient,
		Executor:    predictionClient,
		AuthKey:     cfg.Auth.SharedKey,
		Columns:     cfg.RecordStore.Columns,
		MaxInFlight: cfg.Orchestrator.MaxInFlight,
	}

	var rabbitClient *rabbitmq.Client
	if cfg.Events.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.Events.RabbitMQ, appLogger.With(slog.String("component", "events")).Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		orchCfg.Events = rabbitClient
		appLogger.Info("RabbitMQ event publisher established")
	}

	orch := orchestrator.New(orchCfg)

	r := initRouter(cfg, appLogger.Logger, orch)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	// Background jobs outlive their requests; give them a chance to land
	// their terminal update before the process exits.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Orchestrator.DrainTimeout)
	defer drainCancel()

	if err := orch.Wait(drainCtx); err != nil {
		appLogger.Warn("Exiting with unfinished jobs, their records stay running",
			slog.Any("error", err),
		)
	}

	if rabbitClient != nil {
		rabbitClient.Close()
	}
	httpClient.CloseIdleConnections()

	appLogger.Info("Server shutdown complete")
	return nil
}

// newHTTPClient builds the shared, connection-pooled upstream client.
// Per-call deadlines come from each caller's context.
func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 20
	transport.IdleConnTimeout = 90 * time.Second

	return &http.Client{Transport: transport}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}

// initRabbitMQ initializes the lifecycle event publisher
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, orch *orchestrator.Orchestrator) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:         logger,
		Assigner:       orch,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}

	return router.SetupRouter(handlerDeps)
}
