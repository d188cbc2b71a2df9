package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loan-underwriting/internal/api"
	"loan-underwriting/internal/api/handler"
	"loan-underwriting/internal/batch"
	"loan-underwriting/internal/config"
	"loan-underwriting/internal/domain/customer"
	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/event"
	"loan-underwriting/internal/infrastructure/cache"
	"loan-underwriting/internal/infrastructure/creditscore"
	"loan-underwriting/internal/infrastructure/database/memory"
	"loan-underwriting/internal/infrastructure/database/postgres"
	"loan-underwriting/internal/infrastructure/logging"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// @title Loan Underwriting API
// @version 1.0
// @description Accepts loan applications, scores them against an external credit bureau and decides them synchronously.

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, logger := initializeApp()

	store, err := initializeStorage(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.close()

	underwriting, cleanup, err := initializeServices(context.Background(), cfg, store, logger)
	if err != nil {
		logger.Error("Failed to initialize services", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	staleJob := batch.NewStalePendingJob(store.loans, staleAfter(cfg.Batch), logger)
	cronScheduler := startBatchJobs(cfg, logger, staleJob)
	router := api.SetupRouter(underwriting, store.checks, cfg, logger)

	srv, serverErrors, shutdownChan := startServer(cfg, router, logger)
	handleShutdown(srv, cronScheduler, shutdownChan, serverErrors, logger)
}

func initializeApp() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logger)
	slog.SetDefault(logger)
	logger.Info("Application starting...", "config_source", viper.ConfigFileUsed(), "storage_driver", cfg.Database.Driver)

	if cfg.Server.Auth.JWTSecret == "" {
		logger.Error("server.auth.jwtSecret must be set; every loan endpoint requires a bearer token")
		os.Exit(1)
	}

	return cfg, logger
}

// storage bundles the repository pair for the configured driver together
// with its health checks and teardown.
type storage struct {
	loans     loan.Repository
	customers customer.Directory
	checks    map[string]handler.Pinger
	close     func()
}

func initializeStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.Warn("Using in-memory storage; loans are lost on restart")
		customers, err := memory.NewSeededCustomerStore(cfg.Database.SeedCustomers)
		if err != nil {
			return nil, fmt.Errorf("failed to seed customer profiles: %w", err)
		}
		logger.Info("Seeded in-memory customer directory", "profiles", len(cfg.Database.SeedCustomers))
		return &storage{
			loans:     memory.NewLoanStore(),
			customers: customers,
			checks:    map[string]handler.Pinger{},
			close:     func() {},
		}, nil

	case config.DriverPostgres, "":
		logger.Info("Initializing database connection pool...")
		dbPool, err := postgres.NewConnectionPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		loanRepo := postgres.NewLoanRepository(dbPool, logger)
		return &storage{
			loans:     loanRepo,
			customers: postgres.NewCustomerRepository(dbPool, logger),
			checks:    map[string]handler.Pinger{"database": loanRepo},
			close: func() {
				logger.Info("Closing database connection pool...")
				dbPool.Close()
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// initializeServices wires the engine. Redis and RabbitMQ are optional: when
// they are not configured or unreachable the engine runs without the list
// cache or decision events.
func initializeServices(ctx context.Context, cfg *config.Config, store *storage, logger *slog.Logger) (loan.UnderwritingService, func(), error) {
	logger.Info("Initializing application components...")
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	scorer, err := creditscore.NewClient(cfg.CreditScore, logger)
	if err != nil {
		return nil, cleanup, err
	}

	var opts []loan.Option

	if cfg.Redis.URL != "" {
		client, err := cache.OpenRedis(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn("Redis unavailable, admin loan list will not be cached", slog.Any("error", err))
		} else {
			logger.Info("Redis loan list cache enabled", "ttl", cfg.Redis.CacheTTL)
			opts = append(opts, loan.WithListCache(cache.NewLoanListCache(client, cfg.Redis.CacheTTL, logger)))
			store.checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			})
			closers = append(closers, func() {
				if err := client.Close(); err != nil {
					logger.Warn("Failed to close Redis client", slog.Any("error", err))
				}
			})
		}
	}

	if cfg.RabbitMQ.Enabled {
		conn, err := connectRabbitMQ(cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn("RabbitMQ unavailable, decision events will not be published", slog.Any("error", err))
		} else {
			publisher, err := event.NewRabbitMQEventPublisher(event.ConnectionChannels(conn), cfg.RabbitMQ.ExchangeName, logger)
			if err != nil {
				conn.Close()
				cleanup()
				return nil, func() {}, err
			}
			opts = append(opts, loan.WithDecisionPublisher(publisher))
			store.checks["rabbitmq"] = handler.PingFunc(func(context.Context) error {
				if conn.IsClosed() {
					return errors.New("connection closed")
				}
				return nil
			})
			closers = append(closers, func() {
				logger.Info("Closing RabbitMQ connection...")
				if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
					logger.Warn("Failed to close RabbitMQ connection", slog.Any("error", err))
				}
			})
		}
	}

	return loan.NewUnderwritingService(store.loans, store.customers, scorer, logger, opts...), cleanup, nil
}

func connectRabbitMQ(cfg config.RabbitMQConfig, logger *slog.Logger) (*amqp.Connection, error) {
	logger.Info("Connecting to RabbitMQ", "exchange", cfg.ExchangeName)
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	logger.Info("RabbitMQ connection established.")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			logger.Error("RabbitMQ connection closed unexpectedly", slog.Any("error", amqpErr))
		}
	}()

	return conn, nil
}

func startServer(cfg *config.Config, router http.Handler, logger *slog.Logger) (*http.Server, <-chan error, <-chan os.Signal) {
	logger.Info("Setting up HTTP server...", "port", cfg.Server.Port)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("Server listening on port %d", cfg.Server.Port))
		err := srv.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			serverErrors <- err
		} else {
			logger.Info("Server closed gracefully.")
			serverErrors <- nil
		}
	}()
	return srv, serverErrors, shutdownChan
}

func handleShutdown(srv *http.Server, cronScheduler *cron.Cron, shutdownChan <-chan os.Signal, serverErrors <-chan error, logger *slog.Logger) {
	logger.Info("Shutdown handler started. Waiting for signal or server error...")

	var triggerReason string
	select {
	case sig := <-shutdownChan:
		triggerReason = "signal: " + sig.String()
		logger.Info("Shutdown signal received.", "signal", sig.String())
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server exited unexpectedly before signal", "error", err)
			os.Exit(1)
		}
		triggerReason = "server exited"
		logger.Info("Server goroutine finished before signal.", "error", err)
	}

	logger.Info("Starting graceful shutdown...", "trigger", triggerReason)

	logger.Info("Stopping cron scheduler...")
	cronCtx := cronScheduler.Stop()
	select {
	case <-cronCtx.Done():
		logger.Info("Cron scheduler stopped gracefully.")
	case <-time.After(15 * time.Second):
		logger.Warn("Cron scheduler shutdown timed out.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	logger.Info("Shutting down HTTP server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", "error", err)
		if err := srv.Close(); err != nil {
			logger.Error("HTTP server forced close failed", "error", err)
		}
	} else {
		logger.Info("HTTP server gracefully stopped.")
	}

	if triggerReason != "server exited" {
		logger.Info("Waiting for server goroutine to confirm exit...")
		select {
		case err := <-serverErrors:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Server goroutine exited with unexpected error after shutdown", "error", err)
			} else {
				logger.Info("Server goroutine confirmed exit.")
			}
		case <-time.After(5 * time.Second):
			logger.Warn("Timed out waiting for server goroutine confirmation.")
		}
	}

	logger.Info("Application shutdown process complete.")
}

const (
	defaultStaleSchedule = "*/15 * * * *"
	defaultStaleAfter    = 10 * time.Minute
	defaultStaleTimeout  = 2 * time.Minute
)

func staleAfter(cfg config.BatchConfig) time.Duration {
	if cfg.StalePendingAfter <= 0 {
		return defaultStaleAfter
	}
	return cfg.StalePendingAfter
}

func startBatchJobs(cfg *config.Config, logger *slog.Logger, staleJob *batch.StalePendingJob) *cron.Cron {
	logger.Info("Initializing batch job scheduler...")
	c := cron.New()

	scheduleSpec := cfg.Batch.StalePendingSchedule
	if scheduleSpec == "" {
		scheduleSpec = defaultStaleSchedule
		logger.Warn("Stale pending sweep schedule not configured, using default", "schedule", scheduleSpec)
	}
	jobTimeout := cfg.Batch.StalePendingTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultStaleTimeout
	}

	jobID, err := c.AddJob(scheduleSpec, cron.FuncJob(func() {
		jobLogger := logger.With("job_name", "StalePendingSweep")
		jobLogger.Info("Cron triggered: Running stale pending sweep.")

		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		if runErr := staleJob.Run(ctx); runErr != nil {
			jobLogger.Error("Stale pending sweep finished with error", slog.Any("error", runErr))
		} else {
			jobLogger.Info("Stale pending sweep finished successfully.")
		}
	}))

	if err != nil {
		logger.Error("Failed to schedule stale pending sweep", "schedule", scheduleSpec, slog.Any("error", err))
	} else {
		logger.Info("Scheduled stale pending sweep", "schedule", scheduleSpec, "job_id", jobID)
	}

	c.Start()
	logger.Info("Cron scheduler started.")
	return c
}

func setupLogger(cfg config.LoggerConfig) *slog.Logger {
	return logging.NewLogger(cfg)
}
