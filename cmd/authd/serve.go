package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"auth-go/internal/api"
	"auth-go/internal/app"
	"auth-go/internal/banner"
	"auth-go/internal/config"
	"auth-go/internal/jobs"
	"auth-go/internal/mail"
	"auth-go/internal/notification"
	"auth-go/internal/queue"
	kafkaqueue "auth-go/internal/queue/kafka"
	memoryqueue "auth-go/internal/queue/memory"
	"auth-go/internal/registration"
	"auth-go/internal/scheduler"
	"auth-go/internal/store"
	memorystor "auth-go/internal/store/memory"
	postgresstor "auth-go/internal/store/postgres"
	redisstor "auth-go/internal/store/redis"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server, the consumers and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			banner.Print(cmd.OutOrStdout())

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, cleanup, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", "error", err)
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start consumers, then the scheduler
	if err := deps.lifecycle.OnReady(ctx); err != nil {
		logger.Error("failed to start background workers", "error", err)
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := deps.server.Start(); err != nil {
			serverErr <- err
		}
	}()

	logger.Info("authd started",
		"address", cfg.Server.Address(),
		"storage_mode", cfg.Storage.Mode,
		"instance", deps.instance,
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-deps.lifecycle.Fatal():
		logger.Error("consumer failed, shutting down", "error", err)
		runErr = err
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		runErr = err
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Stop the scheduler, then consumers
	if err := deps.lifecycle.OnShutdown(); err != nil {
		logger.Error("background worker shutdown error", "error", err)
	}

	logger.Info("authd stopped")
	return runErr
}

// dependencies holds all initialized service dependencies.
type dependencies struct {
	instance  string
	server    *api.Server
	lifecycle *app.Lifecycle
}

// backends holds the storage and transport implementations chosen by
// the storage mode.
type backends struct {
	clients     store.ClientRepository
	revoked     store.RevokedAuthorizationRepository
	idempotency store.IdempotencyStore
	locks       store.LockProvider
	publisher   queue.Producer
	subscriber  queue.Subscriber
}

// initDependencies creates and wires all service dependencies based on config.
// Returns the dependencies and a cleanup function.
func initDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*dependencies, func(), error) {
	var cleanupFuncs []func()
	cleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			cleanupFuncs[i]()
		}
	}

	instance := instanceID()

	var (
		b   *backends
		err error
	)
	if cfg.Storage.UseMemory() {
		b, err = initMemoryBackends(cfg, logger, &cleanupFuncs)
	} else {
		b, err = initStorageBackends(ctx, cfg, instance, logger, &cleanupFuncs)
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	// Initialize mail service (stubbed mailer for now)
	mailer := notification.NewStubMailer(logger)
	mailService := mail.NewService(mailer, b.idempotency, cfg.Mail.From, cfg.Mail.IdempotencyTTL, logger)

	// Initialize the event pipeline
	pipeline, err := app.NewPipeline(&cfg.Kafka, b.publisher, b.subscriber, mailService, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build event pipeline: %w", err)
	}

	registrationService := registration.NewService(b.clients, pipeline.Registrations, logger)

	// Initialize the scheduler and its jobs
	sched := scheduler.New(b.locks, logger)
	if err := jobs.Register(sched, cfg.Scheduler.Jobs, map[string]scheduler.Task{
		jobs.RevokedAuthorizationCleanup: jobs.CleanupRevokedAuthorizations(b.revoked, logger.With("job", jobs.RevokedAuthorizationCleanup)),
		jobs.ClientAudit:                 jobs.AuditClients(b.clients, logger.With("job", jobs.ClientAudit)),
	}); err != nil {
		cleanup()
		return nil, nil, err
	}

	lifecycle := app.New(sched, logger, pipeline.Consumers()...)

	// Initialize HTTP server
	server := api.NewServer(api.ServerDeps{
		Config:              &cfg.Server,
		Logger:              logger,
		RegistrationHandler: api.NewRegistrationHandler(registrationService, logger),
		PipelineHandler:     api.NewPipelineHandler(lifecycle),
	})

	return &dependencies{
		instance:  instance,
		server:    server,
		lifecycle: lifecycle,
	}, cleanup, nil
}

func initMemoryBackends(cfg *config.Config, logger *slog.Logger, cleanupFuncs *[]func()) (*backends, error) {
	logger.Info("initializing in-memory storage")

	idempotency := memorystor.NewIdempotencyStore()
	*cleanupFuncs = append(*cleanupFuncs, func() { _ = idempotency.Close() })

	broker := memoryqueue.NewBroker(cfg.Kafka.Partitions)
	*cleanupFuncs = append(*cleanupFuncs, func() { _ = broker.Close() })

	return &backends{
		clients:     memorystor.NewClientRepository(),
		revoked:     memorystor.NewRevokedAuthorizationRepository(),
		idempotency: idempotency,
		locks:       memorystor.NewLockProvider(),
		publisher:   broker,
		subscriber:  broker,
	}, nil
}

func initStorageBackends(ctx context.Context, cfg *config.Config, instance string, logger *slog.Logger, cleanupFuncs *[]func()) (*backends, error) {
	logger.Info("initializing production storage (Kafka, Redis, PostgreSQL)")

	// Initialize PostgreSQL
	db, err := postgresstor.NewDB(ctx, &cfg.Postgres)
	if err != nil {
		return nil, err
	}
	*cleanupFuncs = append(*cleanupFuncs, db.Close)

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		return nil, err
	}
	logger.Info("database migrations completed")

	// Initialize Redis
	redisClient, err := redisstor.NewClient(&cfg.Redis)
	if err != nil {
		return nil, err
	}
	idempotency := redisstor.NewIdempotencyStore(redisClient)
	*cleanupFuncs = append(*cleanupFuncs, func() { _ = idempotency.Close() })

	var locks store.LockProvider
	switch cfg.Scheduler.LockStore {
	case config.LockStorePostgres:
		locks = postgresstor.NewLockProvider(db, instance)
	case config.LockStoreRedis:
		locks = redisstor.NewLockProvider(redisClient, instance)
	default:
		return nil, errors.New("storage mode needs a shared scheduler lock store")
	}

	// Initialize Kafka
	kafkaProducer := kafkaqueue.NewProducer(&cfg.Kafka)
	*cleanupFuncs = append(*cleanupFuncs, func() { _ = kafkaProducer.Close() })

	return &backends{
		clients:     postgresstor.NewClientRepository(db),
		revoked:     postgresstor.NewRevokedAuthorizationRepository(db),
		idempotency: idempotency,
		locks:       locks,
		publisher:   kafkaProducer,
		subscriber:  kafkaqueue.NewSubscriber(&cfg.Kafka, logger),
	}, nil
}

// instanceID identifies this process as a lock owner.
func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "authd"
	}
	return host + "-" + uuid.NewString()[:8]
}
