package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/praxislabs/session-notifier/internal/config"
	httpserver "github.com/praxislabs/session-notifier/internal/http"
	"github.com/praxislabs/session-notifier/internal/http/handlers"
	"github.com/praxislabs/session-notifier/internal/queue"
	"github.com/praxislabs/session-notifier/internal/repository"
	"github.com/praxislabs/session-notifier/internal/service"
	"github.com/praxislabs/session-notifier/internal/signature"
	"github.com/praxislabs/session-notifier/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[notifier] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	publisher, source, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	aggregator := service.NewAggregator(repo)
	scheduler := service.NewSchedulerService(repo, publisher, aggregator, logger, service.SchedulerConfig{
		WorkerURL:          cfg.WorkerURL,
		CallbackURL:        cfg.CallbackURL(),
		FailureCallbackURL: cfg.FailureCallbackURL(),
		Retry: queue.RetryPolicy{
			MaxRetries: cfg.DeliveryRetryMax,
			BaseDelay:  time.Duration(cfg.DeliveryRetryBaseSeconds) * time.Second,
			MaxDelay:   time.Duration(cfg.DeliveryRetryMaxSeconds) * time.Second,
		},
		FlowControl: queue.FlowControl{
			Key:         cfg.FlowControlKey,
			Rate:        cfg.FlowControlRate,
			Parallelism: cfg.FlowControlParallelism,
		},
	})
	callbacks := service.NewCallbackService(repo, aggregator, logger)
	status := service.NewStatusService(repo)
	verifier := signature.NewVerifier(cfg.SigningKeyCurrent, cfg.SigningKeyNext, cfg.StrictSignatures)

	api := handlers.NewAPI(scheduler, callbacks, status, aggregator, verifier, logger)
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if source != nil && cfg.DispatcherEnabled {
		dispatcher := queue.NewDispatcher(source, signature.NewSigner(cfg.SigningKeyCurrent), logger, queue.DispatcherConfig{
			PollInterval:   time.Duration(cfg.DispatcherPollIntervalMS) * time.Millisecond,
			DeliverTimeout: time.Duration(cfg.DispatcherDeliverTimeoutMS) * time.Millisecond,
		})
		go dispatcher.Run(ctx)
		logger.Printf("dispatcher started backend=%s", cfg.QueueBackend)
	}

	if cfg.MaintenanceEnabled {
		maintenance := worker.NewMaintenance(
			scheduler,
			aggregator,
			logger,
			time.Duration(cfg.MaintenanceIntervalSeconds)*time.Second,
			time.Duration(cfg.StalledGraceSeconds)*time.Second,
		)
		go maintenance.Start(ctx)
		logger.Printf("maintenance worker started")
	} else {
		logger.Printf("maintenance worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

// setupQueue picks the delayed-queue backend. The hosted backend does
// its own delivery, so it returns no message source; the self-hosted
// backends need the in-process dispatcher to drain them.
func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Publisher, queue.MessageSource, func()) {
	switch cfg.QueueBackend {
	case config.QueueBackendHTTP:
		publisher, err := queue.NewHTTPPublisher(queue.HTTPPublisherConfig{
			BaseURL:    cfg.QueueBaseURL,
			Token:      cfg.QueueToken,
			Timeout:    time.Duration(cfg.QueueTimeoutMS) * time.Millisecond,
			MaxRetries: cfg.QueueMaxRetries,
		})
		if err != nil {
			logger.Printf("failed to initialize hosted queue, fallback to local: %v", err)
			break
		}
		logger.Printf("hosted queue initialized base_url=%s", cfg.QueueBaseURL)
		return publisher, nil, func() {}

	case config.QueueBackendRedis:
		redisQueue, err := queue.NewRedisQueue(ctx, queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			DelayKey: cfg.RedisDelayKey,
		})
		if err != nil {
			logger.Printf("failed to initialize redis queue, fallback to local: %v", err)
			break
		}
		logger.Printf("redis delayed queue initialized addr=%s", cfg.RedisAddr)
		return redisQueue, redisQueue, func() {
			_ = redisQueue.Close()
		}
	}

	logger.Printf("using local in-memory queue")
	local := queue.NewLocalQueue()
	return local, local, func() {}
}
