package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/proctorhq/invigil-backend/internal/config"
	"github.com/proctorhq/invigil-backend/internal/database"
	"github.com/proctorhq/invigil-backend/internal/handler"
	"github.com/proctorhq/invigil-backend/internal/logger"
	"github.com/proctorhq/invigil-backend/internal/repository"
	"github.com/proctorhq/invigil-backend/internal/router"
	"github.com/proctorhq/invigil-backend/internal/service"
	"github.com/proctorhq/invigil-backend/internal/validator"
	"github.com/proctorhq/invigil-backend/internal/worker"
)

func main() {
	cfg := config.Load()

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Invigil Backend")

	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Repositories
	userRepo := repository.NewUserRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	monitoringRepo := repository.NewMonitoringRepository(pool)
	reportRepo := repository.NewReportRepository(pool)

	// Services
	authService := service.NewAuthService(cfg, userRepo, rdb)
	examService := service.NewExamService(examRepo, questionRepo, log)
	attemptService := service.NewAttemptService(
		attemptRepo,
		examRepo,
		questionRepo,
		monitoringRepo,
		service.NewRedisEventQueue(rdb),
		service.NewRedisBroadcaster(rdb, log),
		rdb,
		log,
	)
	reportService := service.NewReportService(examRepo, reportRepo, monitoringRepo, log)

	// Handlers
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Exam:    handler.NewExamHandler(cfg, examService),
		Attempt: handler.NewAttemptHandler(attemptService),
		Report:  handler.NewReportHandler(reportService),
		Monitor: handler.NewMonitorHandler(rdb, examService, reportService, log),
	}

	// Background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())

	monitoringWorker := worker.NewMonitoringWorker(monitoringRepo, rdb, log)
	go monitoringWorker.Start(workerCtx)

	r := router.SetupRouter(authService, handlers, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the queue to drain.
	workerCancel()
	time.Sleep(2 * time.Second)

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
