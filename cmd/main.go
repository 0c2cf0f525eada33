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

	"github.com/Dosada05/match-engine/config"
	"github.com/Dosada05/match-engine/db"
	"github.com/Dosada05/match-engine/handlers"
	"github.com/Dosada05/match-engine/realtime"
	"github.com/Dosada05/match-engine/repositories"
	api "github.com/Dosada05/match-engine/routes"
	"github.com/Dosada05/match-engine/services"
	"github.com/Dosada05/match-engine/storage"
	"github.com/go-chi/chi/v5"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Настройка логгера
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	// Подключение к базе данных
	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		} else {
			logger.Info("database connection closed")
		}
	}()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx, dbConn)
	cancelMigrate()
	if err != nil {
		logger.Error("failed to apply database schema", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("database connection established")

	// Хранилище ключей идемпотентности
	var idemStore repositories.IdempotencyStore
	if cfg.RedisURL != "" {
		rdb, err := db.ConnectRedis(cfg.RedisURL, 5*time.Second)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer rdb.Close()
		idemStore = repositories.NewRedisIdempotencyStore(rdb)
		logger.Info("idempotency keys stored in redis")
	} else {
		idemStore = repositories.NewPostgresIdempotencyStore(dbConn)
		logger.Info("idempotency keys stored in postgres")
	}

	// Хранилище доказательств (Cloudflare R2), опционально
	var evidenceStore storage.EvidenceStore
	r2cfg := storage.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		BucketName:      cfg.R2BucketName,
		PublicBaseURL:   cfg.R2PublicBaseURL,
	}
	if r2cfg.Enabled() {
		evidenceStore, err = storage.NewR2EvidenceStore(context.Background(), r2cfg)
		if err != nil {
			logger.Error("failed to initialize evidence store", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("evidence store initialized", slog.String("bucket", r2cfg.BucketName))
	} else {
		logger.Warn("evidence store disabled, R2 settings are incomplete")
	}

	// WebSocket Hub
	wsHub := realtime.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()

	// Репозитории
	transactor := repositories.NewPostgresTransactor(dbConn, logger)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	disputeRepo := repositories.NewPostgresDisputeRepository(dbConn)

	// Сервисы
	guard := services.NewIdempotencyGuard(idemStore, cfg.IdempotencyRetention, cfg.IdempotencyPendingLease, logger)
	disputeService := services.NewDisputeService(disputeRepo, evidenceStore, time.Now, logger)
	matchService := services.NewMatchCommandService(
		transactor,
		matchRepo,
		disputeService,
		guard,
		logger,
		time.Now,
		realtime.NewMatchBroadcaster(wsHub, logger),
	)

	sweeper, err := services.NewIdempotencySweeper(idemStore, cfg.IdempotencySweepInterval, logger)
	if err != nil {
		logger.Error("failed to create idempotency sweeper", slog.Any("error", err))
		os.Exit(1)
	}
	sweeper.Start()
	defer func() {
		if err := sweeper.Stop(); err != nil {
			logger.Error("failed to stop idempotency sweeper", slog.Any("error", err))
		}
	}()
	logger.Info("services initialized")

	// HTTP
	matchHandler := handlers.NewMatchHandler(matchService, disputeService)
	evidenceHandler := handlers.NewEvidenceHandler(matchService, evidenceStore)
	webSocketHandler := handlers.NewWebSocketHandler(wsHub, cfg.AllowedOrigins, logger)

	router := chi.NewRouter()
	api.SetupRoutes(
		router,
		api.Options{
			JWTSecret:      []byte(cfg.JWTSecretKey),
			AllowedOrigins: cfg.AllowedOrigins,
			Logger:         logger,
		},
		matchHandler,
		evidenceHandler,
		webSocketHandler,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			return
		}
		logger.Info("server stopped gracefully")
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			return
		}
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
