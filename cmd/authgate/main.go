// Точка входа AuthGate — сервиса проверки подлинности контента.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/arturkryukov/authgate/internal/api/handlers"
	"github.com/arturkryukov/authgate/internal/api/middleware"
	"github.com/arturkryukov/authgate/internal/config"
	"github.com/arturkryukov/authgate/internal/database"
	"github.com/arturkryukov/authgate/internal/dispatch"
	"github.com/arturkryukov/authgate/internal/repository"
	"github.com/arturkryukov/authgate/internal/server"
	"github.com/arturkryukov/authgate/internal/service"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("AuthGate запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.Bool("durable_queue", cfg.DurableQueue()),
		slog.Bool("auth_enabled", cfg.AuthEnabled),
	)

	// --- Инициализация компонентов ---

	ctx := context.Background()

	// 1. PostgreSQL: миграции и пул соединений
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций базы данных", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 2. Репозиторий и кэш
	repo := repository.NewVerificationRepository(pool)
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)

	// 3. Fetcher и оракул
	fetcher := service.NewContentFetcher(cfg.FetchTimeout, cfg.FetchMaxContentLength)

	oracleOpts := []openai.Option{
		openai.WithToken(cfg.OracleAPIKey),
		openai.WithModel(cfg.OracleModel),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.OracleTimeout}),
	}
	if cfg.OracleBaseURL != "" {
		oracleOpts = append(oracleOpts, openai.WithBaseURL(cfg.OracleBaseURL))
	}
	llm, err := openai.New(oracleOpts...)
	if err != nil {
		logger.Error("Ошибка инициализации LLM-клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}
	oracle := service.NewOracle(llm, logger)

	// 4. Процессор и диспетчер задач
	processor := service.NewProcessor(repo, fetcher, oracle, logger)

	var dispatcher service.Dispatcher
	var queueChecker handlers.ReadinessChecker
	if cfg.DurableQueue() {
		asynqDispatcher, dispErr := dispatch.NewAsynqDispatcher(cfg, processor, logger)
		if dispErr != nil {
			logger.Error("Ошибка инициализации диспетчера задач", slog.String("error", dispErr.Error()))
			os.Exit(1)
		}
		if startErr := asynqDispatcher.Start(); startErr != nil {
			logger.Error("Ошибка запуска воркеров очереди", slog.String("error", startErr.Error()))
			os.Exit(1)
		}
		dispatcher = asynqDispatcher
		logger.Info("Диспетчер задач запущен (durable-режим)",
			slog.Int("concurrency", cfg.WorkerConcurrency),
			slog.Int("rate_limit", cfg.WorkerRateLimit),
		)

		redisChecker, checkErr := dispatch.NewRedisReadinessChecker(cfg.RedisURL)
		if checkErr != nil {
			logger.Warn("Проверка готовности Redis недоступна", slog.String("error", checkErr.Error()))
		} else {
			queueChecker = redisChecker
			defer redisChecker.Close()
		}
	} else {
		dispatcher = dispatch.NewInlineDispatcher(processor, logger)
		logger.Warn("Redis не настроен — degraded-режим: задачи выполняются in-process, без retry")
	}

	// 5. Сервис записей верификации
	verificationSvc := service.NewVerificationService(repo, dispatcher, cache, logger)

	// 6. topologymetrics — мониторинг зависимостей
	sqlDB := stdlib.OpenDBFromPool(pool)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"authgate",
		cfg.DephealthGroup,
		sqlDB,
		cfg.DatabaseDSN(),
		cfg.JWKSURL,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 7. Handlers
	var idpChecker handlers.ReadinessChecker
	if cfg.AuthEnabled {
		checker, checkErr := middleware.NewIDPReadinessChecker(cfg.JWKSURL, cfg.JWKSCACert, cfg.JWKSClientTimeout)
		if checkErr != nil {
			logger.Warn("Проверка готовности IdP недоступна", slog.String("error", checkErr.Error()))
		} else {
			idpChecker = checker
		}
	}

	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), queueChecker, idpChecker, logger)
	apiHandler := handlers.NewAPIHandler(healthHandler, verificationSvc, cfg.EnforceOwnership, logger)

	// 8. Middleware: метрики, логирование, JWT
	middlewares := []func(http.Handler) http.Handler{
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	}

	var jwtAuth *middleware.JWTAuth
	if cfg.AuthEnabled {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWKSURL,
			cfg.JWKSCACert,
			cfg.JWTIssuer,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка инициализации JWT middleware",
				slog.String("jwks_url", cfg.JWKSURL),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		defer jwtAuth.Close()

		// Health и метрики доступны без токена
		middlewares = append(middlewares, server.JWTAuthWithExclusions(
			jwtAuth.Middleware(),
			"/health", "/metrics",
		))
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSURL))
	}

	// 9. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, middlewares...)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	if err := dispatcher.Close(); err != nil {
		logger.Error("Ошибка остановки диспетчера задач", slog.String("error", err.Error()))
	}
	if dephealthErr == nil {
		dephealthSvc.Stop()
	}

	logger.Info("AuthGate остановлен")
}
