// Пакет config — загрузка и валидация конфигурации AuthGate
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации AuthGate.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown (по умолчанию 10s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь PostgreSQL
	DBUser string
	// Пароль PostgreSQL
	DBPassword string
	// Режим SSL (disable, require, verify-full)
	DBSSLMode string

	// --- Очередь (Redis) ---

	// URL Redis для durable-режима диспетчера (redis://host:port/db).
	// Пустое значение — degraded-режим: фоновые задачи in-process,
	// без durability и retry.
	RedisURL string

	// --- Воркеры ---

	// Количество одновременно обрабатываемых задач
	WorkerConcurrency int
	// Лимит задач в секунду
	WorkerRateLimit int
	// Максимальное количество попыток задачи
	JobMaxRetry int
	// Базовая задержка exponential backoff
	JobRetryBaseDelay time.Duration
	// Время хранения метаданных завершённых задач
	JobRetention time.Duration

	// --- Fetcher ---

	// Таймаут HTTP-запроса при скачивании контента
	FetchTimeout time.Duration
	// Максимальная длина извлечённого текста (в символах)
	FetchMaxContentLength int

	// --- Оракул (LLM) ---

	// API-ключ LLM-сервиса
	OracleAPIKey string
	// Модель LLM
	OracleModel string
	// Базовый URL OpenAI-совместимого API (пустое — стандартный)
	OracleBaseURL string
	// Таймаут вызова оракула
	OracleTimeout time.Duration

	// --- Аутентификация ---

	// Включена ли JWT-аутентификация API
	AuthEnabled bool
	// Принудительная проверка владельца записи (требует AuthEnabled)
	EnforceOwnership bool
	// URL JWKS endpoint внешнего IdP
	JWKSURL string
	// Путь к CA-сертификату для TLS к IdP (опционально)
	JWKSCACert string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Ожидаемый issuer JWT (пустое — не проверяется)
	JWTIssuer string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Кэш ---

	// Максимальный размер LRU-кэша терминальных записей
	CacheSize int
	// TTL записей кэша
	CacheTTL time.Duration

	// --- Dephealth ---

	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
	// Лейбл isentry=yes для зависимостей
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:cyclop,funlen // линейная последовательность чтения переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// AG_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("AG_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("AG_PORT: %w", err)
	}

	// AG_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("AG_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("AG_LOG_LEVEL: %w", err)
	}

	// AG_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AG_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AG_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("AG_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("AG_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("AG_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// AG_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("AG_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("AG_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("AG_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AG_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("AG_DB_NAME", "authgate")
	cfg.DBUser, err = getEnvRequired("AG_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("AG_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("AG_DB_SSL_MODE", "disable")

	// --- Очередь ---

	// AG_REDIS_URL — пустое значение переключает диспетчер в degraded-режим
	cfg.RedisURL = getEnvDefault("AG_REDIS_URL", "")

	// --- Воркеры ---

	cfg.WorkerConcurrency, err = getEnvInt("AG_WORKER_CONCURRENCY", 5)
	if err != nil {
		return nil, fmt.Errorf("AG_WORKER_CONCURRENCY: %w", err)
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("AG_WORKER_CONCURRENCY: значение должно быть >= 1")
	}
	cfg.WorkerRateLimit, err = getEnvInt("AG_WORKER_RATE_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("AG_WORKER_RATE_LIMIT: %w", err)
	}
	if cfg.WorkerRateLimit < 1 {
		return nil, fmt.Errorf("AG_WORKER_RATE_LIMIT: значение должно быть >= 1")
	}
	cfg.JobMaxRetry, err = getEnvInt("AG_JOB_MAX_RETRY", 3)
	if err != nil {
		return nil, fmt.Errorf("AG_JOB_MAX_RETRY: %w", err)
	}
	if cfg.JobMaxRetry < 1 {
		return nil, fmt.Errorf("AG_JOB_MAX_RETRY: значение должно быть >= 1")
	}
	cfg.JobRetryBaseDelay, err = getEnvDuration("AG_JOB_RETRY_BASE_DELAY", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_JOB_RETRY_BASE_DELAY: %w", err)
	}
	cfg.JobRetention, err = getEnvDuration("AG_JOB_RETENTION", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AG_JOB_RETENTION: %w", err)
	}

	// --- Fetcher ---

	cfg.FetchTimeout, err = getEnvDuration("AG_FETCH_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_FETCH_TIMEOUT: %w", err)
	}
	cfg.FetchMaxContentLength, err = getEnvInt("AG_FETCH_MAX_CONTENT_LENGTH", 5000)
	if err != nil {
		return nil, fmt.Errorf("AG_FETCH_MAX_CONTENT_LENGTH: %w", err)
	}
	if cfg.FetchMaxContentLength < 1 {
		return nil, fmt.Errorf("AG_FETCH_MAX_CONTENT_LENGTH: значение должно быть >= 1")
	}

	// --- Оракул ---

	cfg.OracleAPIKey, err = getEnvRequired("AG_ORACLE_API_KEY")
	if err != nil {
		return nil, err
	}
	cfg.OracleModel = getEnvDefault("AG_ORACLE_MODEL", "gpt-4o")
	cfg.OracleBaseURL = getEnvDefault("AG_ORACLE_BASE_URL", "")
	cfg.OracleTimeout, err = getEnvDuration("AG_ORACLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_ORACLE_TIMEOUT: %w", err)
	}

	// --- Аутентификация ---

	cfg.AuthEnabled, err = getEnvBool("AG_AUTH_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("AG_AUTH_ENABLED: %w", err)
	}
	cfg.EnforceOwnership, err = getEnvBool("AG_ENFORCE_OWNERSHIP", false)
	if err != nil {
		return nil, fmt.Errorf("AG_ENFORCE_OWNERSHIP: %w", err)
	}
	if cfg.EnforceOwnership && !cfg.AuthEnabled {
		return nil, fmt.Errorf("AG_ENFORCE_OWNERSHIP: требует AG_AUTH_ENABLED=true")
	}

	cfg.JWKSURL = getEnvDefault("AG_JWKS_URL", "")
	if cfg.AuthEnabled && cfg.JWKSURL == "" {
		return nil, fmt.Errorf("AG_JWKS_URL: обязательна при AG_AUTH_ENABLED=true")
	}
	cfg.JWKSCACert = getEnvDefault("AG_JWKS_CA_CERT", "")
	cfg.JWKSClientTimeout, err = getEnvDuration("AG_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("AG_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AG_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTIssuer = getEnvDefault("AG_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("AG_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_JWT_LEEWAY: %w", err)
	}

	// --- Кэш ---

	cfg.CacheSize, err = getEnvInt("AG_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("AG_CACHE_SIZE: %w", err)
	}
	cfg.CacheTTL, err = getEnvDuration("AG_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AG_CACHE_TTL: %w", err)
	}

	// --- Dephealth ---

	cfg.DephealthGroup = getEnvDefault("AG_DEPHEALTH_GROUP", "authgate")
	cfg.DephealthCheckInterval, err = getEnvDuration("AG_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AG_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("AG_DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("AG_DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN формирует DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// DurableQueue возвращает true, если настроен Redis (durable-режим диспетчера).
func (c *Config) DurableQueue() bool {
	return c.RedisURL != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
