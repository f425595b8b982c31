package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker — интерфейс для проверки готовности зависимостей.
// Возвращает статус ("ok", "fail") и человекочитаемое сообщение.
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler обрабатывает запросы health и метрик.
type HealthHandler struct {
	startTime    time.Time
	dbChecker    ReadinessChecker
	queueChecker ReadinessChecker // nil в degraded-режиме (без очереди)
	idpChecker   ReadinessChecker // nil при выключенной аутентификации
	logger       *slog.Logger
}

// NewHealthHandler создаёт обработчик health-запросов.
// queueChecker может быть nil — сервис работает без внешней очереди.
// idpChecker может быть nil — аутентификация выключена.
func NewHealthHandler(dbChecker, queueChecker, idpChecker ReadinessChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		startTime:    time.Now(),
		dbChecker:    dbChecker,
		queueChecker: queueChecker,
		idpChecker:   idpChecker,
		logger:       logger.With(slog.String("component", "health_handler")),
	}
}

type healthResponse struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type readyResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks"`
}

// Health возвращает базовый статус сервиса: состояние, текущее время
// и аптайм в секундах.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).Seconds(),
	})
}

// HealthLive — liveness probe. Процесс жив — возвращаем 200.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady — readiness probe. Проверяет доступность PostgreSQL
// и очереди задач (если настроена).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]checkResult)
	ready := true

	if h.dbChecker != nil {
		status, message := h.dbChecker.CheckReady()
		checks["database"] = checkResult{Status: status, Message: message}
		if status != "ok" {
			h.logger.Error("База данных недоступна", slog.String("message", message))
			ready = false
		}
	} else {
		checks["database"] = checkResult{Status: "fail", Message: "проверка базы данных не настроена"}
		ready = false
	}

	if h.queueChecker != nil {
		status, message := h.queueChecker.CheckReady()
		checks["queue"] = checkResult{Status: status, Message: message}
		if status != "ok" {
			h.logger.Error("Очередь задач недоступна", slog.String("message", message))
			ready = false
		}
	} else {
		// Degraded-режим: очередь не настроена, задачи выполняются в процессе
		checks["queue"] = checkResult{Status: "ok", Message: "очередь не настроена, degraded-режим"}
	}

	if h.idpChecker != nil {
		status, message := h.idpChecker.CheckReady()
		checks["idp"] = checkResult{Status: status, Message: message}
		if status != "ok" {
			h.logger.Error("IdP недоступен", slog.String("message", message))
			ready = false
		}
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, readyResponse{Status: status, Checks: checks})
}

// GetMetrics отдаёт метрики Prometheus.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
