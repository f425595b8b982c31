// handler.go — основной обработчик API AuthGate.
// Объединяет health и бизнес-обработчики, регистрирует маршруты
// и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/authgate/internal/service"
)

// APIHandler — основной обработчик API AuthGate.
type APIHandler struct {
	health           *HealthHandler
	verifications    *service.VerificationService
	enforceOwnership bool
	logger           *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// enforceOwnership — включает проверку владельца записи (403 для чужих
// записей) и фильтрацию списка по владельцу.
func NewAPIHandler(
	health *HealthHandler,
	verifications *service.VerificationService,
	enforceOwnership bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:           health,
		verifications:    verifications,
		enforceOwnership: enforceOwnership,
		logger:           logger.With(slog.String("component", "api_handler")),
	}
}

// RegisterRoutes регистрирует маршруты API на chi-роутере.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	// Health и метрики (исключены из JWT middleware на уровне сервера)
	r.Get("/health", h.health.Health)
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	// Записи верификации
	r.Get("/api/verifications", h.ListVerifications)
	r.Post("/api/verifications", h.CreateVerification)
	r.Get("/api/verifications/{id}", h.GetVerification)
	r.Delete("/api/verifications/{id}", h.DeleteVerification)

	// Статистика очереди
	r.Get("/api/queue/stats", h.GetQueueStats)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
