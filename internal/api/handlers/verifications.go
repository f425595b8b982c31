package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/arturkryukov/authgate/internal/api/errors"
	"github.com/arturkryukov/authgate/internal/api/middleware"
	"github.com/arturkryukov/authgate/internal/domain/model"
	"github.com/arturkryukov/authgate/internal/repository"
)

// listLimit — максимальное количество записей в списке.
const listLimit = 100

type createVerificationRequest struct {
	URL string `json:"url"`
}

type verificationResponse struct {
	ID                 string         `json:"id"`
	URL                string         `json:"url"`
	UserID             *string        `json:"userId,omitempty"`
	Status             string         `json:"status"`
	OriginalityScore   *int           `json:"originalityScore,omitempty"`
	PlagiarismRisk     *int           `json:"plagiarismRisk,omitempty"`
	DeepfakeConfidence *int           `json:"deepfakeConfidence,omitempty"`
	Sentiment          *string        `json:"sentiment,omitempty"`
	RawResult          map[string]any `json:"rawResult,omitempty"`
	CreatedAt          string         `json:"createdAt"`
	UpdatedAt          string         `json:"updatedAt"`
}

func toVerificationResponse(v *model.Verification) verificationResponse {
	return verificationResponse{
		ID:                 v.ID,
		URL:                v.URL,
		UserID:             v.UserID,
		Status:             v.Status,
		OriginalityScore:   v.OriginalityScore,
		PlagiarismRisk:     v.PlagiarismRisk,
		DeepfakeConfidence: v.DeepfakeConfidence,
		Sentiment:          v.Sentiment,
		RawResult:          v.RawResult,
		CreatedAt:          v.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		UpdatedAt:          v.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

// validateURL проверяет, что строка — абсолютный http(s)-URL.
func validateURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CreateVerification принимает URL на проверку подлинности.
// Создаёт запись в статусе pending и ставит задачу в очередь.
func (h *APIHandler) CreateVerification(w http.ResponseWriter, r *http.Request) {
	var req createVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса", "")
		return
	}

	if req.URL == "" {
		apierrors.ValidationError(w, "URL обязателен", "url")
		return
	}
	if !validateURL(req.URL) {
		apierrors.ValidationError(w, "Пожалуйста, укажите корректный URL", "url")
		return
	}

	var userID *string
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		userID = &claims.Subject
	}

	verification, err := h.verifications.Create(r.Context(), req.URL, userID)
	if err != nil {
		h.logger.Error("Ошибка создания записи верификации", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось создать запись верификации")
		return
	}

	writeJSON(w, http.StatusCreated, toVerificationResponse(verification))
}

// ListVerifications возвращает последние записи верификации,
// не более 100, новые первыми.
func (h *APIHandler) ListVerifications(w http.ResponseWriter, r *http.Request) {
	var ownerFilter *string
	if h.enforceOwnership {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			apierrors.Unauthorized(w, "Требуется аутентификация")
			return
		}
		ownerFilter = &claims.Subject
	}

	verifications, err := h.verifications.List(r.Context(), ownerFilter, listLimit)
	if err != nil {
		h.logger.Error("Ошибка получения списка верификаций", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось получить список верификаций")
		return
	}

	response := make([]verificationResponse, 0, len(verifications))
	for _, v := range verifications {
		response = append(response, toVerificationResponse(v))
	}
	writeJSON(w, http.StatusOK, response)
}

// GetVerification возвращает запись верификации по идентификатору.
func (h *APIHandler) GetVerification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.NotFound(w, "Запись верификации не найдена")
		return
	}

	verification, err := h.verifications.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Запись верификации не найдена")
			return
		}
		h.logger.Error("Ошибка получения записи верификации",
			slog.String("id", id), slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось получить запись верификации")
		return
	}

	if !h.allowAccess(r, verification) {
		apierrors.Forbidden(w, "Доступ к чужой записи запрещён")
		return
	}

	writeJSON(w, http.StatusOK, toVerificationResponse(verification))
}

// DeleteVerification удаляет запись верификации.
func (h *APIHandler) DeleteVerification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		apierrors.NotFound(w, "Запись верификации не найдена")
		return
	}

	if h.enforceOwnership {
		verification, err := h.verifications.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				apierrors.NotFound(w, "Запись верификации не найдена")
				return
			}
			h.logger.Error("Ошибка получения записи верификации",
				slog.String("id", id), slog.String("error", err.Error()))
			apierrors.InternalError(w, "Не удалось удалить запись верификации")
			return
		}
		if !h.allowAccess(r, verification) {
			apierrors.Forbidden(w, "Доступ к чужой записи запрещён")
			return
		}
	}

	if err := h.verifications.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Запись верификации не найдена")
			return
		}
		h.logger.Error("Ошибка удаления записи верификации",
			slog.String("id", id), slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось удалить запись верификации")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// allowAccess проверяет право доступа к записи. Записи без владельца
// доступны всем. При выключенной проверке владельца доступ свободный.
func (h *APIHandler) allowAccess(r *http.Request, v *model.Verification) bool {
	if !h.enforceOwnership || v.UserID == nil {
		return true
	}
	claims := middleware.ClaimsFromContext(r.Context())
	return claims != nil && claims.Subject == *v.UserID
}

// GetQueueStats возвращает статистику очереди задач.
func (h *APIHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.verifications.QueueStats(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения статистики очереди", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось получить статистику очереди")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
