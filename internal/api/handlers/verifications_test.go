package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/arturkryukov/authgate/internal/api/middleware"
	"github.com/arturkryukov/authgate/internal/domain/model"
	"github.com/arturkryukov/authgate/internal/repository"
	"github.com/arturkryukov/authgate/internal/service"
)

// memRepo — in-memory реализация VerificationRepository для тестов API.
type memRepo struct {
	mu      sync.Mutex
	records map[string]*model.Verification
	order   []string
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*model.Verification)}
}

func (r *memRepo) Create(ctx context.Context, url string, userID *string) (*model.Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	v := &model.Verification{
		ID:        uuid.NewString(),
		URL:       url,
		UserID:    userID,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.records[v.ID] = v
	r.order = append(r.order, v.ID)
	c := *v
	return &c, nil
}

func (r *memRepo) GetByID(ctx context.Context, id string) (*model.Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (r *memRepo) List(ctx context.Context, userID *string, limit int) ([]*model.Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Новые первыми
	var out []*model.Verification
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		v := r.records[r.order[i]]
		if v == nil {
			continue
		}
		if userID != nil && (v.UserID == nil || *v.UserID != *userID) {
			continue
		}
		c := *v
		out = append(out, &c)
	}
	return out, nil
}

func (r *memRepo) Update(ctx context.Context, id string, upd repository.VerificationUpdate) (*model.Verification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if upd.Status != nil {
		v.Status = *upd.Status
	}
	if upd.RawResult != nil {
		v.RawResult = upd.RawResult
	}
	v.UpdatedAt = time.Now().UTC()
	c := *v
	return &c, nil
}

func (r *memRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// noopDispatcher — диспетчер, принимающий задачи без обработки.
type noopDispatcher struct {
	stats service.QueueStats
}

func (d *noopDispatcher) Schedule(ctx context.Context, verificationID, url string) error {
	return nil
}

func (d *noopDispatcher) Stats(ctx context.Context) (service.QueueStats, error) {
	return d.stats, nil
}

func (d *noopDispatcher) Close() error { return nil }

// newTestRouter собирает API handler с роутером для тестов.
func newTestRouter(repo *memRepo, enforceOwnership bool) chi.Router {
	logger := slog.Default()
	svc := service.NewVerificationService(repo, &noopDispatcher{}, service.NewCacheService(10, time.Minute), logger)
	health := NewHealthHandler(nil, nil, nil, logger)
	handler := NewAPIHandler(health, svc, enforceOwnership, logger)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r
}

// withClaims добавляет claims аутентифицированного пользователя в запрос.
func withClaims(r *http.Request, subject string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.ContextKeyClaims, &middleware.AuthClaims{Subject: subject})
	return r.WithContext(ctx)
}

func decodeError(t *testing.T, body *bytes.Buffer) (message, field string) {
	t.Helper()
	var e struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	}
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		t.Fatalf("не удалось разобрать тело ошибки: %v", err)
	}
	return e.Message, e.Field
}

func TestCreateVerification_Valid(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, false)

	body := `{"url": "https://example.com/article"}`
	req := httptest.NewRequest(http.MethodPost, "/api/verifications", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d, ожидается 201; тело: %s", rec.Code, rec.Body.String())
	}

	var resp verificationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	if resp.Status != model.StatusPending {
		t.Errorf("status = %q, ожидается pending", resp.Status)
	}
	if resp.URL != "https://example.com/article" {
		t.Errorf("url = %q", resp.URL)
	}
	if _, err := uuid.Parse(resp.ID); err != nil {
		t.Errorf("id %q не UUID: %v", resp.ID, err)
	}
	if resp.OriginalityScore != nil {
		t.Errorf("originalityScore = %v, ожидается отсутствие до завершения", resp.OriginalityScore)
	}
}

func TestCreateVerification_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"не URL", `{"url": "not-a-url"}`},
		{"пустой URL", `{"url": ""}`},
		{"без схемы", `{"url": "example.com/article"}`},
		{"ftp-схема", `{"url": "ftp://example.com/file"}`},
		{"пустое тело", `{}`},
		{"некорректный JSON", `{url: `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			router := newTestRouter(repo, false)

			req := httptest.NewRequest(http.MethodPost, "/api/verifications", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("статус = %d, ожидается 400", rec.Code)
			}
			message, _ := decodeError(t, rec.Body)
			if message == "" {
				t.Error("тело ошибки без message")
			}
			// Запись не создана
			if repo.count() != 0 {
				t.Errorf("создано записей: %d, ожидается 0", repo.count())
			}
		})
	}
}

func TestCreateVerification_ValidationErrorNamesField(t *testing.T) {
	router := newTestRouter(newMemRepo(), false)

	req := httptest.NewRequest(http.MethodPost, "/api/verifications", bytes.NewBufferString(`{"url": "not-a-url"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус = %d, ожидается 400", rec.Code)
	}
	_, field := decodeError(t, rec.Body)
	if field != "url" {
		t.Errorf("field = %q, ожидается url", field)
	}
}

func TestCreateVerification_BindsOwner(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, false)

	req := httptest.NewRequest(http.MethodPost, "/api/verifications", bytes.NewBufferString(`{"url": "https://example.com/a"}`))
	req = withClaims(req, "user-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d, ожидается 201", rec.Code)
	}
	var resp verificationResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.UserID == nil || *resp.UserID != "user-42" {
		t.Errorf("userId = %v, ожидается user-42", resp.UserID)
	}
}

func TestGetVerification_NotFound(t *testing.T) {
	router := newTestRouter(newMemRepo(), false)

	req := httptest.NewRequest(http.MethodGet, "/api/verifications/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("статус = %d, ожидается 404", rec.Code)
	}
}

func TestGetVerification_InvalidIDTreatedAsNotFound(t *testing.T) {
	router := newTestRouter(newMemRepo(), false)

	req := httptest.NewRequest(http.MethodGet, "/api/verifications/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("статус = %d, ожидается 404", rec.Code)
	}
}

func TestGetVerification_Found(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, false)

	v, _ := repo.Create(context.Background(), "https://example.com/a", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/verifications/"+v.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var resp verificationResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.ID != v.ID {
		t.Errorf("id = %q, ожидается %q", resp.ID, v.ID)
	}
}

func TestGetVerification_OwnershipEnforced(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, true)

	owner := "user-1"
	v, _ := repo.Create(context.Background(), "https://example.com/a", &owner)

	// Чужой пользователь — 403
	req := httptest.NewRequest(http.MethodGet, "/api/verifications/"+v.ID, nil)
	req = withClaims(req, "user-2")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("чужая запись: статус = %d, ожидается 403", rec.Code)
	}

	// Владелец — 200
	req = httptest.NewRequest(http.MethodGet, "/api/verifications/"+v.ID, nil)
	req = withClaims(req, "user-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("своя запись: статус = %d, ожидается 200", rec.Code)
	}
}

func TestGetVerification_AnonymousRecordAccessible(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, true)

	// Запись без владельца доступна любому аутентифицированному
	v, _ := repo.Create(context.Background(), "https://example.com/a", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/verifications/"+v.ID, nil)
	req = withClaims(req, "user-2")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("статус = %d, ожидается 200", rec.Code)
	}
}

func TestListVerifications_NewestFirst(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, false)

	first, _ := repo.Create(context.Background(), "https://example.com/1", nil)
	second, _ := repo.Create(context.Background(), "https://example.com/2", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/verifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var resp []verificationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("записей = %d, ожидается 2", len(resp))
	}
	if resp[0].ID != second.ID || resp[1].ID != first.ID {
		t.Error("записи не отсортированы от новых к старым")
	}
}

func TestListVerifications_OwnershipFilters(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, true)

	owner1, owner2 := "user-1", "user-2"
	_, _ = repo.Create(context.Background(), "https://example.com/1", &owner1)
	_, _ = repo.Create(context.Background(), "https://example.com/2", &owner2)
	_, _ = repo.Create(context.Background(), "https://example.com/3", &owner1)

	req := httptest.NewRequest(http.MethodGet, "/api/verifications", nil)
	req = withClaims(req, "user-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var resp []verificationResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp) != 2 {
		t.Errorf("записей = %d, ожидается 2 (только свои)", len(resp))
	}
}

func TestListVerifications_EmptyIsArray(t *testing.T) {
	router := newTestRouter(newMemRepo(), false)

	req := httptest.NewRequest(http.MethodGet, "/api/verifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Пустой список сериализуется как [], не null
	if got := rec.Body.String(); got != "[]\n" {
		t.Errorf("тело = %q, ожидается []", got)
	}
}

func TestDeleteVerification(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, false)

	v, _ := repo.Create(context.Background(), "https://example.com/a", nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/verifications/"+v.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("статус = %d, ожидается 204", rec.Code)
	}
	if repo.count() != 0 {
		t.Error("запись не удалена")
	}

	// Повторное удаление — 404
	req = httptest.NewRequest(http.MethodDelete, "/api/verifications/"+v.ID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("повторное удаление: статус = %d, ожидается 404", rec.Code)
	}
}

func TestDeleteVerification_OwnershipEnforced(t *testing.T) {
	repo := newMemRepo()
	router := newTestRouter(repo, true)

	owner := "user-1"
	v, _ := repo.Create(context.Background(), "https://example.com/a", &owner)

	req := httptest.NewRequest(http.MethodDelete, "/api/verifications/"+v.ID, nil)
	req = withClaims(req, "user-2")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("статус = %d, ожидается 403", rec.Code)
	}
	if repo.count() != 1 {
		t.Error("чужая запись удалена")
	}
}

func TestGetQueueStats(t *testing.T) {
	repo := newMemRepo()
	logger := slog.Default()
	disp := &noopDispatcher{stats: service.QueueStats{Waiting: 2, Active: 1, Completed: 5, Failed: 1}}
	svc := service.NewVerificationService(repo, disp, service.NewCacheService(10, time.Minute), logger)
	handler := NewAPIHandler(NewHealthHandler(nil, nil, nil, logger), svc, false, logger)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	var stats service.QueueStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("не удалось разобрать ответ: %v", err)
	}
	if stats != disp.stats {
		t.Errorf("stats = %+v, ожидается %+v", stats, disp.stats)
	}
}
