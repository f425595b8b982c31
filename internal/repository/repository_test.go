package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arturkryukov/authgate/internal/config"
	"github.com/arturkryukov/authgate/internal/database"
	"github.com/arturkryukov/authgate/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool; контейнер и пул закрываются через t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("authgate_test"),
		postgres.WithUsername("authgate"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	t.Setenv("AG_DB_HOST", host)
	t.Setenv("AG_DB_PORT", port.Port())
	t.Setenv("AG_DB_NAME", "authgate_test")
	t.Setenv("AG_DB_USER", "authgate")
	t.Setenv("AG_DB_PASSWORD", "test-password")
	t.Setenv("AG_DB_SSL_MODE", "disable")
	t.Setenv("AG_ORACLE_API_KEY", "sk-test")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestVerificationCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewVerificationRepository(pool)

	// Create
	v, err := repo.Create(ctx, "https://example.com/article", strPtr("user-1"))
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if v.ID == "" {
		t.Fatal("ID не присвоен")
	}
	if _, err := uuid.Parse(v.ID); err != nil {
		t.Errorf("ID %q не UUID: %v", v.ID, err)
	}
	if v.Status != model.StatusPending {
		t.Errorf("Status = %q, хотели pending", v.Status)
	}
	if v.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// GetByID
	got, err := repo.GetByID(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.URL != "https://example.com/article" {
		t.Errorf("URL = %q", got.URL)
	}
	if got.UserID == nil || *got.UserID != "user-1" {
		t.Errorf("UserID = %v, хотели user-1", got.UserID)
	}
	if got.OriginalityScore != nil {
		t.Errorf("OriginalityScore = %v, хотели nil до завершения", got.OriginalityScore)
	}

	// Update: частичное обновление — processing с попыткой
	processing := model.StatusProcessing
	upd, err := repo.Update(ctx, v.ID, VerificationUpdate{
		Status:    &processing,
		RawResult: map[string]any{"attempts": 1},
	})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if upd.Status != model.StatusProcessing {
		t.Errorf("Status = %q, хотели processing", upd.Status)
	}
	if upd.URL != v.URL {
		t.Errorf("URL изменился: %q", upd.URL)
	}
	if !upd.UpdatedAt.After(v.UpdatedAt) && !upd.UpdatedAt.Equal(v.UpdatedAt) {
		t.Errorf("UpdatedAt не обновлён: %v -> %v", v.UpdatedAt, upd.UpdatedAt)
	}

	// Update: терминальный completed с оценками
	completed := model.StatusCompleted
	upd, err = repo.Update(ctx, v.ID, VerificationUpdate{
		Status:             &completed,
		OriginalityScore:   intPtr(90),
		PlagiarismRisk:     intPtr(5),
		DeepfakeConfidence: intPtr(2),
		Sentiment:          strPtr("Positive"),
		RawResult:          map[string]any{"summary": "Авторский текст", "attempts": 1},
	})
	if err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}
	if upd.OriginalityScore == nil || *upd.OriginalityScore != 90 {
		t.Errorf("OriginalityScore = %v, хотели 90", upd.OriginalityScore)
	}
	if upd.RawResult["summary"] != "Авторский текст" {
		t.Errorf("RawResult[summary] = %v", upd.RawResult["summary"])
	}

	// Delete
	if err := repo.Delete(ctx, v.ID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.GetByID(ctx, v.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() после Delete: %v, хотели ErrNotFound", err)
	}
}

func TestVerificationList(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewVerificationRepository(pool)

	// Три записи: две у user-1, одна анонимная
	for i, owner := range []*string{strPtr("user-1"), nil, strPtr("user-1")} {
		if _, err := repo.Create(ctx, "https://example.com/a", owner); err != nil {
			t.Fatalf("Create(%d) ошибка: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond) // различимые created_at
	}

	// Без фильтра — все, новые первыми
	list, err := repo.List(ctx, nil, 100)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List() вернул %d записей, хотели 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Errorf("записи не отсортированы от новых к старым: [%d]=%v > [%d]=%v",
				i, list[i].CreatedAt, i-1, list[i-1].CreatedAt)
		}
	}

	// Фильтр по владельцу
	list, err = repo.List(ctx, strPtr("user-1"), 100)
	if err != nil {
		t.Fatalf("List() с фильтром ошибка: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List(user-1) вернул %d записей, хотели 2", len(list))
	}

	// Лимит
	list, err = repo.List(ctx, nil, 2)
	if err != nil {
		t.Fatalf("List() с лимитом ошибка: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List(limit=2) вернул %d записей, хотели 2", len(list))
	}
}

func TestVerificationNotFound(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewVerificationRepository(pool)

	missing := uuid.NewString()

	if _, err := repo.GetByID(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() несуществующей записи: %v, хотели ErrNotFound", err)
	}

	status := model.StatusFailed
	if _, err := repo.Update(ctx, missing, VerificationUpdate{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() несуществующей записи: %v, хотели ErrNotFound", err)
	}

	if err := repo.Delete(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() несуществующей записи: %v, хотели ErrNotFound", err)
	}
}

func TestVerificationUpdate_NoFields(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewVerificationRepository(pool)

	v, err := repo.Create(ctx, "https://example.com/a", nil)
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Пустое обновление: меняется только updated_at
	upd, err := repo.Update(ctx, v.ID, VerificationUpdate{})
	if err != nil {
		t.Fatalf("Update() без полей ошибка: %v", err)
	}
	if upd.Status != model.StatusPending {
		t.Errorf("Status = %q, хотели pending", upd.Status)
	}
}
