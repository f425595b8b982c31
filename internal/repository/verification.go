package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/authgate/internal/domain/model"
)

// VerificationRepository — интерфейс CRUD для таблицы verifications.
type VerificationRepository interface {
	// Create создаёт новую запись в статусе pending и присваивает ID.
	Create(ctx context.Context, url string, userID *string) (*model.Verification, error)
	// GetByID возвращает запись по UUID.
	GetByID(ctx context.Context, id string) (*model.Verification, error)
	// List возвращает записи от новых к старым (не более limit),
	// опционально отфильтрованные по владельцу.
	List(ctx context.Context, userID *string, limit int) ([]*model.Verification, error)
	// Update частично обновляет запись и обновляет updated_at.
	Update(ctx context.Context, id string, upd VerificationUpdate) (*model.Verification, error)
	// Delete удаляет запись (административная очистка).
	Delete(ctx context.Context, id string) error
}

// VerificationUpdate — частичное обновление записи.
// nil-поля не изменяются; updated_at обновляется всегда.
// Записи обновляет только processing routine диспетчера —
// конкурентные обновления одной записи разрешаются как last-writer-wins.
type VerificationUpdate struct {
	Status             *string
	OriginalityScore   *int
	PlagiarismRisk     *int
	DeepfakeConfidence *int
	Sentiment          *string
	RawResult          map[string]any
}

// verificationRepo — реализация VerificationRepository.
type verificationRepo struct {
	db DBTX
}

// NewVerificationRepository создаёт репозиторий записей верификации.
func NewVerificationRepository(db DBTX) VerificationRepository {
	return &verificationRepo{db: db}
}

// verificationColumns — список колонок для SELECT.
const verificationColumns = `id, url, user_id, status, originality_score,
		plagiarism_risk, deepfake_confidence, sentiment, raw_result, created_at, updated_at`

func (r *verificationRepo) Create(ctx context.Context, url string, userID *string) (*model.Verification, error) {
	query := `
		INSERT INTO verifications (id, url, user_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	v := &model.Verification{
		ID:     uuid.NewString(),
		URL:    url,
		UserID: userID,
		Status: model.StatusPending,
	}

	err := r.db.QueryRow(ctx, query, v.ID, v.URL, v.UserID, v.Status).
		Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: запись с таким ID уже существует", ErrConflict)
		}
		return nil, fmt.Errorf("ошибка создания записи верификации: %w", err)
	}
	return v, nil
}

func (r *verificationRepo) GetByID(ctx context.Context, id string) (*model.Verification, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM verifications
		WHERE id = $1`, verificationColumns)

	v, err := scanVerification(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи верификации: %w", err)
	}
	return v, nil
}

func (r *verificationRepo) List(ctx context.Context, userID *string, limit int) ([]*model.Verification, error) {
	where := ""
	args := []any{}
	if userID != nil {
		where = "WHERE user_id = $1"
		args = append(args, *userID)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM verifications
		%s
		ORDER BY created_at DESC
		LIMIT $%d`, verificationColumns, where, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка верификаций: %w", err)
	}
	defer rows.Close()

	var result []*model.Verification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// buildUpdateSet строит SET-выражение и аргументы частичного обновления.
// updated_at обновляется всегда.
func buildUpdateSet(upd VerificationUpdate, startArg int) (string, []any) {
	set := []string{"updated_at = now()"}
	var args []any
	argNum := startArg

	if upd.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *upd.Status)
		argNum++
	}
	if upd.OriginalityScore != nil {
		set = append(set, fmt.Sprintf("originality_score = $%d", argNum))
		args = append(args, *upd.OriginalityScore)
		argNum++
	}
	if upd.PlagiarismRisk != nil {
		set = append(set, fmt.Sprintf("plagiarism_risk = $%d", argNum))
		args = append(args, *upd.PlagiarismRisk)
		argNum++
	}
	if upd.DeepfakeConfidence != nil {
		set = append(set, fmt.Sprintf("deepfake_confidence = $%d", argNum))
		args = append(args, *upd.DeepfakeConfidence)
		argNum++
	}
	if upd.Sentiment != nil {
		set = append(set, fmt.Sprintf("sentiment = $%d", argNum))
		args = append(args, *upd.Sentiment)
		argNum++
	}
	if upd.RawResult != nil {
		set = append(set, fmt.Sprintf("raw_result = $%d", argNum))
		args = append(args, upd.RawResult)
	}

	return strings.Join(set, ", "), args
}

func (r *verificationRepo) Update(ctx context.Context, id string, upd VerificationUpdate) (*model.Verification, error) {
	setClause, args := buildUpdateSet(upd, 2)

	query := fmt.Sprintf(`
		UPDATE verifications
		SET %s
		WHERE id = $1
		RETURNING %s`, setClause, verificationColumns)

	args = append([]any{id}, args...)

	v, err := scanVerification(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления записи верификации: %w", err)
	}
	return v, nil
}

func (r *verificationRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM verifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи верификации: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanVerification сканирует одну строку в model.Verification.
func scanVerification(row pgx.Row) (*model.Verification, error) {
	v := &model.Verification{}
	var createdAt, updatedAt time.Time
	err := row.Scan(
		&v.ID, &v.URL, &v.UserID, &v.Status, &v.OriginalityScore,
		&v.PlagiarismRisk, &v.DeepfakeConfidence, &v.Sentiment, &v.RawResult,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.CreatedAt = createdAt.UTC()
	v.UpdatedAt = updatedAt.UTC()
	return v, nil
}
