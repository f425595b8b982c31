// verification.go — сервис записей верификации.
// Создание записи с постановкой задачи в очередь, чтение с кэшом
// терминальных записей, список, административное удаление.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturkryukov/authgate/internal/domain/model"
	"github.com/arturkryukov/authgate/internal/repository"
)

// QueueStats — статистика очереди задач верификации.
// В degraded-режиме все счётчики нулевые.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Dispatcher — диспетчер асинхронной обработки задач верификации.
// Две реализации выбираются при старте: durable (очередь в Redis,
// воркеры, retry с backoff) и degraded (detached-горутина без
// durability и retry). Schedule не блокирует вызывающего.
type Dispatcher interface {
	// Schedule ставит пару (verificationID, url) на асинхронную обработку.
	Schedule(ctx context.Context, verificationID, url string) error
	// Stats возвращает счётчики очереди.
	Stats(ctx context.Context) (QueueStats, error)
	// Close останавливает диспетчер и ожидает завершения воркеров.
	Close() error
}

// VerificationService — бизнес-логика записей верификации.
type VerificationService struct {
	repo       repository.VerificationRepository
	dispatcher Dispatcher
	cache      *CacheService
	logger     *slog.Logger
}

// NewVerificationService создаёт сервис записей верификации.
func NewVerificationService(
	repo repository.VerificationRepository,
	dispatcher Dispatcher,
	cache *CacheService,
	logger *slog.Logger,
) *VerificationService {
	return &VerificationService{
		repo:       repo,
		dispatcher: dispatcher,
		cache:      cache,
		logger:     logger.With(slog.String("component", "verification_service")),
	}
}

// Create создаёт запись в статусе pending и ставит задачу в очередь.
// URL валидируется на уровне API до вызова. Если постановка в очередь
// не удалась, запись переводится в failed (best-effort) и ошибка
// возвращается вызывающему.
func (s *VerificationService) Create(ctx context.Context, url string, userID *string) (*model.Verification, error) {
	v, err := s.repo.Create(ctx, url, userID)
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.Schedule(ctx, v.ID, v.URL); err != nil {
		s.logger.Error("Не удалось поставить задачу в очередь",
			slog.String("verification_id", v.ID),
			slog.String("error", err.Error()),
		)

		failed := model.StatusFailed
		if _, updErr := s.repo.Update(ctx, v.ID, repository.VerificationUpdate{
			Status:    &failed,
			RawResult: map[string]any{"error": fmt.Sprintf("постановка в очередь: %v", err)},
		}); updErr != nil {
			s.logger.Error("Не удалось записать отказ постановки в очередь",
				slog.String("verification_id", v.ID),
				slog.String("error", updErr.Error()),
			)
		}
		return nil, fmt.Errorf("постановка задачи в очередь: %w", err)
	}

	s.logger.Info("Задача верификации поставлена в очередь",
		slog.String("verification_id", v.ID),
		slog.String("url", v.URL),
	)
	return v, nil
}

// Get возвращает запись по id. Терминальные записи читаются через
// LRU-кэш — они неизменяемы.
func (s *VerificationService) Get(ctx context.Context, id string) (*model.Verification, error) {
	if v, ok := s.cache.Get(id); ok {
		return v, nil
	}

	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.Set(v)
	return v, nil
}

// List возвращает записи от новых к старым, не более limit,
// опционально отфильтрованные по владельцу.
func (s *VerificationService) List(ctx context.Context, userID *string, limit int) ([]*model.Verification, error) {
	return s.repo.List(ctx, userID, limit)
}

// Delete удаляет запись (административная очистка, вне контракта
// пайплайна) и инвалидирует кэш.
func (s *VerificationService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(id)

	s.logger.Info("Запись верификации удалена", slog.String("verification_id", id))
	return nil
}

// QueueStats возвращает статистику очереди задач.
func (s *VerificationService) QueueStats(ctx context.Context) (QueueStats, error) {
	return s.dispatcher.Stats(ctx)
}
