// processor.go — processing routine пайплайна верификации.
// Общая для обоих режимов диспетчера последовательность:
// processing → fetch → score → completed; любая ошибка шага
// приводит к failed-записи с сообщением и таймстемпом отказа.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/authgate/internal/domain/model"
	"github.com/arturkryukov/authgate/internal/repository"
)

// Метрики пайплайна верификации.
var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ag_verification_jobs_total",
			Help: "Количество обработанных задач верификации по результату",
		},
		[]string{"result"},
	)
	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ag_verification_processing_duration_seconds",
			Help:    "Длительность обработки задачи верификации в секундах",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Processor — processing routine одной задачи верификации.
// Шаги строго последовательны: fetch завершается до вызова оракула,
// оракул — до терминального обновления записи.
type Processor struct {
	repo    repository.VerificationRepository
	fetcher *ContentFetcher
	oracle  *Oracle
	logger  *slog.Logger
}

// NewProcessor создаёт processing routine пайплайна.
func NewProcessor(
	repo repository.VerificationRepository,
	fetcher *ContentFetcher,
	oracle *Oracle,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		repo:    repo,
		fetcher: fetcher,
		oracle:  oracle,
		logger:  logger.With(slog.String("component", "processor")),
	}
}

// Process выполняет одну попытку обработки записи верификации:
// переводит запись в processing, скачивает контент, вызывает оракула
// и записывает терминальный completed-результат.
//
// При ошибке любого шага возвращает её БЕЗ записи терминального failed —
// решение о терминальном отказе принимает вызывающий (диспетчер):
// в durable-режиме промежуточные отказы уходят в retry, и запись
// остаётся в processing до исчерпания бюджета попыток; статус никогда
// не откатывается из терминального состояния назад.
//
// attempt — номер текущей попытки (с 1), фиксируется в raw_result.
func (p *Processor) Process(ctx context.Context, verificationID, url string, attempt int) error {
	p.logger.Info("Обработка задачи верификации",
		slog.String("verification_id", verificationID),
		slog.String("url", url),
		slog.Int("attempt", attempt),
	)

	start := time.Now()

	// Переводим запись в processing
	status := model.StatusProcessing
	if _, err := p.repo.Update(ctx, verificationID, repository.VerificationUpdate{
		Status:    &status,
		RawResult: map[string]any{"attempts": attempt},
	}); err != nil {
		return err
	}

	// Скачиваем контент
	content, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}

	// Оцениваем через оракула
	result, err := p.oracle.Verify(ctx, content)
	if err != nil {
		return err
	}

	// Терминальное обновление: completed с оценками
	completed := model.StatusCompleted
	if _, err := p.repo.Update(ctx, verificationID, repository.VerificationUpdate{
		Status:             &completed,
		OriginalityScore:   &result.Originality,
		PlagiarismRisk:     &result.Plagiarism,
		DeepfakeConfidence: &result.Deepfake,
		Sentiment:          &result.Sentiment,
		RawResult: map[string]any{
			"summary":     result.Summary,
			"reasoning":   result.Reasoning,
			"processedAt": time.Now().UTC().Format(time.RFC3339),
			"attempts":    attempt,
		},
	}); err != nil {
		return err
	}

	jobsTotal.WithLabelValues("completed").Inc()
	jobDuration.Observe(time.Since(start).Seconds())

	p.logger.Info("Верификация завершена успешно",
		slog.String("verification_id", verificationID),
		slog.Int("originality", result.Originality),
		slog.Int("plagiarism", result.Plagiarism),
		slog.Int("deepfake", result.Deepfake),
	)
	return nil
}

// MarkFailed записывает терминальный failed-результат с сообщением
// ошибки и таймстемпом отказа. Ошибка самого этого обновления
// логируется и проглатывается — для учёта попыток задача всё равно
// считается отказавшей.
func (p *Processor) MarkFailed(ctx context.Context, verificationID string, procErr error, attempt int) {
	jobsTotal.WithLabelValues("failed").Inc()

	failed := model.StatusFailed
	if _, err := p.repo.Update(ctx, verificationID, repository.VerificationUpdate{
		Status: &failed,
		RawResult: map[string]any{
			"error":    procErr.Error(),
			"failedAt": time.Now().UTC().Format(time.RFC3339),
			"attempts": attempt,
		},
	}); err != nil {
		// Отказ записи отказа: запись может быть удалена администратором
		level := slog.LevelError
		if errors.Is(err, repository.ErrNotFound) {
			level = slog.LevelWarn
		}
		p.logger.LogAttrs(ctx, level, "Не удалось записать failed-результат",
			slog.String("verification_id", verificationID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Warn("Верификация завершилась отказом",
		slog.String("verification_id", verificationID),
		slog.String("error", procErr.Error()),
		slog.Int("attempts", attempt),
	)
}
