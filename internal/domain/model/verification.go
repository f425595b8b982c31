package model

import "time"

// Статусы записи верификации.
// Переходы: pending → processing → (completed | failed).
// Терминальные статусы не откатываются назад.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Verification — запись верификации контента.
// Хранится в таблице verifications.
type Verification struct {
	// ID — UUID записи (присваивается при создании)
	ID string
	// URL — проверяемый URL (неизменяем после создания)
	URL string
	// UserID — идентификатор владельца (nil в анонимных развёртываниях)
	UserID *string
	// Status — статус обработки (pending, processing, completed, failed)
	Status string
	// OriginalityScore — оценка оригинальности 0-100 (только для completed)
	OriginalityScore *int
	// PlagiarismRisk — риск плагиата 0-100 (только для completed)
	PlagiarismRisk *int
	// DeepfakeConfidence — вероятность синтетического контента 0-100 (только для completed)
	DeepfakeConfidence *int
	// Sentiment — тональность контента (Positive, Neutral, Negative)
	Sentiment *string
	// RawResult — диагностический payload: вывод оракула, ошибки, таймстемпы обработки
	RawResult map[string]any
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// IsTerminal возвращает true для терминальных статусов (completed, failed).
// Терминальные записи неизменяемы и могут кэшироваться.
func (v *Verification) IsTerminal() bool {
	return v.Status == StatusCompleted || v.Status == StatusFailed
}
