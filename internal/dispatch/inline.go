// inline.go — degraded-режим диспетчера: без настроенного Redis
// processing routine запускается detached-горутиной. Нет durability,
// нет retry, нет статистики: при падении процесса во время обработки
// запись остаётся в processing навсегда (известное ограничение —
// at-most-once, non-durable delivery).
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arturkryukov/authgate/internal/service"
)

// InlineDispatcher — degraded-диспетчер: in-process фоновые задачи.
type InlineDispatcher struct {
	processor *service.Processor
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// Проверка реализации интерфейса.
var _ service.Dispatcher = (*InlineDispatcher)(nil)

// NewInlineDispatcher создаёт degraded-диспетчер.
func NewInlineDispatcher(processor *service.Processor, logger *slog.Logger) *InlineDispatcher {
	return &InlineDispatcher{
		processor: processor,
		logger:    logger.With(slog.String("component", "inline_dispatcher")),
	}
}

// Schedule запускает обработку detached-горутиной и сразу возвращается.
// Ошибка обработки наблюдаема только через логи и терминальный статус
// записи. Retry нет — единственная попытка терминально записывает failed.
func (d *InlineDispatcher) Schedule(_ context.Context, verificationID, url string) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		// Контекст запроса к этому моменту уже завершён —
		// задача живёт независимо от HTTP-вызова
		ctx := context.Background()

		if err := d.processor.Process(ctx, verificationID, url, 1); err != nil {
			d.processor.MarkFailed(ctx, verificationID, err, 1)
		}
	}()

	d.logger.Info("Задача запущена в degraded-режиме (без durability)",
		slog.String("verification_id", verificationID),
	)
	return nil
}

// Stats возвращает нулевые счётчики — в degraded-режиме очереди нет.
func (d *InlineDispatcher) Stats(_ context.Context) (service.QueueStats, error) {
	return service.QueueStats{}, nil
}

// Close дожидается завершения in-flight задач.
func (d *InlineDispatcher) Close() error {
	d.wg.Wait()
	d.logger.Info("Degraded-диспетчер остановлен")
	return nil
}
