// Пакет dispatch — диспетчер асинхронной обработки задач верификации.
//
// asynq.go — durable-режим: очередь в Redis (hibiken/asynq), пул воркеров
// с ограничением concurrency и частоты, retry с exponential backoff,
// хранение метаданных завершённых задач в течение ограниченного окна.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/arturkryukov/authgate/internal/config"
	"github.com/arturkryukov/authgate/internal/service"
)

// TypeVerify — тип задачи верификации в очереди.
const TypeVerify = "verification:process"

// queueName — имя очереди задач верификации.
const queueName = "content-verification"

// verifyPayload — полезная нагрузка задачи верификации.
type verifyPayload struct {
	VerificationID string `json:"verificationId"`
	URL            string `json:"url"`
}

// AsynqDispatcher — durable-диспетчер поверх Redis.
type AsynqDispatcher struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	processor *service.Processor
	limiter   *rate.Limiter
	logger    *slog.Logger
	maxRetry  int
	retention time.Duration
}

// Проверка реализации интерфейса.
var _ service.Dispatcher = (*AsynqDispatcher)(nil)

// NewAsynqDispatcher создаёт durable-диспетчер.
// redisURL — URL Redis (redis://host:port/db).
// Воркеры запускаются отдельным вызовом Start().
func NewAsynqDispatcher(cfg *config.Config, processor *service.Processor, logger *slog.Logger) (*AsynqDispatcher, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("разбор AG_REDIS_URL: %w", err)
	}

	d := &AsynqDispatcher{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		processor: processor,
		// Глобальное ограничение частоты обработки (задач в секунду)
		limiter:   rate.NewLimiter(rate.Limit(cfg.WorkerRateLimit), cfg.WorkerRateLimit),
		logger:    logger.With(slog.String("component", "asynq_dispatcher")),
		maxRetry:  cfg.JobMaxRetry,
		retention: cfg.JobRetention,
	}

	baseDelay := cfg.JobRetryBaseDelay
	d.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{queueName: 1},
		// Exponential backoff: baseDelay, 2*baseDelay, 4*baseDelay, ...
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return retryDelay(baseDelay, n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			d.logger.Error("Задача завершилась с ошибкой",
				slog.String("type", task.Type()),
				slog.String("error", err.Error()),
			)
		}),
		Logger: &asynqLogger{logger: d.logger},
	})

	return d, nil
}

// retryDelay вычисляет задержку перед n-м повтором (n с 1):
// base * 2^(n-1), с защитой от переполнения сдвига.
func retryDelay(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 16 {
		n = 16
	}
	return base * time.Duration(1<<(n-1))
}

// Start запускает пул воркеров. Неблокирующий вызов.
func (d *AsynqDispatcher) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeVerify, d.handleVerifyTask)

	if err := d.server.Start(mux); err != nil {
		return fmt.Errorf("запуск asynq server: %w", err)
	}

	d.logger.Info("Durable-диспетчер запущен",
		slog.String("queue", queueName),
		slog.Int("max_retry", d.maxRetry),
	)
	return nil
}

// Schedule ставит задачу верификации в очередь Redis.
// Не блокирует вызывающего: обработка выполняется воркерами.
func (d *AsynqDispatcher) Schedule(ctx context.Context, verificationID, url string) error {
	payload, err := json.Marshal(verifyPayload{VerificationID: verificationID, URL: url})
	if err != nil {
		return fmt.Errorf("сериализация payload: %w", err)
	}

	info, err := d.client.EnqueueContext(ctx, asynq.NewTask(TypeVerify, payload),
		asynq.Queue(queueName),
		// MaxRetry — количество ПОВТОРОВ; всего попыток maxRetry
		asynq.MaxRetry(d.maxRetry-1),
		asynq.Retention(d.retention),
	)
	if err != nil {
		return fmt.Errorf("постановка задачи в очередь: %w", err)
	}

	d.logger.Info("Задача поставлена в очередь",
		slog.String("task_id", info.ID),
		slog.String("verification_id", verificationID),
	)
	return nil
}

// handleVerifyTask — обработчик задачи верификации.
// Возврат ошибки переводит задачу в retry; терминальный failed
// записывается только на последней попытке — статус записи
// не откатывается из терминального состояния.
func (d *AsynqDispatcher) handleVerifyTask(ctx context.Context, t *asynq.Task) error {
	var p verifyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// Повтор бессмысленен — payload не изменится
		return fmt.Errorf("разбор payload: %v: %w", err, asynq.SkipRetry)
	}

	// Ограничение частоты обработки
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	attempt := retried + 1

	if err := d.processor.Process(ctx, p.VerificationID, p.URL, attempt); err != nil {
		if retried >= maxRetry {
			// Бюджет попыток исчерпан — терминальный failed
			d.processor.MarkFailed(ctx, p.VerificationID, err, attempt)
		}
		return err
	}
	return nil
}

// Stats возвращает счётчики очереди из Redis.
// waiting включает отложенные и ожидающие retry задачи;
// failed — задачи с исчерпанным бюджетом попыток (archived).
func (d *AsynqDispatcher) Stats(ctx context.Context) (service.QueueStats, error) {
	qi, err := d.inspector.GetQueueInfo(queueName)
	if err != nil {
		return service.QueueStats{}, fmt.Errorf("статистика очереди: %w", err)
	}

	return service.QueueStats{
		Waiting:   qi.Pending + qi.Scheduled + qi.Retry,
		Active:    qi.Active,
		Completed: qi.Completed,
		Failed:    qi.Archived,
	}, nil
}

// Close останавливает воркеров (дожидаясь in-flight задач) и закрывает
// подключения к Redis.
func (d *AsynqDispatcher) Close() error {
	d.server.Shutdown()

	if err := d.client.Close(); err != nil {
		return fmt.Errorf("закрытие asynq client: %w", err)
	}
	if err := d.inspector.Close(); err != nil {
		return fmt.Errorf("закрытие asynq inspector: %w", err)
	}

	d.logger.Info("Durable-диспетчер остановлен")
	return nil
}

// asynqLogger — адаптер slog для внутреннего логгера asynq.
type asynqLogger struct {
	logger *slog.Logger
}

func (l *asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
