package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReadinessChecker проверяет доступность Redis для readiness probe.
type RedisReadinessChecker struct {
	client *redis.Client
}

// NewRedisReadinessChecker создаёт проверку готовности Redis по URL.
func NewRedisReadinessChecker(redisURL string) (*RedisReadinessChecker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("некорректный Redis URL: %w", err)
	}
	return &RedisReadinessChecker{client: redis.NewClient(opt)}, nil
}

// CheckReady выполняет PING с таймаутом.
// Возвращает статус ("ok", "fail") и сообщение.
func (c *RedisReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}

// Close закрывает соединение с Redis.
func (c *RedisReadinessChecker) Close() error {
	return c.client.Close()
}
