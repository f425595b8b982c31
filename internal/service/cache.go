// cache.go — LRU-кэш терминальных записей верификации с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
// Кэшируются только терминальные записи (completed, failed) —
// они неизменяемы, инвалидация по обновлению не требуется.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/authgate/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ag_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш записей верификации.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ag_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша записей верификации.",
	})
)

// CacheService — LRU-кэш терминальных записей верификации.
// Каждый экземпляр имеет собственный in-memory кэш (per-instance).
type CacheService struct {
	cache *expirable.LRU[string, *model.Verification]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.Verification](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает запись из кэша по id.
// Возвращает (запись, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(id string) (*model.Verification, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет запись в кэш. Нетерминальные записи игнорируются —
// они ещё будут мутировать.
func (c *CacheService) Set(v *model.Verification) {
	if v == nil || !v.IsTerminal() {
		return
	}
	c.cache.Add(v.ID, v)
}

// Delete удаляет запись из кэша (административное удаление записи).
func (c *CacheService) Delete(id string) {
	c.cache.Remove(id)
}
