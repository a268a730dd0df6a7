// memcache.go — уровень кэша в памяти поверх дискового кэша.
// Обёртка над hashicorp/golang-lru/v2/expirable: горячие производные
// отдаются без чтения с диска.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// maxMemEntryBytes — записи крупнее не попадают в память.
const maxMemEntryBytes = 2 << 20

// Prometheus-метрики кэша в памяти.
var (
	memCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "is_memory_cache_entries",
		Help: "Количество записей в кэше производных в памяти",
	})
)

// MemCache — LRU-кэш производных с TTL. Ключ — относительный путь записи
// в кэше. Нулевой размер отключает кэш: все методы становятся no-op.
type MemCache struct {
	cache *expirable.LRU[string, []byte]
}

// NewMemCache создаёт кэш на maxEntries записей с временем жизни ttl.
func NewMemCache(maxEntries int, ttl time.Duration) *MemCache {
	if maxEntries <= 0 {
		return &MemCache{}
	}
	onEvict := func(string, []byte) { memCacheEntries.Dec() }
	return &MemCache{cache: expirable.NewLRU[string, []byte](maxEntries, onEvict, ttl)}
}

// Enabled сообщает, включён ли кэш.
func (c *MemCache) Enabled() bool {
	return c.cache != nil
}

// Get возвращает данные записи.
func (c *MemCache) Get(relPath string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(relPath)
}

// Set добавляет запись, если она не превышает maxMemEntryBytes.
func (c *MemCache) Set(relPath string, data []byte) {
	if c.cache == nil || len(data) > maxMemEntryBytes {
		return
	}
	if !c.cache.Contains(relPath) {
		memCacheEntries.Inc()
	}
	c.cache.Add(relPath, data)
}

// Delete удаляет запись.
func (c *MemCache) Delete(relPath string) {
	if c.cache == nil {
		return
	}
	c.cache.Remove(relPath)
}

// DeleteMatching удаляет все записи, для которых match возвращает true.
// Возвращает количество удалённых записей.
func (c *MemCache) DeleteMatching(match func(relPath string) bool) int {
	if c.cache == nil {
		return 0
	}
	removed := 0
	for _, key := range c.cache.Keys() {
		if match(key) && c.cache.Remove(key) {
			removed++
		}
	}
	return removed
}

// Len возвращает количество записей.
func (c *MemCache) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
