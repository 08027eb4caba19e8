// Package cache memoizes predictions per model version and feature set.
package cache

import (
	"crypto/md5"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/beast-mode-ml/internal/features"
	"github.com/ZanzyTHEbar/beast-mode-ml/internal/monitoring"
	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
)

// PredictionCache provides thread-safe prediction caching with TTL
type PredictionCache struct {
	items   *gocache.Cache
	ttl     time.Duration
	metrics *monitoring.Metrics
}

// NewPredictionCache creates a cache whose entries expire after ttl. Expired
// entries are purged every 2*ttl.
func NewPredictionCache(ttl time.Duration, metrics *monitoring.Metrics) *PredictionCache {
	return &PredictionCache{
		items:   gocache.New(ttl, 2*ttl),
		ttl:     ttl,
		metrics: metrics,
	}
}

// Key derives a consistent key from the model version and the feature record.
// Map keys are encoded in sorted order, so equal records share a key.
func Key(modelVersion string, record features.Record) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to encode features: %w", err)
	}
	hash := md5.Sum(data)
	return fmt.Sprintf("%s:%x", modelVersion, hash), nil
}

// Get returns the cached prediction for key
func (c *PredictionCache) Get(key string) (float64, bool) {
	v, found := c.items.Get(key)
	if !found {
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		return 0, false
	}

	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	slog.Debug("Cache hit", "key", key)
	return v.(float64), true
}

// Set stores a prediction under key
func (c *PredictionCache) Set(key string, prediction float64) {
	c.items.SetDefault(key, prediction)
}

// Clear removes every entry, used when models are reloaded
func (c *PredictionCache) Clear() {
	c.items.Flush()
}

// Size returns the number of items, including expired ones not yet purged
func (c *PredictionCache) Size() int {
	return c.items.ItemCount()
}

// Stats returns cache statistics
func (c *PredictionCache) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_items": c.items.ItemCount(),
		"ttl_seconds": c.ttl.Seconds(),
	}
}
