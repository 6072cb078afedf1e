package providers

import (
	"consentsync/internal/clock"
	"consentsync/internal/structures"
	"time"
)

// MetricsCacheProvider wraps a CacheProviderInterface and increments
// hit/miss counters on every Get call.
type MetricsCacheProvider struct {
	inner   CacheProviderInterface
	metrics MetricsProviderInterface
}

func (c *MetricsCacheProvider) Get(key string) ([]byte, bool) {
	val, ok := c.inner.Get(key)
	if ok {
		c.metrics.IncCacheHits()
	} else {
		c.metrics.IncCacheMisses()
	}
	return val, ok
}

func (c *MetricsCacheProvider) Set(key string, value []byte, ttl time.Duration) error {
	return c.inner.Set(key, value, ttl)
}

func (c *MetricsCacheProvider) Del(key string) {
	c.inner.Del(key)
}

func (c *MetricsCacheProvider) Clear() {
	c.inner.Clear()
}

// NewInstrumentedCacheProvider creates a cache provider wrapped with metrics instrumentation.
// When the memory tier is disabled, returns the plain noopCache without metrics wrapping
// to avoid counting phantom cache misses.
func NewInstrumentedCacheProvider(conf *structures.Config, logger Logger, metrics MetricsProviderInterface, clk clock.Clock) CacheProviderInterface {
	inner := NewCacheProvider(conf, logger, clk)
	if conf.Cache.Size <= 0 {
		return inner
	}
	return &MetricsCacheProvider{
		inner:   inner,
		metrics: metrics,
	}
}
