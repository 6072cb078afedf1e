package providers

import (
	"consentsync/internal/clock"
	"consentsync/internal/structures"
	"math"
	"time"
	"unsafe"

	"github.com/coocood/freecache"
)

// CacheProviderInterface is the in-memory tier of the local cache. Values
// are opaque bytes; expiry bookkeeping at sub-second precision is done by
// the caller, the TTL passed here only lets freecache reclaim space.
type CacheProviderInterface interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Del(key string)
	Clear()
}

type CacheProvider struct {
	cache *freecache.Cache
}

// clockTimer feeds the injected clock into freecache so both tiers agree on time.
type clockTimer struct {
	clk clock.Clock
}

func (t clockTimer) Now() uint32 {
	return uint32(t.clk.Now().Unix())
}

func NewCacheProvider(conf *structures.Config, logger Logger, clk clock.Clock) CacheProviderInterface {
	if conf.Cache.Size <= 0 {
		logger.Infof(TypeApp, "Memory cache disabled")
		return &noopCache{}
	}

	sizeBytes := conf.Cache.Size * 1024 * 1024
	logger.Infof(TypeApp, "Memory cache initialized: %dMB", conf.Cache.Size)

	return &CacheProvider{
		cache: freecache.NewCacheCustomTimer(sizeBytes, clockTimer{clk: clk}),
	}
}

// unsafeStringToBytes converts string to []byte without allocation.
// Safe when the result is only read (not modified), which is the case
// for freecache, which copies keys internally.
func unsafeStringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// expireSeconds rounds up and adds one second of slack so freecache never
// drops an entry before the caller considers it expired.
func expireSeconds(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	return int(math.Ceil(ttl.Seconds())) + 1
}

func (c *CacheProvider) Get(key string) ([]byte, bool) {
	val, err := c.cache.Get(unsafeStringToBytes(key))
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *CacheProvider) Set(key string, value []byte, ttl time.Duration) error {
	return c.cache.Set(unsafeStringToBytes(key), value, expireSeconds(ttl))
}

func (c *CacheProvider) Del(key string) {
	c.cache.Del(unsafeStringToBytes(key))
}

func (c *CacheProvider) Clear() {
	c.cache.Clear()
}

type noopCache struct{}

func (n *noopCache) Get(_ string) ([]byte, bool)                { return nil, false }
func (n *noopCache) Set(_ string, _ []byte, _ time.Duration) error { return nil }
func (n *noopCache) Del(_ string)                               {}
func (n *noopCache) Clear()                                     {}
