package testutil

import (
	"consentsync/internal/providers"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockLogger implements providers.Logger and records calls.
type MockLogger struct {
	mu   sync.Mutex
	Logs []LogEntry
}

type LogEntry struct {
	Level  string
	Type   providers.TypeEnum
	Format string
	Args   []interface{}
}

func (m *MockLogger) record(level string, t providers.TypeEnum, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Logs = append(m.Logs, LogEntry{Level: level, Type: t, Format: format, Args: args})
}

func (m *MockLogger) Errorf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("error", t, format, args...)
}
func (m *MockLogger) Warnf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("warn", t, format, args...)
}
func (m *MockLogger) Debugf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("debug", t, format, args...)
}
func (m *MockLogger) Infof(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("info", t, format, args...)
}
func (m *MockLogger) Fatalf(t providers.TypeEnum, format string, args ...interface{}) {
	m.record("fatal", t, format, args...)
}
func (m *MockLogger) Close() {}

// Contains reports whether any recorded message at level contains substr.
func (m *MockLogger) Contains(level, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.Logs {
		if e.Level == level && strings.Contains(fmt.Sprintf(e.Format, e.Args...), substr) {
			return true
		}
	}
	return false
}

// MockMetrics implements providers.MetricsProviderInterface and counts calls.
type MockMetrics struct {
	mu             sync.Mutex
	Requests       map[string]int
	CacheHits      int
	CacheMisses    int
	Persistence    int
	ProbeResults   map[string]int
	RetryAttempts  map[string]int
	StoreRefreshes map[string]int
	Unconfirmed    map[string]int
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		Requests:       make(map[string]int),
		ProbeResults:   make(map[string]int),
		RetryAttempts:  make(map[string]int),
		StoreRefreshes: make(map[string]int),
		Unconfirmed:    make(map[string]int),
	}
}

func (m *MockMetrics) IncRequestsTotal(endpoint string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests[fmt.Sprintf("%s:%d", endpoint, status)]++
}
func (m *MockMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (m *MockMetrics) IncCacheHits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheHits++
}
func (m *MockMetrics) IncCacheMisses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CacheMisses++
}
func (m *MockMetrics) ObservePersistenceDuration(_ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Persistence++
}
func (m *MockMetrics) IncProbeResult(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProbeResults[outcome]++
}
func (m *MockMetrics) IncRetryAttempts(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RetryAttempts[op]++
}
func (m *MockMetrics) IncStoreRefresh(store, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreRefreshes[store+":"+outcome]++
}
func (m *MockMetrics) SetUnconfirmed(store string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unconfirmed[store] = count
}

func (m *MockMetrics) Retries(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RetryAttempts[op]
}

// MockCompressor implements persistence.SnapshotCompressor with injectable behavior.
type MockCompressor struct {
	CompressFn   func([]byte) ([]byte, error)
	DecompressFn func([]byte) ([]byte, error)
}

func (m *MockCompressor) Compress(val []byte) ([]byte, error) {
	if m.CompressFn != nil {
		return m.CompressFn(val)
	}
	// Default: return as-is (identity)
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *MockCompressor) Decompress(val []byte) ([]byte, error) {
	if m.DecompressFn != nil {
		return m.DecompressFn(val)
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

// FakeClock is a virtual clock. Sleep advances the clock by the requested
// duration and returns immediately, recording every delay.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	// OnSleep, when set, runs after the clock advanced and before Sleep returns.
	OnSleep func(d time.Duration)
}

func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	hook := c.OnSleep
	c.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return ctx.Err()
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
