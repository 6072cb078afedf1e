// Package stores holds the domain stores the UI reads from and mutates.
//
// A store serves its last known snapshot from the local cache while the
// backend is unreachable, loads from the backend in the background and
// keeps itself current through the change feed. Mutations are applied
// locally first; a remote write that fails leaves the entity flagged as
// unconfirmed until the next successful load replaces it.
package stores

import (
	"consentsync/internal/apperr"
	"consentsync/internal/backend"
	"consentsync/internal/cache"
	"consentsync/internal/changefeed"
	"consentsync/internal/clock"
	"consentsync/internal/connectivity"
	"consentsync/internal/persistence"
	"consentsync/internal/providers"
	"consentsync/internal/retry"
	"consentsync/internal/structures"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

// maxFetchAttempts bounds how often one load re-reads the backend after
// local changes raced its rows.
const maxFetchAttempts = 3

// Env is the set of collaborators shared by every store. It is built once by
// the composition root so each test can hand the stores fresh state.
type Env struct {
	Backend   backend.Backend
	Cache     cache.LocalCacheInterface
	Durable   *persistence.Store
	Probe     connectivity.ProbeInterface
	Feed      changefeed.SubscriberInterface
	Scheduler *retry.Scheduler
	Clock     clock.Clock
	Logger    providers.Logger
	Metrics   providers.MetricsProviderInterface
}

func NewEnv(
	be backend.Backend,
	lc cache.LocalCacheInterface,
	durable *persistence.Store,
	probe connectivity.ProbeInterface,
	feed changefeed.SubscriberInterface,
	scheduler *retry.Scheduler,
	clk clock.Clock,
	logger providers.Logger,
	metrics providers.MetricsProviderInterface,
) *Env {
	return &Env{
		Backend:   be,
		Cache:     lc,
		Durable:   durable,
		Probe:     probe,
		Feed:      feed,
		Scheduler: scheduler,
		Clock:     clk,
		Logger:    logger,
		Metrics:   metrics,
	}
}

// Status is the store surface shown next to the data: lifecycle state,
// loading flag and connection banner.
type Status struct {
	State           State    `json:"state"`
	IsLoading       bool     `json:"isLoading"`
	ConnectionError bool     `json:"connectionError"`
	Error           string   `json:"error,omitempty"`
	Unconfirmed     []string `json:"unconfirmed"`
}

type feed struct {
	table   string
	refresh func(ctx context.Context) error
}

// fetchFunc reads the store from the backend. seen is the change counter
// sampled before the read; rows are installed only while it is still
// current, and installed reports whether they were.
type fetchFunc func(ctx context.Context, seen uint64) (installed bool, err error)

// core is the lifecycle shared by the stores: state machine, coalesced
// loads, the background retry loop and the unconfirmed registry.
type core struct {
	name  string
	conf  structures.StoreConfig
	env   *Env
	fetch fetchFunc
	feeds []feed

	// changes counts local commits and their settlements; pending is the
	// number of commits whose remote write has not settled yet. stale is
	// set when a load dropped its rows because of them.
	changes atomic.Uint64
	pending atomic.Int64
	stale   atomic.Bool

	mu          sync.RWMutex
	state       State
	loading     bool
	connErr     bool
	lastErr     error
	unconfirmed map[string]error

	group  singleflight.Group
	flowMu sync.Mutex
	runs   map[string]*atomic.Uint64

	lifeCtx   context.Context
	stop      context.CancelFunc
	startOnce sync.Once
	wg        sync.WaitGroup

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	handles    []changefeed.Handle
}

func newCore(name string, conf structures.StoreConfig, env *Env) *core {
	ctx, stop := context.WithCancel(context.Background())
	return &core{
		name:        name,
		conf:        conf,
		env:         env,
		state:       StateUninitialized,
		unconfirmed: make(map[string]error),
		runs:        make(map[string]*atomic.Uint64),
		lifeCtx:     ctx,
		stop:        stop,
	}
}

func (c *core) transitionLocked(newState State) {
	if err := c.state.validateTransitionTo(newState); err != nil {
		c.env.Logger.Errorf(providers.TypeSync, "%s store: %v", c.name, err)
		return
	}
	if c.state != newState {
		c.env.Logger.Debugf(providers.TypeSync, "%s store: %v -> %v", c.name, c.state, newState)
	}
	c.state = newState
}

// seeded marks the store as serving data restored from the local cache.
func (c *core) seeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitionLocked(StateReadyFromCache)
}

func (c *core) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *core) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

func (c *core) ConnectionError() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connErr
}

func (c *core) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Unconfirmed lists the ids applied locally whose remote write failed.
func (c *core) Unconfirmed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.unconfirmed))
	for id := range c.unconfirmed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *core) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		State:           c.state,
		IsLoading:       c.loading,
		ConnectionError: c.connErr,
		Unconfirmed:     make([]string, 0, len(c.unconfirmed)),
	}
	if c.lastErr != nil {
		st.Error = apperr.UserMessage(c.lastErr)
	}
	for id := range c.unconfirmed {
		st.Unconfirmed = append(st.Unconfirmed, id)
	}
	sort.Strings(st.Unconfirmed)
	return st
}

// Start subscribes to the change feeds and loads in the background. The
// store stops when ctx ends or Close is called.
func (c *core) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		context.AfterFunc(ctx, c.stop)

		c.loopMu.Lock()
		for _, f := range c.feeds {
			c.handles = append(c.handles, c.env.Feed.Subscribe(c.lifeCtx, f.table, func() { c.onChange(f) }))
		}
		c.loopMu.Unlock()

		c.startLoop(false)
	})
}

func (c *core) Close() {
	c.loopMu.Lock()
	handles := c.handles
	c.handles = nil
	c.loopMu.Unlock()
	for _, h := range handles {
		h.Unsubscribe()
	}

	c.stop()
	c.waitLoop()
	c.wg.Wait()
}

// RetryConnection forgets the cached probe result and restarts the load
// loop with a fresh retry budget.
func (c *core) RetryConnection() {
	c.env.Logger.Infof(providers.TypeSync, "%s store: manual retry", c.name)
	c.env.Probe.Invalidate()
	c.startLoop(true)
}

func (c *core) onChange(f feed) {
	c.background(f.table+" change", f.refresh)
}

// background runs refresh off the caller's goroutine and falls back to the
// load loop when it fails.
func (c *core) background(reason string, refresh func(ctx context.Context) error) {
	if c.lifeCtx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := refresh(c.lifeCtx); err != nil && c.lifeCtx.Err() == nil {
			c.env.Logger.Warnf(providers.TypeSync, "%s store: refresh after %s failed: %v", c.name, reason, err)
			c.startLoop(false)
		}
	}()
}

// startLoop runs the load loop unless one is already running. With restart
// a running loop is cancelled first.
func (c *core) startLoop(restart bool) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.lifeCtx.Err() != nil {
		return
	}

	if c.loopDone != nil {
		select {
		case <-c.loopDone:
		default:
			if !restart {
				return
			}
			c.loopCancel()
			<-c.loopDone
		}
	}

	ctx, cancel := context.WithCancel(c.lifeCtx)
	done := make(chan struct{})
	c.loopCancel, c.loopDone = cancel, done
	go c.loadLoop(ctx, cancel, done)
}

func (c *core) waitLoop() {
	c.loopMu.Lock()
	done := c.loopDone
	c.loopMu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *core) loadLoop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	policy := retry.PolicyFromConfig(c.conf.Retry)
	// every load is already bounded by LoadTimeout
	policy.AttemptTimeout = 0
	policy.RetryIf = apperr.Retryable
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.env.Logger.Infof(providers.TypeSync, "%s store: load attempt %d failed, next in %v", c.name, attempt+1, delay)
	}

	err := c.env.Scheduler.Do(ctx, c.name+" load", policy, c.Refresh)
	if err == nil || ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	c.lastErr = err
	c.connErr = true
	if !c.state.Ready() {
		c.transitionLocked(StateErrorExhausted)
	}
	c.mu.Unlock()
	c.env.Logger.Errorf(providers.TypeSync, "%s store: giving up loading: %v", c.name, err)
}

// Refresh loads the store from the backend. Concurrent callers share one
// load; a caller whose ctx ends stops waiting but the load carries on.
func (c *core) Refresh(ctx context.Context) error {
	return c.share(ctx, "refresh", false, c.load)
}

// reload is Refresh for callers that know the backend changed: joining a
// load that began before the call is followed by one more load.
func (c *core) reload(ctx context.Context) error {
	return c.share(ctx, "refresh", true, c.load)
}

// share runs fn under key, joining a run already in flight. Runs are
// numbered; with fresh set the caller only returns the result of a run
// that started after it asked.
func (c *core) share(ctx context.Context, key string, fresh bool, fn func() error) error {
	runs := c.runCounter(key)
	after := runs.Load()
	for {
		ch := c.group.DoChan(key, func() (any, error) {
			return runs.Inc(), fn()
		})
		select {
		case res := <-ch:
			if res.Err != nil || !fresh || res.Val.(uint64) > after {
				return res.Err
			}
		case <-ctx.Done():
			return apperr.FromContext(c.name+" "+key, ctx.Err())
		}
	}
}

func (c *core) runCounter(key string) *atomic.Uint64 {
	c.flowMu.Lock()
	defer c.flowMu.Unlock()
	n, ok := c.runs[key]
	if !ok {
		n = atomic.NewUint64(0)
		c.runs[key] = n
	}
	return n
}

func (c *core) load() error {
	op := c.name + " load"
	ctx, cancel := c.loadContext()
	defer cancel()

	c.mu.Lock()
	c.loading = true
	if !c.state.Ready() {
		c.transitionLocked(StateLoading)
	}
	c.mu.Unlock()

	if !c.env.Probe.CheckConnection(ctx) {
		return c.fail(apperr.New(apperr.Unreachable, op, "backend unreachable"))
	}
	var installed bool
	for attempt := 1; ; attempt++ {
		var err error
		installed, err = c.fetch(ctx, c.changes.Load())
		if err != nil {
			return c.fail(apperr.FromContext(op, err))
		}
		if installed || !c.refetch(attempt) {
			break
		}
	}
	c.succeed(installed)
	return nil
}

// refetch is called after a fetch dropped its rows. While a change is still
// unsettled the store is marked stale and the settlement reloads it;
// otherwise the fetch is repeated.
func (c *core) refetch(attempt int) bool {
	c.stale.Store(true)
	if c.pending.Load() > 0 {
		return false
	}
	if !c.stale.Swap(false) {
		// a settlement in between already claimed the reload
		return false
	}
	if attempt >= maxFetchAttempts {
		c.env.Logger.Warnf(providers.TypeSync, "%s store: local changes kept racing the load, keeping local state", c.name)
		return false
	}
	return true
}

// beginChange must be called under the lock that guards the store's data,
// together with the local commit it accounts for.
func (c *core) beginChange() {
	c.changes.Inc()
	c.pending.Inc()
}

func (c *core) endChange() {
	c.changes.Inc()
	if c.pending.Dec() == 0 && c.stale.Swap(false) {
		c.background("settled change", c.reload)
	}
}

// current reports whether rows read after sampling seen may replace the
// local data. Call it under the same lock as beginChange.
func (c *core) current(seen uint64) bool {
	return c.pending.Load() == 0 && c.changes.Load() == seen
}

// loadContext bounds a load by LoadTimeout. Loads are shared between
// callers, so they hang off the store lifetime rather than a caller's ctx.
func (c *core) loadContext() (context.Context, context.CancelFunc) {
	if c.conf.LoadTimeout > 0 {
		return context.WithTimeout(c.lifeCtx, c.conf.LoadTimeout)
	}
	return context.WithCancel(c.lifeCtx)
}

func (c *core) fail(err error) error {
	c.mu.Lock()
	c.loading = false
	if errors.Is(err, context.Canceled) {
		c.mu.Unlock()
		return err
	}
	c.lastErr = err
	c.connErr = true
	if !c.state.Ready() {
		c.transitionLocked(StateErrorRetrying)
	}
	state := c.state
	c.mu.Unlock()

	c.env.Metrics.IncStoreRefresh(c.name, apperr.KindOf(err).String())
	c.env.Logger.Warnf(providers.TypeSync, "%s store: load failed (%v): %v", c.name, state, err)
	return err
}

// succeed ends a load that reached the backend. The unconfirmed registry is
// only cleared when the backend rows were installed.
func (c *core) succeed(installed bool) {
	c.mu.Lock()
	c.loading = false
	c.connErr = false
	c.lastErr = nil
	c.transitionLocked(StateReadyFromRemote)
	reconciled := 0
	if installed {
		reconciled = len(c.unconfirmed)
		clear(c.unconfirmed)
	}
	n := len(c.unconfirmed)
	c.mu.Unlock()

	c.env.Metrics.IncStoreRefresh(c.name, "success")
	c.env.Metrics.SetUnconfirmed(c.name, n)
	if reconciled > 0 {
		c.env.Logger.Infof(providers.TypeSync, "%s store: %d unconfirmed changes replaced by backend state", c.name, reconciled)
	}
}

// ensureOnline refuses a mutation before any local or remote change when
// offline mode is on or the backend is known to be unreachable.
func (c *core) ensureOnline(ctx context.Context, op string) error {
	if c.env.Probe.State().IsOfflineMode() {
		return apperr.New(apperr.Unreachable, op, "offline mode is on")
	}
	if !c.env.Probe.CheckConnection(ctx) {
		c.mu.Lock()
		c.connErr = true
		c.mu.Unlock()
		return apperr.New(apperr.Unreachable, op, "backend unreachable")
	}
	return nil
}

func (c *core) mutationPolicy() retry.Policy {
	p := retry.PolicyFromConfig(c.conf.Retry)
	p.AttemptTimeout = c.conf.MutationTimeout
	p.RetryIf = apperr.Retryable
	return p
}

// remote runs one backend write or lookup under the mutation retry policy.
func (c *core) remote(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return c.env.Scheduler.Do(ctx, c.name+" "+op, c.mutationPolicy(), fn)
}

// settle records the remote outcome for an entity already changed locally
// and ends the change opened by beginChange.
func (c *core) settle(id string, err error) error {
	defer c.endChange()
	c.mu.Lock()
	if err == nil {
		delete(c.unconfirmed, id)
	} else {
		c.unconfirmed[id] = err
	}
	n := len(c.unconfirmed)
	c.mu.Unlock()

	c.env.Metrics.SetUnconfirmed(c.name, n)
	if err != nil {
		c.env.Logger.Warnf(providers.TypeSync, "%s store: change to %s kept locally but not confirmed: %v", c.name, id, err)
	}
	return err
}

func (c *core) cacheSet(key string, v any) {
	if err := c.env.Cache.Set(key, v, c.conf.CacheTTL); err != nil {
		c.env.Logger.Warnf(providers.TypeSync, "%s store: caching %s failed: %v", c.name, key, err)
	}
}

func (c *core) now() string {
	return c.env.Clock.Now().UTC().Format(time.RFC3339Nano)
}
