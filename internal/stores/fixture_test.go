package stores

import (
	"consentsync/internal/backend"
	"consentsync/internal/backend/memory"
	"consentsync/internal/cache"
	"consentsync/internal/changefeed"
	"consentsync/internal/connectivity"
	"consentsync/internal/models"
	"consentsync/internal/persistence"
	"consentsync/internal/providers"
	"consentsync/internal/retry"
	"consentsync/internal/structures"
	"consentsync/internal/testutil"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
)

func testConfig() *structures.Config {
	store := structures.StoreConfig{
		CacheTTL:        time.Hour,
		LoadTimeout:     5 * time.Second,
		MutationTimeout: 5 * time.Second,
		Retry: structures.RetryPolicy{
			InitialDelay:   time.Second,
			MaxDelay:       30 * time.Second,
			MaxRetries:     2,
			BackoffFactor:  2,
			AttemptTimeout: 5 * time.Second,
		},
	}
	return &structures.Config{
		Cache: structures.CacheConfig{Size: 1},
		Sync: structures.SyncConfig{
			ProbeTTL:       10 * time.Second,
			NetworkTimeout: 5 * time.Second,
			ProbeRetry: structures.RetryPolicy{
				InitialDelay:   time.Second,
				MaxDelay:       time.Second,
				BackoffFactor:  1,
				AttemptTimeout: 5 * time.Second,
			},
			ReconnectDelay: 15 * time.Second,
		},
		Stores: structures.StoresConfig{Config: store, Consents: store},
	}
}

// networkSwitch is a reachability check the test turns on and off.
type networkSwitch struct {
	down  atomic.Bool
	calls atomic.Int32
}

func (n *networkSwitch) Check(_ context.Context) error {
	n.calls.Inc()
	if n.down.Load() {
		return errors.New("no route to host")
	}
	return nil
}

// stubFeed records subscriptions so a test can fire change notifications.
type stubFeed struct {
	mu           sync.Mutex
	callbacks    map[string]func()
	unsubscribed int
}

func (f *stubFeed) Subscribe(_ context.Context, table string, onChange func()) changefeed.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callbacks == nil {
		f.callbacks = map[string]func(){}
	}
	f.callbacks[table] = onChange
	return stubHandle{feed: f}
}

func (f *stubFeed) fire(table string) bool {
	f.mu.Lock()
	cb := f.callbacks[table]
	f.mu.Unlock()
	if cb == nil {
		return false
	}
	cb()
	return true
}

func (f *stubFeed) tables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.callbacks))
	for t := range f.callbacks {
		out = append(out, t)
	}
	return out
}

type stubHandle struct{ feed *stubFeed }

func (h stubHandle) Unsubscribe() {
	h.feed.mu.Lock()
	defer h.feed.mu.Unlock()
	h.feed.unsubscribed++
}

type fixture struct {
	conf    *structures.Config
	env     *Env
	backend *memory.Backend
	clock   *testutil.FakeClock
	network *networkSwitch
	state   *connectivity.State
	durable *persistence.Store
	feed    *stubFeed
	logger  *testutil.MockLogger
	metrics *testutil.MockMetrics
}

func newFixture() *fixture {
	return newFixtureWith(persistence.NewEmptyStore())
}

// newFixtureWith builds a fresh environment over an existing durable
// snapshot, the way a process restart would.
func newFixtureWith(durable *persistence.Store) *fixture {
	conf := testConfig()
	clk := testutil.NewFakeClock()
	logger := &testutil.MockLogger{}
	metrics := testutil.NewMockMetrics()
	be := memory.New(clk)
	network := &networkSwitch{}
	state := connectivity.NewState(durable)
	scheduler := retry.NewScheduler(clk, logger, metrics)
	probe := connectivity.NewProbe(conf, state, be, network, scheduler, clk, logger, metrics)
	lc := cache.NewLocalCache(providers.NewCacheProvider(conf, logger, clk), durable, clk, logger)
	feed := &stubFeed{}

	return &fixture{
		conf:    conf,
		env:     NewEnv(be, lc, durable, probe, feed, scheduler, clk, logger, metrics),
		backend: be,
		clock:   clk,
		network: network,
		state:   state,
		durable: durable,
		feed:    feed,
		logger:  logger,
		metrics: metrics,
	}
}

// goOffline takes both the network and the backend away and forgets the
// last probe result.
func (f *fixture) goOffline() {
	f.network.down.Store(true)
	f.backend.SetOffline(true)
	f.env.Probe.Invalidate()
}

func (f *fixture) goOnline() {
	f.network.down.Store(false)
	f.backend.SetOffline(false)
}

func (f *fixture) stores() (*ConfigStore, *ConsentStore) {
	consents := NewConsentStore(f.conf, f.env)
	return NewConfigStore(f.conf, f.env, consents), consents
}

func (f *fixture) seedRemote() {
	f.backend.Seed(models.TableConfig, backend.Row{
		"id":                 "cfg-1",
		"studio_name":        "Tinta Norte",
		"studio_address":     "Av. Brasil 200, Valparaíso",
		"consent_text":       "Yo, {Nombre Cliente}...",
		"tutor_consent_text": "Yo, {Nombre Tutor}...",
		"footer_text":        "footer",
		"contact_info":       map[string]any{"nombre": "Dev", "whatsapp": "+56 9 0000 0000", "email": "dev@example.cl", "instagram": "@dev"},
		"created_at":         "2024-03-01T09:00:00Z",
	})
	f.backend.Seed(models.TableArtists,
		backend.Row{"id": "a1", "config_id": "cfg-1", "name": "Ana", "active": true, "created_at": "2024-03-01T09:00:00Z"},
		backend.Row{"id": "a2", "config_id": "cfg-1", "name": "Beto", "active": true, "created_at": "2024-03-01T09:01:00Z"},
	)
	f.backend.Seed(models.TableConsents,
		consentRow("c1", "TCF-AAAAA-11111", "Juan", 30, "a1", false, "2024-03-14T10:00:00Z"),
		consentRow("c2", "TCF-BBBBB-22222", "Sofía", 16, "a1", false, "2024-03-13T10:00:00Z"),
		consentRow("c3", "TCF-CCCCC-33333", "Pedro", 41, "a1", true, "2024-02-10T10:00:00Z"),
	)
}

func consentRow(id, code, name string, age int, artistID string, archived bool, createdAt string) backend.Row {
	return backend.Row{
		"id":               id,
		"code":             code,
		"client_info":      map[string]any{"nombre": name, "apellidos": "Pérez", "edad": age, "rut": "11.111.111-1"},
		"tutor_info":       nil,
		"artist_id":        artistID,
		"client_signature": "data:image/png;base64,AAA",
		"archived":         archived,
		"created_at":       createdAt,
	}
}

func newConsent(artist string, age int) models.NewConsent {
	n := models.NewConsent{
		Client:     models.Client{Name: "Camila", LastName: "Rojas", Age: age, RUT: "22.222.222-2"},
		Health:     models.HealthAnswers{"q1": {Answer: false}},
		ArtistName: artist,
		Signature:  "data:image/png;base64,BBB",
	}
	if age < 18 {
		n.Guardian = &models.Guardian{Name: "Marta", RUT: "9.999.999-9", Relationship: "madre"}
	}
	return n
}

func ids(records []models.ConsentRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

// gatedBackend holds the first call the test selects until release is
// closed. A select is held after the wrapped backend read its rows, any
// other call before it reaches the backend.
type gatedBackend struct {
	*memory.Backend

	mu      sync.Mutex
	match   func(op, table string, q backend.Query) bool
	arrived chan struct{}
	release chan struct{}
}

// gate routes the stores through a gatedBackend holding the first call
// match accepts.
func (f *fixture) gate(match func(op, table string, q backend.Query) bool) *gatedBackend {
	g := &gatedBackend{
		Backend: f.backend,
		match:   match,
		arrived: make(chan struct{}),
		release: make(chan struct{}),
	}
	f.env.Backend = g
	return g
}

func (g *gatedBackend) hold(op, table string, q backend.Query) {
	g.mu.Lock()
	armed := g.match != nil && g.match(op, table, q)
	if armed {
		g.match = nil
	}
	g.mu.Unlock()
	if armed {
		close(g.arrived)
		<-g.release
	}
}

func (g *gatedBackend) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	rows, err := g.Backend.Select(ctx, table, q)
	g.hold(memory.OpSelect, table, q)
	return rows, err
}

func (g *gatedBackend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	g.hold(memory.OpInsert, table, backend.Query{})
	return g.Backend.Insert(ctx, table, row)
}

func (g *gatedBackend) Update(ctx context.Context, table string, id string, patch backend.Row) (backend.Row, error) {
	g.hold(memory.OpUpdate, table, backend.Query{})
	return g.Backend.Update(ctx, table, id, patch)
}

// activeConsents matches the select of the active collection.
func activeConsents(op, table string, q backend.Query) bool {
	if op != memory.OpSelect || table != models.TableConsents {
		return false
	}
	for _, flt := range q.Filters {
		if flt.Column == "archived" && flt.Value == false {
			return true
		}
	}
	return false
}
