package stores

import (
	"consentsync/internal/apperr"
	"consentsync/internal/backend"
	"consentsync/internal/backend/memory"
	"consentsync/internal/cache"
	"consentsync/internal/models"
	"consentsync/internal/persistence"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadedStores(t *testing.T, f *fixture) (*ConfigStore, *ConsentStore) {
	t.Helper()
	f.seedRemote()
	cfg, consents := f.stores()
	require.NoError(t, consents.Refresh(context.Background()))
	require.NoError(t, cfg.Refresh(context.Background()))
	t.Cleanup(cfg.Close)
	t.Cleanup(consents.Close)
	return cfg, consents
}

func names(artists []models.Artist) []string {
	out := make([]string, 0, len(artists))
	for _, a := range artists {
		out = append(out, a.Name)
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestConfigStore_LoadsFromRemote(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)

	assert.Equal(t, StateReadyFromRemote, cfg.State())
	assert.False(t, cfg.ConnectionError())
	assert.False(t, cfg.IsLoading())
	assert.Equal(t, "cfg-1", cfg.ConfigID())

	c := cfg.Config()
	assert.Equal(t, "Tinta Norte", c.StudioName)
	assert.Equal(t, "dev@example.cl", c.Contact.Email)
	assert.Equal(t, []string{"Ana", "Beto"}, names(c.Artists))

	id, ok := f.durable.GetValue(persistence.ValueConfigID)
	require.True(t, ok)
	assert.Equal(t, "cfg-1", id)

	cached, ok := cache.Get[models.StudioConfig](f.env.Cache, persistence.KeyStudioConfig)
	require.True(t, ok)
	assert.Equal(t, "Tinta Norte", cached.StudioName)
	assert.Equal(t, 1, f.metrics.StoreRefreshes["config:success"])
}

func TestConfigStore_CreatesDefaultConfig(t *testing.T) {
	f := newFixture()
	cfg, _ := f.stores()
	defer cfg.Close()

	require.NoError(t, cfg.Refresh(context.Background()))

	rows := f.backend.Rows(models.TableConfig)
	require.Len(t, rows, 1)
	assert.Equal(t, models.DefaultStudioConfig().StudioName, rows[0]["studio_name"])
	assert.Equal(t, models.DefaultStudioConfig().StudioName, cfg.Config().StudioName)
	assert.NotEmpty(t, cfg.ConfigID())
	assert.Empty(t, cfg.Config().Artists)
}

func TestConfigStore_UnreachableWithoutCacheExhausts(t *testing.T) {
	f := newFixture()
	f.goOffline()
	cfg, _ := f.stores()
	defer cfg.Close()
	assert.Equal(t, StateUninitialized, cfg.State())

	cfg.Start(context.Background())
	cfg.waitLoop()

	assert.Equal(t, StateErrorExhausted, cfg.State())
	assert.True(t, cfg.ConnectionError())
	assert.Equal(t, apperr.Unreachable, apperr.KindOf(cfg.LastError()))
	assert.Equal(t, 3, f.metrics.StoreRefreshes["config:unreachable"])
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.clock.Sleeps())
	assert.ElementsMatch(t, []string{models.TableConfig, models.TableArtists}, f.feed.tables())
	assert.Equal(t, "network unreachable", cfg.Status().Error)
}

func TestConfigStore_RetryConnectionAfterExhaustion(t *testing.T) {
	f := newFixture()
	f.seedRemote()
	f.goOffline()
	cfg, _ := f.stores()
	defer cfg.Close()

	cfg.Start(context.Background())
	cfg.waitLoop()
	require.Equal(t, StateErrorExhausted, cfg.State())

	f.goOnline()
	cfg.RetryConnection()
	cfg.waitLoop()

	assert.Equal(t, StateReadyFromRemote, cfg.State())
	assert.False(t, cfg.ConnectionError())
	assert.Nil(t, cfg.LastError())
	assert.Equal(t, "Tinta Norte", cfg.Config().StudioName)
}

func TestConfigStore_MutationsRefusedInOfflineMode(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)
	f.state.SetOfflineMode(true)
	f.backend.ResetCalls()
	ctx := context.Background()

	err := cfg.UpdateConfig(ctx, models.ConfigPatch{StudioName: strPtr("Otro")})
	assert.Equal(t, apperr.Unreachable, apperr.KindOf(err))
	_, err = cfg.AddArtist(ctx, models.Artist{Name: "Carla", Active: true})
	assert.Equal(t, apperr.Unreachable, apperr.KindOf(err))
	_, err = cfg.UpdateArtist(ctx, "a1", models.ArtistPatch{Name: strPtr("Anita")})
	assert.Equal(t, apperr.Unreachable, apperr.KindOf(err))
	err = cfg.RemoveArtist(ctx, "a2")
	assert.Equal(t, apperr.Unreachable, apperr.KindOf(err))

	for _, op := range []string{memory.OpProbe, memory.OpSelect, memory.OpInsert, memory.OpUpdate, memory.OpDelete} {
		assert.Zero(t, f.backend.Calls(op), op)
	}
	assert.Equal(t, "Tinta Norte", cfg.Config().StudioName)
	assert.Equal(t, []string{"Ana", "Beto"}, names(cfg.Config().Artists))
}

func TestConfigStore_MutationsRefusedWhenLastProbeFailed(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)
	f.goOffline()
	require.False(t, f.env.Probe.CheckConnection(context.Background()))
	f.backend.ResetCalls()
	networkCalls := f.network.calls.Load()

	err := cfg.UpdateConfig(context.Background(), models.ConfigPatch{StudioName: strPtr("Otro")})
	assert.Equal(t, apperr.Unreachable, apperr.KindOf(err))
	assert.True(t, cfg.ConnectionError())

	assert.Zero(t, f.backend.Calls(memory.OpUpdate))
	assert.Zero(t, f.backend.Calls(memory.OpProbe))
	assert.Equal(t, networkCalls, f.network.calls.Load())
}

func TestConfigStore_UpdateConfig(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)

	err := cfg.UpdateConfig(context.Background(), models.ConfigPatch{
		StudioName: strPtr("Tinta Sur"),
		Contact:    &models.ContactInfo{Name: "Otro", Email: "otro@example.cl"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Tinta Sur", cfg.Config().StudioName)
	row := f.backend.Rows(models.TableConfig)[0]
	assert.Equal(t, "Tinta Sur", row["studio_name"])
	assert.Equal(t, "otro@example.cl", row["contact_info"].(map[string]any)["email"])
	assert.NotEmpty(t, row["updated_at"])
	assert.Empty(t, cfg.Unconfirmed())
}

func TestConfigStore_HealthQuestionsStayLocal(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)
	questions := []models.HealthQuestion{{ID: "q1", Question: "¿Es alérgico al látex?"}}

	require.NoError(t, cfg.UpdateConfig(context.Background(), models.ConfigPatch{HealthQuestions: &questions}))
	require.NoError(t, cfg.Refresh(context.Background()))

	assert.Equal(t, questions, cfg.Config().HealthQuestions)
	_, hasColumn := f.backend.Rows(models.TableConfig)[0]["health_questions"]
	assert.False(t, hasColumn)
}

func TestConfigStore_OptimisticUpdateSurvivesRemoteFailure(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)
	f.backend.FailNext(memory.OpUpdate, apperr.Rejected(memory.OpUpdate, 500, "boom"))

	err := cfg.UpdateConfig(context.Background(), models.ConfigPatch{StudioName: strPtr("Tinta Sur")})
	require.Error(t, err)
	assert.Equal(t, apperr.RemoteRejected, apperr.KindOf(err))

	assert.Equal(t, "Tinta Sur", cfg.Config().StudioName)
	cached, ok := cache.Get[models.StudioConfig](f.env.Cache, persistence.KeyStudioConfig)
	require.True(t, ok)
	assert.Equal(t, "Tinta Sur", cached.StudioName)
	assert.Equal(t, []string{"cfg-1"}, cfg.Unconfirmed())
	assert.Equal(t, 1, f.metrics.Unconfirmed["config"])

	// the next load replaces the unconfirmed change with the backend state
	require.NoError(t, cfg.Refresh(context.Background()))
	assert.Equal(t, "Tinta Norte", cfg.Config().StudioName)
	assert.Empty(t, cfg.Unconfirmed())
	assert.Equal(t, 0, f.metrics.Unconfirmed["config"])
}

func TestConfigStore_AddArtist(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)

	artist, err := cfg.AddArtist(context.Background(), models.Artist{Name: "Carla", Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, artist.ID)

	got, ok := cfg.ArtistByName("Carla")
	require.True(t, ok)
	assert.Equal(t, artist.ID, got.ID)

	rows := f.backend.Rows(models.TableArtists)
	require.Len(t, rows, 3)
	assert.Equal(t, artist.ID, rows[2]["id"])
	assert.Equal(t, "cfg-1", rows[2]["config_id"])
	assert.Equal(t, "Carla", rows[2]["name"])
}

func TestConfigStore_AddArtistRequiresName(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)
	f.backend.ResetCalls()

	_, err := cfg.AddArtist(context.Background(), models.Artist{Active: true})
	assert.Equal(t, apperr.IntegrityViolation, apperr.KindOf(err))
	assert.Zero(t, f.backend.Calls(memory.OpInsert))
	assert.Len(t, cfg.Config().Artists, 2)
}

func TestConfigStore_AddArtistVisibleWhenInsertFails(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)
	for i := 0; i < 3; i++ {
		f.backend.FailNext(memory.OpInsert, apperr.New(apperr.Unreachable, memory.OpInsert, "reset by peer"))
	}

	artist, err := cfg.AddArtist(context.Background(), models.Artist{Name: "Carla"})
	assert.Equal(t, apperr.Unreachable, apperr.KindOf(err))

	_, ok := cfg.ArtistByName("Carla")
	assert.True(t, ok)
	assert.Equal(t, []string{artist.ID}, cfg.Unconfirmed())
	assert.Equal(t, 3, f.backend.Calls(memory.OpInsert))
	assert.Equal(t, 2, f.metrics.Retries("config add artist"))
}

func TestConfigStore_UpdateArtist(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)
	inactive := false

	updated, err := cfg.UpdateArtist(context.Background(), "a2", models.ArtistPatch{Active: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, "Beto", updated.Name)

	got, _ := cfg.Artist("a2")
	assert.False(t, got.Active)
	assert.Equal(t, false, f.backend.Rows(models.TableArtists)[1]["active"])

	_, err = cfg.UpdateArtist(context.Background(), "nope", models.ArtistPatch{Active: &inactive})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestConfigStore_RemoveReferencedArtistRefused(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)
	f.backend.ResetCalls()

	err := cfg.RemoveArtist(context.Background(), "a1")
	require.Error(t, err)
	assert.Equal(t, apperr.IntegrityViolation, apperr.KindOf(err))
	assert.Zero(t, f.backend.Calls(memory.OpDelete))

	_, ok := cfg.ArtistByName("Ana")
	assert.True(t, ok)
}

func TestConfigStore_RemoveArtistReferencedOnlyRemotely(t *testing.T) {
	f := newFixture()
	f.seedRemote()
	cfg, _ := f.stores()
	defer cfg.Close()
	require.NoError(t, cfg.Refresh(context.Background()))
	f.backend.Seed(models.TableConsents, consentRow("c9", "TCF-ZZZZZ-99999", "Lía", 25, "a2", true, "2024-01-01T10:00:00Z"))

	err := cfg.RemoveArtist(context.Background(), "a2")
	assert.Equal(t, apperr.IntegrityViolation, apperr.KindOf(err))
	assert.Zero(t, f.backend.Calls(memory.OpDelete))
	assert.Equal(t, 1, f.backend.CallsOn(memory.OpSelect, models.TableConsents))
}

func TestConfigStore_RemoveArtist(t *testing.T) {
	f := newFixture()
	f.backend.Seed(models.TableArtists, backend.Row{"id": "a3", "config_id": "cfg-1", "name": "Carla", "active": true, "created_at": "2024-03-02T09:00:00Z"})
	cfg, _ := loadedStores(t, f)

	require.NoError(t, cfg.RemoveArtist(context.Background(), "a3"))

	assert.Equal(t, []string{"Ana", "Beto"}, names(cfg.Config().Artists))
	assert.Len(t, f.backend.Rows(models.TableArtists), 2)
	assert.Equal(t, 1, f.backend.Calls(memory.OpDelete))

	err := cfg.RemoveArtist(context.Background(), "a3")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestConfigStore_RemoveArtistKeptWhenDeleteFails(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)
	f.backend.FailNext(memory.OpDelete, apperr.Rejected(memory.OpDelete, 403, "permission denied"))

	err := cfg.RemoveArtist(context.Background(), "a2")
	assert.Equal(t, apperr.RemoteRejected, apperr.KindOf(err))
	_, ok := cfg.ArtistByName("Beto")
	assert.True(t, ok)
}

func TestConfigStore_ArtistFeedRefreshesOnlyArtists(t *testing.T) {
	f := newFixture()
	f.seedRemote()
	cfg, _ := f.stores()
	defer cfg.Close()
	cfg.Start(context.Background())
	cfg.waitLoop()
	require.Equal(t, StateReadyFromRemote, cfg.State())

	f.backend.Seed(models.TableArtists, backend.Row{"id": "a3", "config_id": "cfg-1", "name": "Carla", "active": true, "created_at": "2024-03-02T09:00:00Z"})
	configSelects := f.backend.CallsOn(memory.OpSelect, models.TableConfig)
	require.True(t, f.feed.fire(models.TableArtists))

	assert.Eventually(t, func() bool { return len(cfg.Config().Artists) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, configSelects, f.backend.CallsOn(memory.OpSelect, models.TableConfig))
}

func TestConfigStore_ConfigFeedReloads(t *testing.T) {
	f := newFixture()
	f.seedRemote()
	cfg, _ := f.stores()
	defer cfg.Close()
	cfg.Start(context.Background())
	cfg.waitLoop()

	_, err := f.backend.Update(context.Background(), models.TableConfig, "cfg-1", backend.Row{"studio_name": "Tinta Este"})
	require.NoError(t, err)
	require.True(t, f.feed.fire(models.TableConfig))

	assert.Eventually(t, func() bool { return cfg.Config().StudioName == "Tinta Este" }, time.Second, 5*time.Millisecond)
}

func TestConfigStore_CloseUnsubscribes(t *testing.T) {
	f := newFixture()
	cfg, _ := f.stores()
	cfg.Start(context.Background())
	cfg.Close()

	f.feed.mu.Lock()
	defer f.feed.mu.Unlock()
	assert.Equal(t, 2, f.feed.unsubscribed)
}
