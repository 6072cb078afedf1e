package stores

import (
	"consentsync/internal/backend"
	"consentsync/internal/backend/memory"
	"consentsync/internal/cache"
	"consentsync/internal/models"
	"consentsync/internal/persistence"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentStore_AddDuringLoadSurvivesLoad(t *testing.T) {
	f := newFixture()
	_, consents := loadedStores(t, f)
	g := f.gate(activeConsents)

	done := make(chan error, 1)
	go func() { done <- consents.Refresh(context.Background()) }()
	<-g.arrived

	rec, err := consents.Add(context.Background(), newConsent("Ana", 30))
	require.NoError(t, err)
	close(g.release)
	require.NoError(t, <-done)

	assert.Contains(t, ids(consents.Active()), rec.ID)
	assert.Len(t, consents.Active(), 3)
	assert.Empty(t, consents.Unconfirmed())
	cached, ok := cache.Get[[]models.ConsentRecord](f.env.Cache, persistence.KeyActiveConsents)
	require.True(t, ok)
	assert.Contains(t, ids(cached), rec.ID)
}

func TestConsentStore_ArchiveDuringLoadSurvivesLoad(t *testing.T) {
	f := newFixture()
	_, consents := loadedStores(t, f)
	g := f.gate(activeConsents)

	done := make(chan error, 1)
	go func() { done <- consents.Refresh(context.Background()) }()
	<-g.arrived

	_, err := consents.Archive(context.Background(), "c1")
	require.NoError(t, err)
	close(g.release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"c2"}, ids(consents.Active()))
	assert.Equal(t, []string{"c1", "c3"}, ids(consents.Archived()))
}

func TestConsentStore_LoadKeepsAddAwaitingBackend(t *testing.T) {
	f := newFixture()
	_, consents := loadedStores(t, f)
	g := f.gate(func(op, table string, _ backend.Query) bool {
		return op == memory.OpInsert && table == models.TableConsents
	})

	type result struct {
		rec models.ConsentRecord
		err error
	}
	added := make(chan result, 1)
	go func() {
		rec, err := consents.Add(context.Background(), newConsent("Beto", 22))
		added <- result{rec, err}
	}()
	<-g.arrived

	require.NoError(t, consents.Refresh(context.Background()))
	assert.Len(t, consents.Active(), 3)
	assert.Equal(t, StateReadyFromRemote, consents.State())

	selects := f.backend.CallsOn(memory.OpSelect, models.TableConsents)
	close(g.release)
	res := <-added
	require.NoError(t, res.err)

	// the settled insert reloads the collections the load skipped
	assert.Eventually(t, func() bool {
		return f.backend.CallsOn(memory.OpSelect, models.TableConsents) >= selects+2
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return !consents.IsLoading() }, time.Second, 5*time.Millisecond)
	assert.Contains(t, ids(consents.Active()), res.rec.ID)
	assert.Len(t, consents.Active(), 3)
}

func TestConsentStore_FeedDuringLoadIsNotLost(t *testing.T) {
	f := newFixture()
	f.seedRemote()
	_, consents := f.stores()
	defer consents.Close()
	g := f.gate(activeConsents)

	consents.Start(context.Background())
	<-g.arrived

	f.backend.Seed(models.TableConsents, consentRow("c9", "TCF-ZZZZZ-99999", "Lía", 25, "a2", false, "2024-03-20T10:00:00Z"))
	require.True(t, f.feed.fire(models.TableConsents))
	// let the feed reload join the load in flight
	time.Sleep(20 * time.Millisecond)
	close(g.release)

	assert.Eventually(t, func() bool {
		_, ok := consents.GetByCode("TCF-ZZZZZ-99999")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestConfigStore_ArtistFeedDuringRefreshIsNotLost(t *testing.T) {
	f := newFixture()
	f.seedRemote()
	cfg, _ := f.stores()
	defer cfg.Close()
	cfg.Start(context.Background())
	cfg.waitLoop()
	require.Equal(t, StateReadyFromRemote, cfg.State())

	g := f.gate(func(op, table string, _ backend.Query) bool {
		return op == memory.OpSelect && table == models.TableArtists
	})
	done := make(chan error, 1)
	go func() { done <- cfg.RefreshArtists(context.Background()) }()
	<-g.arrived

	f.backend.Seed(models.TableArtists, backend.Row{"id": "a3", "config_id": "cfg-1", "name": "Carla", "active": true, "created_at": "2024-03-02T09:00:00Z"})
	require.True(t, f.feed.fire(models.TableArtists))
	time.Sleep(20 * time.Millisecond)
	close(g.release)
	require.NoError(t, <-done)

	assert.Eventually(t, func() bool { return len(cfg.Config().Artists) == 3 }, time.Second, 5*time.Millisecond)
}

func TestConfigStore_RemoveArtistDuringLoadStaysRemoved(t *testing.T) {
	f := newFixture()
	f.backend.Seed(models.TableArtists, backend.Row{"id": "a3", "config_id": "cfg-1", "name": "Carla", "active": true, "created_at": "2024-03-02T09:00:00Z"})
	cfg, _ := loadedStores(t, f)
	g := f.gate(func(op, table string, _ backend.Query) bool {
		return op == memory.OpSelect && table == models.TableArtists
	})

	done := make(chan error, 1)
	go func() { done <- cfg.Refresh(context.Background()) }()
	<-g.arrived

	require.NoError(t, cfg.RemoveArtist(context.Background(), "a3"))
	close(g.release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"Ana", "Beto"}, names(cfg.Config().Artists))
}

func TestConfigStore_ConcurrentArtistUpdatesKeepBothFields(t *testing.T) {
	f := newFixture()
	cfg, _ := loadedStores(t, f)

	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("Ana %d", i)
		active := i%2 == 0

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := cfg.UpdateArtist(context.Background(), "a1", models.ArtistPatch{Name: &name})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := cfg.UpdateArtist(context.Background(), "a1", models.ArtistPatch{Active: &active})
			assert.NoError(t, err)
		}()
		wg.Wait()

		got, ok := cfg.Artist("a1")
		require.True(t, ok)
		require.Equal(t, name, got.Name)
		require.Equal(t, active, got.Active)
	}

	row := f.backend.Rows(models.TableArtists)[0]
	assert.Equal(t, "Ana 19", row["name"])
	assert.Equal(t, false, row["active"])
}
