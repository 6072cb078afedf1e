package memory

import (
	"consentsync/internal/apperr"
	"consentsync/internal/backend"
	"consentsync/internal/testutil"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend() *Backend {
	return New(testutil.NewFakeClock())
}

func TestBackend_InsertAssignsIDAndCreatedAt(t *testing.T) {
	b := newTestBackend()
	row, err := b.Insert(context.Background(), "artists", backend.Row{"name": "Ana"})
	require.NoError(t, err)

	assert.NotEmpty(t, row["id"])
	assert.Equal(t, "2024-03-15T10:00:00Z", row["created_at"])
	assert.Equal(t, 1, b.Calls(OpInsert))
	assert.Equal(t, 1, b.CallsOn(OpInsert, "artists"))
}

func TestBackend_SelectFilterOrderLimit(t *testing.T) {
	b := newTestBackend()
	b.Seed("consents",
		backend.Row{"id": "1", "archived": false, "created_at": "2024-01-01"},
		backend.Row{"id": "2", "archived": true, "created_at": "2024-01-02"},
		backend.Row{"id": "3", "archived": false, "created_at": "2024-01-03"},
	)

	rows, err := b.Select(context.Background(), "consents",
		backend.Query{}.Eq("archived", false).OrderBy("created_at", false))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "3", rows[0]["id"])
	assert.Equal(t, "1", rows[1]["id"])

	rows, err = b.Select(context.Background(), "consents", backend.Query{}.OrderBy("created_at", true).WithLimit(1))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["id"])
}

func TestBackend_SelectNumericEquality(t *testing.T) {
	b := newTestBackend()
	b.Seed("artists", backend.Row{"id": "a", "config_id": 7})

	rows, err := b.Select(context.Background(), "artists", backend.Query{}.Eq("config_id", "7"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBackend_SelectEmbedsRelation(t *testing.T) {
	b := newTestBackend()
	b.Seed("artists", backend.Row{"id": "a1", "name": "Ana"})
	b.Seed("consents", backend.Row{"id": "c1", "code": "TCF-1", "artist_id": "a1"})

	rows, err := b.Select(context.Background(), "consents", backend.Query{
		Columns: []string{"id", "code", "artists:artist_id (name)"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "TCF-1", rows[0]["code"])
	assert.NotContains(t, rows[0], "artist_id")
	assert.Equal(t, backend.Row{"name": "Ana"}, rows[0]["artists"])
}

func TestBackend_ReturnedRowsAreCopies(t *testing.T) {
	b := newTestBackend()
	b.Seed("consents", backend.Row{"id": "1", "client_info": map[string]any{"nombre": "Ana"}})

	rows, _ := b.Select(context.Background(), "consents", backend.Query{})
	rows[0]["client_info"].(map[string]any)["nombre"] = "X"

	again := b.Rows("consents")
	assert.Equal(t, "Ana", again[0]["client_info"].(map[string]any)["nombre"])
}

func TestBackend_UniqueConstraint(t *testing.T) {
	b := newTestBackend()
	b.Unique("consents", "code")
	_, err := b.Insert(context.Background(), "consents", backend.Row{"code": "TCF-A"})
	require.NoError(t, err)

	_, err = b.Insert(context.Background(), "consents", backend.Row{"code": "TCF-A"})
	assert.Equal(t, apperr.RemoteRejected, apperr.KindOf(err))
}

func TestBackend_UpdateAndDelete(t *testing.T) {
	b := newTestBackend()
	b.Seed("artists", backend.Row{"id": "a1", "name": "Ana", "active": true})

	row, err := b.Update(context.Background(), "artists", "a1", backend.Row{"active": false, "id": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, false, row["active"])
	assert.Equal(t, "a1", row["id"])

	_, err = b.Update(context.Background(), "artists", "missing", backend.Row{"active": true})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	require.NoError(t, b.Delete(context.Background(), "artists", "a1"))
	assert.Empty(t, b.Rows("artists"))
	assert.NoError(t, b.Delete(context.Background(), "artists", "a1"))
}

func TestBackend_OfflineAndQueuedFailures(t *testing.T) {
	b := newTestBackend()
	b.SetOffline(true)
	err := b.Probe(context.Background())
	assert.Equal(t, apperr.Unreachable, apperr.KindOf(err))

	b.SetOffline(false)
	b.FailNext(OpProbe, errors.New("flaky"))
	assert.EqualError(t, b.Probe(context.Background()), "flaky")
	assert.NoError(t, b.Probe(context.Background()))
	assert.Equal(t, 3, b.Calls(OpProbe))

	b.ResetCalls()
	assert.Equal(t, 0, b.Calls(OpProbe))
}

func TestBackend_CancelledContext(t *testing.T) {
	b := newTestBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Select(ctx, "artists", backend.Query{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackend_SubscribeReceivesChanges(t *testing.T) {
	b := newTestBackend()
	ch, err := b.SubscribeChanges(context.Background(), "consents", backend.EventInsert)
	require.NoError(t, err)

	ev := <-ch.Events()
	assert.Equal(t, backend.StatusOpen, ev.Status)

	_, err = b.Insert(context.Background(), "consents", backend.Row{"code": "X"})
	require.NoError(t, err)
	ev = <-ch.Events()
	assert.Equal(t, backend.EventInsert, ev.Type)
	assert.Equal(t, "X", ev.Record["code"])

	// update is not subscribed
	b.Seed("consents", backend.Row{"id": "u1"})
	_, _ = b.Update(context.Background(), "consents", "u1", backend.Row{"archived": true})
	select {
	case ev := <-ch.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	_, open := <-ch.Events()
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers("consents"))
}

func TestBackend_DropChannelsEmitsStatus(t *testing.T) {
	b := newTestBackend()
	ch, err := b.SubscribeChanges(context.Background(), "artists")
	require.NoError(t, err)
	<-ch.Events()

	b.DropChannels("artists", backend.StatusClosed)

	ev, ok := <-ch.Events()
	require.True(t, ok)
	assert.Equal(t, backend.StatusClosed, ev.Status)
	_, ok = <-ch.Events()
	assert.False(t, ok)
	assert.NoError(t, ch.Close())
}

func TestBackend_GoingOfflineClosesChannels(t *testing.T) {
	b := newTestBackend()
	ch, err := b.SubscribeChanges(context.Background(), "config")
	require.NoError(t, err)
	<-ch.Events()

	b.SetOffline(true)
	ev := <-ch.Events()
	assert.Equal(t, backend.StatusOffline, ev.Status)

	_, err = b.SubscribeChanges(context.Background(), "config")
	assert.Equal(t, apperr.Unreachable, apperr.KindOf(err))
}

func TestParseEmbed(t *testing.T) {
	alias, fk, cols, ok := parseEmbed("artists:artist_id (name, id)")
	require.True(t, ok)
	assert.Equal(t, "artists", alias)
	assert.Equal(t, "artist_id", fk)
	assert.Equal(t, []string{"name", "id"}, cols)

	_, _, _, ok = parseEmbed("name")
	assert.False(t, ok)
}
