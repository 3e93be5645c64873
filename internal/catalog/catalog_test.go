package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateShowUniqueName(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	show, err := store.CreateShow(ctx, "Morning Drive")
	require.NoError(t, err)
	assert.NotEmpty(t, show.ShowID)

	_, err = store.CreateShow(ctx, "Morning Drive")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestGetShowByNameNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetShowByName(ctx, "nonexistent")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestRecordingSearchByToken(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.CreateRecording(ctx, model.Recording{
		SessionID: "s1", Title: "Late Night Jazz", Artist: "Miles Someone", Genre: "jazz",
		FilePath: "/data/recordings/a.ogg", DurationSeconds: 120,
	})
	require.NoError(t, err)
	_, err = store.CreateRecording(ctx, model.Recording{
		SessionID: "s2", Title: "Morning Pop Mix", Artist: "Someone Else", Genre: "pop",
		FilePath: "/data/recordings/b.ogg", DurationSeconds: 90,
	})
	require.NoError(t, err)

	results, total, err := store.ListRecordings(ctx, RecordingFilter{Search: "jazz"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "Late Night Jazz", results[0].Title)

	results, total, err = store.ListRecordings(ctx, RecordingFilter{Search: "Someone"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)
}

func TestRecordingFilterByShowAndDate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	show, err := store.CreateShow(ctx, "Evening Show")
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour)
	_, err = store.CreateRecording(ctx, model.Recording{
		ShowID: show.ShowID, SessionID: "s1", Title: "Old One",
		FilePath: "/a.ogg", DurationSeconds: 10, CreatedAt: old,
	})
	require.NoError(t, err)

	recent := time.Now()
	_, err = store.CreateRecording(ctx, model.Recording{
		ShowID: show.ShowID, SessionID: "s2", Title: "Recent One",
		FilePath: "/b.ogg", DurationSeconds: 10, CreatedAt: recent,
	})
	require.NoError(t, err)

	results, total, err := store.ListRecordings(ctx, RecordingFilter{
		ShowName: "Evening Show",
		DateFrom: time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "Recent One", results[0].Title)
}

func TestDeleteRecordingReturnsFilePath(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	rec, err := store.CreateRecording(ctx, model.Recording{
		SessionID: "s1", Title: "x", FilePath: "/data/recordings/x.ogg", DurationSeconds: 5,
	})
	require.NoError(t, err)

	path, err := store.DeleteRecording(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "/data/recordings/x.ogg", path)

	_, err = store.GetRecording(ctx, rec.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestWebhookSubscribeIsIdempotentOnURLAndEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	events := []model.EventType{model.EventSongChanged, model.EventQueueSwitched}
	first, err := store.Subscribe(ctx, "https://example.com/hook", events, "key-one-xxxxxxxx", "first")
	require.NoError(t, err)

	second, err := store.Subscribe(ctx, "https://example.com/hook", events, "key-two-xxxxxxxx", "second")
	require.NoError(t, err)

	assert.Equal(t, first.WebhookID, second.WebhookID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "key-two-xxxxxxxx", second.SigningKey)
	assert.Equal(t, "second", second.Description)

	all, err := store.ListWebhooks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestWebhookDeliveryRetentionByCount(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sub, err := store.Subscribe(ctx, "https://example.com/hook", []model.EventType{model.EventSongChanged}, "0123456789abcdef", "")
	require.NoError(t, err)

	for i := 0; i < 105; i++ {
		err := store.RecordDelivery(ctx, sub.WebhookID, model.WebhookDelivery{
			Timestamp: time.Now(),
			EventType: model.EventSongChanged,
			URL:       sub.URL,
			Status:    model.DeliverySuccess,
			LatencyMS: int64(i),
		})
		require.NoError(t, err)
	}

	deliveries, err := store.ListDeliveries(ctx, sub.WebhookID)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(deliveries), 100)
}

func TestSongMetadataUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, ok, err := store.GetSongMetadata(ctx, "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.UpsertSongMetadata(ctx, SongAdminMetadata{
		Fingerprint: "deadbeef", Title: "Fixed Title", Artist: "Fixed Artist", Genre: "rock",
	}))

	m, ok, err := store.GetSongMetadata(ctx, "deadbeef")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Fixed Title", m.Title)

	require.NoError(t, store.UpsertSongMetadata(ctx, SongAdminMetadata{
		Fingerprint: "deadbeef", Title: "Updated Title", Artist: "Fixed Artist", Genre: "rock",
	}))
	m, ok, err = store.GetSongMetadata(ctx, "deadbeef")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Updated Title", m.Title)
}
