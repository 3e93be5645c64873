package recording

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arung-agamani/denpa-relay/internal/catalog"
	"github.com/arung-agamani/denpa-relay/internal/eventbus"
	"github.com/arung-agamani/denpa-relay/internal/ffmpeg"
	"github.com/arung-agamani/denpa-relay/internal/model"
	"github.com/arung-agamani/denpa-relay/internal/statestore"
)

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed, skipping")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed, skipping")
	}
}

func generateSilentWAV(t *testing.T, path string, seconds int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-f", "lavfi", "-i", "anullsrc=r=44100:cl=mono",
		"-t", fmt.Sprintf("%d", seconds), path)
	require.NoError(t, cmd.Run())
}

// fakeCaptureSource serves the bytes of wavPath to exactly one connection,
// then closes it — standing in for the mixer's capture socket ending a
// connection when the live session disconnects.
func fakeCaptureSource(t *testing.T, wavPath string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		f, err := os.Open(wavPath)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = io.Copy(conn, f)
	}()
	return ln.Addr().String()
}

func newTestCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return eventbus.New(statestore.NewFromClient(client))
}

func newTestWorker(t *testing.T, captureAddr string) (*Worker, *catalog.Store) {
	t.Helper()
	cat := newTestCatalog(t)
	bus := newTestBus(t)
	enc := ffmpeg.NewEncoder("64k", "44100", "1")
	dir := t.TempDir()
	w := New(bus, cat, enc, Config{
		CaptureAddr:   captureAddr,
		WorkDir:       filepath.Join(dir, "work"),
		RecordingsDir: filepath.Join(dir, "recordings"),
	})
	return w, cat
}

func TestSessionShorterThanMinimumIsDiscarded(t *testing.T) {
	requireFFmpeg(t)
	dir := t.TempDir()
	wav := filepath.Join(dir, "short.wav")
	generateSilentWAV(t, wav, 1)

	addr := fakeCaptureSource(t, wav)
	w, cat := newTestWorker(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go w.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	w.bus.Publish(ctx, model.Event{
		EventType: model.EventLivestreamStarted,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"session_id":             "sess-short",
			"principal_id":           "user-1",
			"min_recording_duration": 5,
		},
	})
	time.Sleep(300 * time.Millisecond)

	w.bus.Publish(ctx, model.Event{
		EventType: model.EventLivestreamEnded,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"session_id": "sess-short"},
	})

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		_, active := w.sessions["sess-short"]
		return !active
	}, 10*time.Second, 50*time.Millisecond)

	entries, err := os.ReadDir(w.cfg.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp capture file must be removed for a too-short session")

	recordings, _, err := cat.ListRecordings(ctx, catalog.RecordingFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, recordings)
}

func TestSessionRetainedAndIndexed(t *testing.T) {
	requireFFmpeg(t)
	dir := t.TempDir()
	wav := filepath.Join(dir, "long.wav")
	generateSilentWAV(t, wav, 3)

	addr := fakeCaptureSource(t, wav)
	w, cat := newTestWorker(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	show, err := cat.CreateShow(ctx, "Afternoon Request Hour")
	require.NoError(t, err)

	go w.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	w.bus.Publish(ctx, model.Event{
		EventType: model.EventLivestreamStarted,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"session_id":             "sess-long",
			"principal_id":           "user-2",
			"show_id":                show.ShowID,
			"min_recording_duration": 0,
		},
	})
	time.Sleep(500 * time.Millisecond)

	w.bus.Publish(ctx, model.Event{
		EventType: model.EventLivestreamEnded,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"session_id": "sess-long"},
	})

	var recordings []model.Recording
	require.Eventually(t, func() bool {
		var err error
		recordings, _, err = cat.ListRecordings(ctx, catalog.RecordingFilter{Page: 1, PageSize: 10})
		return err == nil && len(recordings) == 1
	}, 15*time.Second, 100*time.Millisecond)

	rec := recordings[0]
	assert.Equal(t, "sess-long", rec.SessionID)
	assert.Equal(t, show.ShowID, rec.ShowID)
	assert.Positive(t, rec.DurationSeconds)
	_, statErr := os.Stat(rec.FilePath)
	assert.NoError(t, statErr, "final recording file must exist at the recorded path")
}

func TestReapOrphansRemovesLeftoverTempFiles(t *testing.T) {
	w, _ := newTestWorker(t, "127.0.0.1:0")
	require.NoError(t, os.MkdirAll(w.cfg.WorkDir, 0o755))
	orphan := filepath.Join(w.cfg.WorkDir, "stale-session.ogg")
	require.NoError(t, os.WriteFile(orphan, []byte("leftover"), 0o644))

	w.ReapOrphans()

	_, err := os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}
