package queue

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/mixerctl"
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

func generateSilentFile(t *testing.T, path string, seconds int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-f", "lavfi", "-i", "anullsrc=r=44100:cl=mono",
		"-t", strconv.Itoa(seconds), path)
	require.NoError(t, cmd.Run())
}

func newTestStateStore(t *testing.T) statestore.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return statestore.NewFromClient(client)
}

// fakeQueueMixer runs a minimal in-memory queue behind the mixer line
// protocol: ENQUEUE/DEQUEUE/LIST/CLEAR/PLAY/PAUSE/RESUME/CURRENT.
func fakeQueueMixer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	var items []string
	var nextID int

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for {
					line, err := reader.ReadString('\n')
					if err != nil {
						return
					}
					cmd := strings.TrimRight(line, "\r\n")
					resp := "ERR unknown"
					switch {
					case strings.HasPrefix(cmd, "ENQUEUE "):
						nextID++
						id := fmt.Sprintf("item-%d", nextID)
						items = append(items, id)
						resp = "OK " + id
					case strings.HasPrefix(cmd, "DEQUEUE "):
						id := strings.TrimPrefix(cmd, "DEQUEUE ")
						for i, it := range items {
							if it == id {
								items = append(items[:i], items[i+1:]...)
								break
							}
						}
						resp = "OK"
					case cmd == "LIST":
						resp = "OK " + strings.Join(items, ",")
					case cmd == "CURRENT":
						if len(items) == 0 {
							resp = "OK NONE"
						} else {
							resp = "OK " + items[0]
						}
					case cmd == "CLEAR":
						items = nil
						resp = "OK"
					case cmd == "PLAY", cmd == "PAUSE", cmd == "RESUME":
						resp = "OK"
					}
					if _, err := c.Write([]byte(resp + "\n")); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func newTestController(t *testing.T) *Controller {
	t.Helper()
	userAddr := fakeQueueMixer(t)
	fallbackAddr := fakeQueueMixer(t)

	store := newTestStateStore(t)
	userSocket := mixerctl.NewQueueSocket(mixerctl.New(userAddr))
	fallbackSocket := mixerctl.NewQueueSocket(mixerctl.New(fallbackAddr))

	return New(store, nil, userSocket, fallbackSocket, Config{
		UploadDir:       t.TempDir(),
		MaxFileSize:     50 << 20,
		MaxSongDuration: 30 * time.Minute,
		DupWindow:       5,
	})
}

func testUserPrincipal(id string, maxQueue, maxAdd int) model.Principal {
	return model.Principal{
		ID:   id,
		Kind: model.PrincipalUser,
		Quotas: model.Quotas{
			MaxQueueSongs:  maxQueue,
			MaxAddRequests: maxAdd,
		},
	}
}

func TestNormalizeURLStripsTrackingParamsAndCase(t *testing.T) {
	a, err := NormalizeURL("HTTPS://Example.COM/song.mp3?utm_source=x&id=1")
	require.NoError(t, err)
	b, err := NormalizeURL("https://example.com/song.mp3?id=1")
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestNormalizeURLRejectsGarbage(t *testing.T) {
	_, err := NormalizeURL("not a url")
	assert.Error(t, err)
}

func TestFingerprintBytesIsDeterministic(t *testing.T) {
	a := FingerprintBytes([]byte("hello"))
	b := FingerprintBytes([]byte("hello"))
	c := FingerprintBytes([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAddUserSongRejectsNonUserPrincipal(t *testing.T) {
	ctrl := newTestController(t)
	admin := model.Principal{ID: "admin", Kind: model.PrincipalAdmin}

	_, err := ctrl.AddUserSong(context.Background(), AddUserSongInput{Principal: admin, URL: "https://example.com/a.mp3"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestAddUserSongQuotaExhausted(t *testing.T) {
	ctrl := newTestController(t)
	principal := testUserPrincipal("u1", 10, 0)

	_, err := ctrl.AddUserSong(context.Background(), AddUserSongInput{Principal: principal, URL: "https://example.com/a.mp3"})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "quota_exhausted", appErr.Message)
}

func TestAddUserSongQueueFull(t *testing.T) {
	ctrl := newTestController(t)
	principal := testUserPrincipal("u1", 0, 10)

	_, err := ctrl.AddUserSong(context.Background(), AddUserSongInput{Principal: principal, URL: "https://example.com/a.mp3"})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "queue_full", appErr.Message)
}

func TestAddUserSongRejectsBadInput(t *testing.T) {
	ctrl := newTestController(t)
	principal := testUserPrincipal("u1", 10, 10)

	_, err := ctrl.AddUserSong(context.Background(), AddUserSongInput{Principal: principal})
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadInput, apperr.KindOf(err))
}

type uploadFromDiskDownloader struct {
	path string
}

func (d uploadFromDiskDownloader) Download(ctx context.Context, url string) (string, error) {
	return d.path, nil
}

func TestAddUserSongViaURLAndDuplicateDetection(t *testing.T) {
	requireFFmpeg(t)
	ctrl := newTestController(t)
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "song.wav")
	generateSilentFile(t, audioPath, 1)

	ctrl.downloader = uploadFromDiskDownloader{path: audioPath}
	principal := testUserPrincipal("u1", 10, 10)
	ctx := context.Background()

	song, err := ctrl.AddUserSong(ctx, AddUserSongInput{Principal: principal, URL: "https://example.com/a.mp3"})
	require.NoError(t, err)
	assert.Equal(t, model.QueueUser, song.Queue)
	assert.NotEmpty(t, song.SongID)

	queued, err := ctrl.counter(ctx, quotaQueuedKey(principal.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	// Same URL again must be rejected as a duplicate, within the dup window.
	_, err = ctrl.AddUserSong(ctx, AddUserSongInput{Principal: principal, URL: "https://example.com/a.mp3"})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "duplicate", appErr.Message)
}

func TestAddUserSongTooLong(t *testing.T) {
	requireFFmpeg(t)
	ctrl := newTestController(t)
	ctrl.maxSongDuration = 2 * time.Second
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "song.wav")
	generateSilentFile(t, audioPath, 5)

	ctrl.downloader = uploadFromDiskDownloader{path: audioPath}
	principal := testUserPrincipal("u1", 10, 10)

	_, err := ctrl.AddUserSong(context.Background(), AddUserSongInput{Principal: principal, URL: "https://example.com/a.mp3"})
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "too_long", appErr.Message)

	// Rejection must leave no durable trace.
	queued, err := ctrl.counter(context.Background(), quotaQueuedKey(principal.ID))
	require.NoError(t, err)
	assert.Equal(t, 0, queued)
}

func TestDeleteUserSongRequiresOwnership(t *testing.T) {
	requireFFmpeg(t)
	ctrl := newTestController(t)
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "song.wav")
	generateSilentFile(t, audioPath, 1)

	ctrl.downloader = uploadFromDiskDownloader{path: audioPath}
	owner := testUserPrincipal("owner", 10, 10)
	ctx := context.Background()

	song, err := ctrl.AddUserSong(ctx, AddUserSongInput{Principal: owner, URL: "https://example.com/a.mp3"})
	require.NoError(t, err)

	stranger := testUserPrincipal("stranger", 10, 10)
	err = ctrl.DeleteUserSong(ctx, stranger, song.SongID)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, ctrl.DeleteUserSong(ctx, owner, song.SongID))

	queued, err := ctrl.counter(ctx, quotaQueuedKey(owner.ID))
	require.NoError(t, err)
	assert.Equal(t, 0, queued)

	lifetime, err := ctrl.counter(ctx, quotaLifetimeKey(owner.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, lifetime, "lifetime_add_count must not decrement on deletion")
}

func TestOnSongFinishedCleansUpUserQueueOnlyNotFallback(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()

	userSong := model.Song{SongID: "item-1", Queue: model.QueueUser, OwnerPrincipalID: "u1", FilePath: ""}
	require.NoError(t, ctrl.saveSongMeta(ctx, userSong))
	_, err := ctrl.store.Incr(ctx, quotaQueuedKey("u1"))
	require.NoError(t, err)

	fallbackSong := model.Song{SongID: "item-2", Queue: model.QueueFallback, FilePath: ""}
	require.NoError(t, ctrl.saveSongMeta(ctx, fallbackSong))

	ctrl.OnSongFinished(ctx, model.QueueUser, "item-1")
	_, ok, err := ctrl.loadSongMeta(ctx, "item-1")
	require.NoError(t, err)
	assert.False(t, ok, "user queue song meta must be removed after it finishes playing")

	queued, err := ctrl.counter(ctx, quotaQueuedKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, 0, queued)

	ctrl.OnSongFinished(ctx, model.QueueFallback, "item-2")
	_, ok, err = ctrl.loadSongMeta(ctx, "item-2")
	require.NoError(t, err)
	assert.True(t, ok, "fallback queue never cleans up after playback")
}

func TestAdminAddFallbackSongBypassesQuotas(t *testing.T) {
	requireFFmpeg(t)
	ctrl := newTestController(t)
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "song.wav")
	generateSilentFile(t, audioPath, 1)

	song, err := ctrl.AddFallbackSong(context.Background(), audioPath, "Interlude", "Station", "ambient")
	require.NoError(t, err)
	assert.Equal(t, model.QueueFallback, song.Queue)
	assert.Empty(t, song.OwnerPrincipalID)
}

func TestListRespectsLimit(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("item-%d", i+1)
		require.NoError(t, ctrl.saveSongMeta(ctx, model.Song{SongID: id, Queue: model.QueueFallback}))
	}
	// Seed the fake mixer's own queue state via direct enqueue calls so
	// List() has matching ids to resolve against the meta we just saved.
	sock := ctrl.sockets[model.QueueFallback]
	// The fake mixer assigns its own sequential ids starting at item-1,
	// matching the ids saved above since this is a fresh controller.
	_, _ = sock.Enqueue(ctx, "/dev/null")
	_, _ = sock.Enqueue(ctx, "/dev/null")
	_, _ = sock.Enqueue(ctx, "/dev/null")

	songs, err := ctrl.List(ctx, model.QueueFallback, 2)
	require.NoError(t, err)
	assert.Len(t, songs, 2)
}
