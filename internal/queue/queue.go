// Package queue implements the Queue Controller: admission of media into
// the user queue and the admin-fed fallback queue, quota enforcement,
// duplicate prevention, and the control operations (list, clear,
// play/pause/resume) that drive the mixer's two queue sockets.
//
// Song metadata is not part of the Catalog Store's schema (it's ephemeral
// playback state, not archival data), so it lives in the State Store,
// keyed by the mixer-assigned item id returned from ENQUEUE. Using that id
// as the song_id avoids a second id space and a mapping table between the
// two.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arung-agamani/denpa-relay/internal/apperr"
	"github.com/arung-agamani/denpa-relay/internal/ffmpeg"
	"github.com/arung-agamani/denpa-relay/internal/mixerctl"
	"github.com/arung-agamani/denpa-relay/internal/model"
	"github.com/arung-agamani/denpa-relay/internal/statestore"
)

// Downloader fetches a URL to a local file and returns its path. It is the
// external media-downloader collaborator; the Controller calls it
// synchronously and blocks on its result during user-queue admission.
type Downloader interface {
	Download(ctx context.Context, url string) (filePath string, err error)
}

// Controller is the Queue Controller. One Controller instance drives both
// the user queue and the fallback queue, since the preconditions and
// bookkeeping differ but the underlying mixer protocol does not.
type Controller struct {
	store      statestore.Store
	downloader Downloader
	sockets    map[model.QueueName]*mixerctl.QueueSocket

	uploadDir       string
	maxFileSize     int64
	maxSongDuration time.Duration
	dupWindow       int
}

// Config bundles the tunables the Controller needs beyond its collaborators.
type Config struct {
	UploadDir       string
	MaxFileSize     int64
	MaxSongDuration time.Duration
	DupWindow       int
}

// New constructs a Controller.
func New(store statestore.Store, downloader Downloader, userQueue, fallbackQueue *mixerctl.QueueSocket, cfg Config) *Controller {
	return &Controller{
		store:      store,
		downloader: downloader,
		sockets: map[model.QueueName]*mixerctl.QueueSocket{
			model.QueueUser:     userQueue,
			model.QueueFallback: fallbackQueue,
		},
		uploadDir:       cfg.UploadDir,
		maxFileSize:     cfg.MaxFileSize,
		maxSongDuration: cfg.MaxSongDuration,
		dupWindow:       cfg.DupWindow,
	}
}

func quotaQueuedKey(principalID string) string {
	return "queue:quota:queued_count:" + principalID
}

func quotaLifetimeKey(principalID string) string {
	return "queue:quota:lifetime_add_count:" + principalID
}

func songMetaKey(songID string) string {
	return "queue:song:" + songID
}

func (c *Controller) counter(ctx context.Context, key string) (int, error) {
	val, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	var n int
	if _, err := fmt.Sscanf(val, "%d", &n); err != nil {
		return 0, nil
	}
	return n, nil
}

func (c *Controller) saveSongMeta(ctx context.Context, song model.Song) error {
	payload, err := json.Marshal(song)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, songMetaKey(song.SongID), string(payload), 0)
}

func (c *Controller) loadSongMeta(ctx context.Context, songID string) (model.Song, bool, error) {
	val, ok, err := c.store.Get(ctx, songMetaKey(songID))
	if err != nil || !ok {
		return model.Song{}, ok, err
	}
	var song model.Song
	if err := json.Unmarshal([]byte(val), &song); err != nil {
		return model.Song{}, false, err
	}
	return song, true, nil
}

func (c *Controller) deleteSongMeta(ctx context.Context, songID string) error {
	return c.store.Del(ctx, songMetaKey(songID))
}

// AddUserSongInput carries the admission request for the user queue.
// At least one of URL or FileBytes must be set; when both are, URL is used
// and FileBytes is ignored.
type AddUserSongInput struct {
	Principal model.Principal
	URL       string
	FileName  string
	FileBytes []byte
	SongName  string
	Artist    string
}

// AddUserSong runs the full ordered precondition chain from the user-queue
// admission flow and, on success, enqueues the song on the mixer's user
// queue socket. Any failure aborts the operation and leaves no durable
// trace: a downloaded or uploaded file is removed, and no counters are
// incremented.
func (c *Controller) AddUserSong(ctx context.Context, in AddUserSongInput) (model.Song, error) {
	if in.Principal.Kind != model.PrincipalUser {
		return model.Song{}, apperr.New(apperr.KindForbidden, "only user principals may add to the user queue")
	}

	lifetimeKey := quotaLifetimeKey(in.Principal.ID)
	queuedKey := quotaQueuedKey(in.Principal.ID)

	lifetimeCount, err := c.counter(ctx, lifetimeKey)
	if err != nil {
		return model.Song{}, apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err)
	}
	if lifetimeCount >= in.Principal.Quotas.MaxAddRequests {
		return model.Song{}, apperr.QuotaExhausted()
	}

	queuedCount, err := c.counter(ctx, queuedKey)
	if err != nil {
		return model.Song{}, apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err)
	}
	if queuedCount >= in.Principal.Quotas.MaxQueueSongs {
		return model.Song{}, apperr.QueueFull()
	}

	filePath, fingerprint, cleanup, err := c.acquireFile(ctx, in)
	if err != nil {
		return model.Song{}, err
	}

	duration, err := ffmpeg.Probe(ctx, filePath)
	if err != nil {
		cleanup()
		return model.Song{}, apperr.Wrap(apperr.KindBadInput, "could not determine song duration", err)
	}
	if time.Duration(duration*float64(time.Second)) > c.maxSongDuration {
		cleanup()
		return model.Song{}, apperr.TooLong()
	}

	if err := c.checkDuplicate(ctx, fingerprint); err != nil {
		cleanup()
		return model.Song{}, err
	}

	title, artist := in.SongName, in.Artist
	var genre string
	if title == "" || artist == "" {
		bestTitle, bestArtist, bestGenre := bestEffortMetadata(filePath)
		if title == "" {
			title = bestTitle
		}
		if artist == "" {
			artist = bestArtist
		}
		genre = bestGenre
	}

	itemID, err := c.sockets[model.QueueUser].Enqueue(ctx, filePath)
	if err != nil {
		cleanup()
		return model.Song{}, apperr.Wrap(apperr.KindTemporarilyUnavailable, "mixer rejected song", err)
	}

	song := model.Song{
		SongID:           itemID,
		Queue:            model.QueueUser,
		OwnerPrincipalID: in.Principal.ID,
		FilePath:         filePath,
		Title:            title,
		Artist:           artist,
		Genre:            genre,
		DurationSeconds:  int(duration),
		Fingerprint:      fingerprint,
		CreatedAt:        time.Now().UTC(),
	}

	// The remaining steps (metadata persist, two counter increments) form
	// the insert's "same logical transaction": any failure here rolls back
	// the mixer enqueue and removes the file, same as a precondition
	// failure earlier in the chain.
	if err := c.saveSongMeta(ctx, song); err != nil {
		c.rollbackEnqueue(ctx, itemID, cleanup)
		return model.Song{}, apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err)
	}
	if _, err := c.store.Incr(ctx, queuedKey); err != nil {
		_ = c.deleteSongMeta(ctx, itemID)
		c.rollbackEnqueue(ctx, itemID, cleanup)
		return model.Song{}, apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err)
	}
	if _, err := c.store.Incr(ctx, lifetimeKey); err != nil {
		_, _ = c.store.Decr(ctx, queuedKey)
		_ = c.deleteSongMeta(ctx, itemID)
		c.rollbackEnqueue(ctx, itemID, cleanup)
		return model.Song{}, apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err)
	}

	return song, nil
}

func (c *Controller) rollbackEnqueue(ctx context.Context, itemID string, cleanupFile func()) {
	_ = c.sockets[model.QueueUser].Dequeue(ctx, itemID)
	cleanupFile()
}

// acquireFile resolves the submitted URL or file bytes into a local file
// path and its fingerprint. The returned cleanup func removes the file;
// callers must invoke it on any later failure.
func (c *Controller) acquireFile(ctx context.Context, in AddUserSongInput) (path, fingerprint string, cleanup func(), err error) {
	switch {
	case in.URL != "":
		normalized, nerr := NormalizeURL(in.URL)
		if nerr != nil {
			return "", "", func() {}, apperr.BadInput("invalid url")
		}
		fp := FingerprintString(normalized)

		downloaded, derr := c.downloader.Download(ctx, in.URL)
		if derr != nil {
			return "", "", func() {}, apperr.Wrap(apperr.KindTemporarilyUnavailable, "download failed", derr)
		}
		return downloaded, fp, func() { _ = os.Remove(downloaded) }, nil

	case len(in.FileBytes) > 0:
		if int64(len(in.FileBytes)) > c.maxFileSize {
			return "", "", func() {}, apperr.New(apperr.KindBadInput, "file exceeds max_file_size")
		}
		fp := FingerprintBytes(in.FileBytes)

		dest, werr := c.writeUpload(in.FileName, in.FileBytes)
		if werr != nil {
			return "", "", func() {}, apperr.Wrap(apperr.KindInternal, "failed to persist upload", werr)
		}
		return dest, fp, func() { _ = os.Remove(dest) }, nil

	default:
		return "", "", func() {}, apperr.New(apperr.KindBadInput, "one of url or file is required")
	}
}

func (c *Controller) writeUpload(fileName string, data []byte) (string, error) {
	if err := os.MkdirAll(c.uploadDir, 0o755); err != nil {
		return "", err
	}
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", err
	}
	name := hex.EncodeToString(suffix[:]) + "-" + filepath.Base(fileName)
	dest := filepath.Join(c.uploadDir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

// checkDuplicate rejects fingerprint if it matches any song currently
// occupying the next dupWindow positions of the user queue.
func (c *Controller) checkDuplicate(ctx context.Context, fingerprint string) error {
	ids, err := c.sockets[model.QueueUser].List(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindTemporarilyUnavailable, "mixer unavailable", err)
	}

	window := c.dupWindow
	if window > len(ids) {
		window = len(ids)
	}
	for _, id := range ids[:window] {
		song, ok, err := c.loadSongMeta(ctx, id)
		if err != nil || !ok {
			continue
		}
		if song.Fingerprint == fingerprint {
			return apperr.Duplicate()
		}
	}
	return nil
}

// DeleteUserSong removes a song from the user queue. The caller's
// principal must own the song. lifetime_add_count is never touched.
func (c *Controller) DeleteUserSong(ctx context.Context, principal model.Principal, songID string) error {
	song, ok, err := c.loadSongMeta(ctx, songID)
	if err != nil {
		return apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err)
	}
	if !ok {
		return apperr.New(apperr.KindNotFound, "song not found")
	}
	if song.OwnerPrincipalID != principal.ID {
		return apperr.New(apperr.KindForbidden, "song is not owned by this principal")
	}

	if err := c.sockets[model.QueueUser].Dequeue(ctx, songID); err != nil {
		return apperr.Wrap(apperr.KindTemporarilyUnavailable, "mixer unavailable", err)
	}
	_ = c.deleteSongMeta(ctx, songID)
	_, _ = c.store.Decr(ctx, quotaQueuedKey(principal.ID))
	_ = os.Remove(song.FilePath)
	return nil
}

// AdminDeleteSong removes a song from the named queue without an
// ownership check. If it came from the user queue and carries an owner,
// their queued_count is refunded the same as a self-service delete;
// lifetime_add_count is never touched either way.
func (c *Controller) AdminDeleteSong(ctx context.Context, q model.QueueName, songID string) error {
	song, ok, err := c.loadSongMeta(ctx, songID)
	if err != nil {
		return apperr.Wrap(apperr.KindTemporarilyUnavailable, "state store unavailable", err)
	}
	if !ok {
		return apperr.New(apperr.KindNotFound, "song not found")
	}

	if err := c.sockets[q].Dequeue(ctx, songID); err != nil {
		return apperr.Wrap(apperr.KindTemporarilyUnavailable, "mixer unavailable", err)
	}
	_ = c.deleteSongMeta(ctx, songID)
	if q == model.QueueUser && song.OwnerPrincipalID != "" {
		_, _ = c.store.Decr(ctx, quotaQueuedKey(song.OwnerPrincipalID))
	}
	_ = os.Remove(song.FilePath)
	return nil
}

// AddFallbackSong is the admin-only bypass onto the fallback queue: no
// preconditions, no quota bookkeeping. Kept as a thin alias of
// AddAdminSong for existing callers.
func (c *Controller) AddFallbackSong(ctx context.Context, filePath, title, artist, genre string) (model.Song, error) {
	return c.AddAdminSong(ctx, model.QueueFallback, filePath, title, artist, genre)
}

// AddAdminSong is the admin-only bypass onto either queue: no
// preconditions, no quota bookkeeping. An admin-admitted song carries no
// owner: once it finishes playing on the user queue, OnSongFinished still
// removes its metadata and file but refunds no quota; on the fallback
// queue it is never cleaned up after playback.
func (c *Controller) AddAdminSong(ctx context.Context, q model.QueueName, filePath, title, artist, genre string) (model.Song, error) {
	duration, err := ffmpeg.Probe(ctx, filePath)
	if err != nil {
		return model.Song{}, apperr.Wrap(apperr.KindBadInput, "could not determine song duration", err)
	}

	itemID, err := c.sockets[q].Enqueue(ctx, filePath)
	if err != nil {
		return model.Song{}, apperr.Wrap(apperr.KindTemporarilyUnavailable, "mixer rejected song", err)
	}

	song := model.Song{
		SongID:          itemID,
		Queue:           q,
		FilePath:        filePath,
		Title:           title,
		Artist:          artist,
		Genre:           genre,
		DurationSeconds: int(duration),
		CreatedAt:       time.Now().UTC(),
	}
	_ = c.saveSongMeta(ctx, song)
	return song, nil
}

// List returns the songs currently queued, in play order. limit <= 0 means
// unbounded (admin-only per the Control API's own enforcement of the
// public limit <= 20 rule).
func (c *Controller) List(ctx context.Context, queue model.QueueName, limit int) ([]model.Song, error) {
	ids, err := c.sockets[queue].List(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTemporarilyUnavailable, "mixer unavailable", err)
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}

	songs := make([]model.Song, 0, len(ids))
	for _, id := range ids {
		song, ok, err := c.loadSongMeta(ctx, id)
		if err != nil || !ok {
			continue
		}
		songs = append(songs, song)
	}
	return songs, nil
}

// Clear empties a queue. Admin-only, enforced by the Control API.
func (c *Controller) Clear(ctx context.Context, queue model.QueueName) error {
	return c.sockets[queue].Clear(ctx)
}

// Play, Pause, Resume map directly onto the corresponding mixer command.
func (c *Controller) Play(ctx context.Context, queue model.QueueName) error {
	return c.sockets[queue].Play(ctx)
}

func (c *Controller) Pause(ctx context.Context, queue model.QueueName) error {
	return c.sockets[queue].Pause(ctx)
}

func (c *Controller) Resume(ctx context.Context, queue model.QueueName) error {
	return c.sockets[queue].Resume(ctx)
}

// Playing reports whether queue is actively playing, for the Source
// Observer's "user_queue.playing" check.
func (c *Controller) Playing(ctx context.Context, queue model.QueueName) (bool, error) {
	playing, err := c.sockets[queue].Playing(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.KindTemporarilyUnavailable, "mixer unavailable", err)
	}
	return playing, nil
}

// Current returns the song currently playing on queue, if any.
func (c *Controller) Current(ctx context.Context, queue model.QueueName) (model.Song, bool, error) {
	id, err := c.sockets[queue].Current(ctx)
	if err != nil {
		return model.Song{}, false, apperr.Wrap(apperr.KindTemporarilyUnavailable, "mixer unavailable", err)
	}
	if id == "" {
		return model.Song{}, false, nil
	}
	return c.loadSongMeta(ctx, id)
}

// OnSongFinished is called by the Source Observer when a song_changed
// transition moves playback away from songID. Only the user queue cleans
// up after playback: its file is removed from storage and the owner's
// queued_count is decremented. The fallback queue never cleans up.
func (c *Controller) OnSongFinished(ctx context.Context, queue model.QueueName, songID string) {
	if queue != model.QueueUser {
		return
	}
	song, ok, err := c.loadSongMeta(ctx, songID)
	if err != nil || !ok {
		// Race between Queue Controller cleanup and Source Observer poll:
		// the song is already gone. Not an error.
		return
	}
	_ = c.deleteSongMeta(ctx, songID)
	if song.OwnerPrincipalID != "" {
		_, _ = c.store.Decr(ctx, quotaQueuedKey(song.OwnerPrincipalID))
	}
	_ = os.Remove(song.FilePath)
}
