// Package observer implements the Source Observer: every POLL_INTERVAL it
// derives which of the three playback sources is currently audible,
// emitting queue_switched and song_changed events on transitions only.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arung-agamani/denpa-relay/internal/eventbus"
	"github.com/arung-agamani/denpa-relay/internal/model"
	"github.com/arung-agamani/denpa-relay/internal/queue"
	"github.com/arung-agamani/denpa-relay/internal/statestore"
)

// SlotChecker reports the Livestream Arbiter's current slot occupancy.
// internal/arbiter.Arbiter satisfies this; Observer depends on the
// narrower interface rather than the concrete type, the same
// poll-a-uniform-interface style as darthnorse-streammon's poller
// depends on media.MediaServer rather than a concrete server type.
type SlotChecker interface {
	CurrentSlot(ctx context.Context) (sessionID string, occupied bool, err error)
}

// LiveMetadataProvider is an optional capability a SlotChecker may also
// implement to supply display metadata for the livestream source.
// internal/arbiter.Arbiter implements it; Observer type-asserts for it
// rather than widening SlotChecker, so a minimal fake satisfying only
// CurrentSlot remains valid in tests.
type LiveMetadataProvider interface {
	LiveMetadata(ctx context.Context) (metadata map[string]any, ok bool, err error)
}

// Observer runs the periodic poll loop. Only one replica enforces event
// emission at a time (coordinated by a State Store lease); any replica
// may still answer NowPlaying on demand, since that just reads live
// socket state rather than mutating transition tracking.
type Observer struct {
	queues *queue.Controller
	slot   SlotChecker
	bus    *eventbus.Bus
	lease  *statestore.Lease

	interval time.Duration

	initialized    bool
	lastSource     model.Source
	lastIdentity   string
	lastUserSongID string
}

// New constructs an Observer. holder identifies this process for lease
// ownership.
func New(queues *queue.Controller, slot SlotChecker, bus *eventbus.Bus, store statestore.Store, holder string, interval time.Duration) *Observer {
	lease := statestore.NewLease(store, "observer:lease", holder, interval*5)
	return &Observer{queues: queues, slot: slot, bus: bus, lease: lease, interval: interval}
}

// Run blocks until ctx is cancelled, polling every interval.
func (o *Observer) Run(ctx context.Context) {
	slog.Info("observer: started", "interval", o.interval)
	defer slog.Info("observer: stopped")

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = o.lease.Release(context.Background())
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Observer) tick(ctx context.Context) {
	held, err := o.lease.TryAcquire(ctx)
	if err != nil {
		slog.Error("observer: lease acquisition failed", "error", err)
		return
	}
	if !held {
		return
	}

	snap, err := o.derive(ctx)
	if err != nil {
		slog.Error("observer: failed to derive now-playing state", "error", err)
		return
	}

	if o.initialized && o.lastSource != snap.source {
		o.bus.Publish(ctx, model.Event{
			EventType:   model.EventQueueSwitched,
			Timestamp:   time.Now().UTC(),
			Description: "playback source switched",
			Data: map[string]any{
				"from": string(o.lastSource),
				"to":   string(snap.source),
			},
		})
	}

	transitioned := o.lastSource != snap.source || o.lastIdentity != snap.identity

	if o.initialized && transitioned {
		o.bus.Publish(ctx, model.Event{
			EventType:   model.EventSongChanged,
			Timestamp:   time.Now().UTC(),
			Description: "now playing changed",
			Data: map[string]any{
				"source":   string(snap.source),
				"metadata": snap.metadata,
			},
		})
	}

	// A user-queue song that was audible last tick and no longer is (the
	// source moved on, or the same source advanced to a different song) has
	// finished playing: the Queue Controller owns deleting its metadata and
	// refunding the owner's queued_count, per spec.md's "Queue Controller
	// deletes it when the mixer reports the song ended" mechanic.
	if o.initialized && transitioned && o.lastSource == model.SourceUser && o.lastUserSongID != "" {
		o.queues.OnSongFinished(ctx, model.QueueUser, o.lastUserSongID)
	}

	o.initialized = true
	o.lastSource = snap.source
	o.lastIdentity = snap.identity
	o.lastUserSongID = snap.userSongID
}

// NowPlaying recomputes the current derived projection on demand, for the
// Control API's now-playing endpoint. It is not persisted.
func (o *Observer) NowPlaying(ctx context.Context) (model.NowPlaying, error) {
	snap, err := o.derive(ctx)
	if err != nil {
		return model.NowPlaying{}, err
	}
	return model.NowPlaying{Source: snap.source, Metadata: snap.metadata}, nil
}

// snapshot is one poll's derived state: the audible source, its display
// metadata, and an identity string used only to detect transitions.
// Identity for a queue source is (song_id, file_path); for livestream
// it's the session_id plus the last-seen live metadata tuple (title,
// artist, genre, description), so a metadata change within one session
// counts as a song change.
type snapshot struct {
	source   model.Source
	metadata map[string]any
	identity string
	// userSongID is the user queue's song_id when source is
	// model.SourceUser, empty otherwise — carried alongside identity so
	// tick can tell the Queue Controller exactly which song to clean up
	// once playback has moved away from it.
	userSongID string
}

func (o *Observer) derive(ctx context.Context) (snapshot, error) {
	sessionID, occupied, err := o.slot.CurrentSlot(ctx)
	if err != nil {
		slog.Warn("observer: arbiter slot check failed, treating as unoccupied", "error", err)
		occupied = false
	}

	if occupied {
		metadata := o.liveMetadata(ctx)
		return snapshot{
			source:   model.SourceLivestream,
			metadata: metadata,
			identity: fmt.Sprintf("livestream:%s:%v:%v:%v:%v", sessionID,
				metadata["title"], metadata["artist"], metadata["genre"], metadata["description"]),
		}, nil
	}

	userPlaying, userSong, err := o.queuePlayback(ctx, model.QueueUser)
	if err != nil {
		slog.Warn("observer: user queue unavailable, treating as silent", "error", err)
	}
	if userPlaying {
		return snapshot{
			source:     model.SourceUser,
			metadata:   songMetadata(userSong),
			identity:   "user:" + userSong.SongID + ":" + userSong.FilePath,
			userSongID: userSong.SongID,
		}, nil
	}

	_, fallbackSong, err := o.queuePlayback(ctx, model.QueueFallback)
	if err != nil {
		slog.Warn("observer: fallback queue unavailable, treating as silent", "error", err)
	}
	return snapshot{
		source:   model.SourceFallback,
		metadata: songMetadata(fallbackSong),
		identity: "fallback:" + fallbackSong.SongID + ":" + fallbackSong.FilePath,
	}, nil
}

// queuePlayback tolerates socket unavailability by reporting not-playing
// rather than propagating the error up as fatal; the caller logs it.
func (o *Observer) queuePlayback(ctx context.Context, q model.QueueName) (playing bool, song model.Song, err error) {
	playing, playErr := o.queues.Playing(ctx, q)
	if playErr != nil {
		return false, model.Song{}, playErr
	}
	if !playing {
		return false, model.Song{}, nil
	}
	song, _, curErr := o.queues.Current(ctx, q)
	if curErr != nil {
		return false, model.Song{}, curErr
	}
	return true, song, nil
}

func (o *Observer) liveMetadata(ctx context.Context) map[string]any {
	provider, ok := o.slot.(LiveMetadataProvider)
	if !ok {
		return emptyMetadata()
	}
	metadata, present, err := provider.LiveMetadata(ctx)
	if err != nil {
		slog.Warn("observer: live metadata lookup failed", "error", err)
		return emptyMetadata()
	}
	if !present {
		return emptyMetadata()
	}
	return metadata
}

func songMetadata(song model.Song) map[string]any {
	if song.SongID == "" {
		return emptyMetadata()
	}
	return map[string]any{
		"title":  song.Title,
		"artist": song.Artist,
		"genre":  song.Genre,
	}
}

func emptyMetadata() map[string]any {
	return map[string]any{"title": nil, "artist": nil, "genre": nil}
}
