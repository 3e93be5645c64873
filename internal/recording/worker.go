// Package recording implements the Recording Worker: captures a livestream
// session's mixed output to disk, trims silence, discards sessions shorter
// than the holder's minimum, and indexes everything else in the Catalog
// Store.
package recording

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arung-agamani/denpa-relay/internal/catalog"
	"github.com/arung-agamani/denpa-relay/internal/eventbus"
	"github.com/arung-agamani/denpa-relay/internal/ffmpeg"
	"github.com/arung-agamani/denpa-relay/internal/mixerctl"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

// Silence-trim parameters. Fixed constants, per spec.md §6.
const (
	silenceThresholdDB   = -35.0
	minSilenceSeconds    = 0.5
	minRecordingFallback = 0 // a session with no min_recording_duration claim is never discarded for length
)

// Config bundles the worker's filesystem and mixer dependencies.
type Config struct {
	CaptureAddr   string
	WorkDir       string // scratch directory for in-progress captures
	RecordingsDir string // final destination for retained recordings
}

// Worker coordinates capture lifecycle by session_id.
type Worker struct {
	bus     *eventbus.Bus
	catalog *catalog.Store
	encoder *ffmpeg.Encoder
	cfg     Config

	mu       sync.Mutex
	sessions map[string]*capture
}

type capture struct {
	cancel               context.CancelFunc
	done                 chan struct{}
	tempPath             string
	startedAt            time.Time
	showID               string
	principalID          string
	minRecordingDuration int
}

// New constructs a Worker. encoder configures the OGG Vorbis output
// bitrate/sample-rate/channels, shared with the rest of the ffmpeg
// pipeline.
func New(bus *eventbus.Bus, catalogStore *catalog.Store, encoder *ffmpeg.Encoder, cfg Config) *Worker {
	return &Worker{
		bus:      bus,
		catalog:  catalogStore,
		encoder:  encoder,
		cfg:      cfg,
		sessions: make(map[string]*capture),
	}
}

// Run subscribes to livestream_started/livestream_ended and drives capture
// lifecycle until ctx is cancelled. ReapOrphans should be called once
// before Run, to clean up temp files left behind by a prior crash.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("recording: worker started")
	defer slog.Info("recording: worker stopped")

	started, cancelStarted := w.bus.Subscribe(ctx, model.EventLivestreamStarted)
	defer cancelStarted()
	ended, cancelEnded := w.bus.Subscribe(ctx, model.EventLivestreamEnded)
	defer cancelEnded()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-started:
			if !ok {
				return
			}
			w.onStarted(ctx, evt)
		case evt, ok := <-ended:
			if !ok {
				return
			}
			w.onEnded(context.Background(), evt)
		}
	}
}

func (w *Worker) onStarted(ctx context.Context, evt model.Event) {
	sessionID, _ := evt.Data["session_id"].(string)
	principalID, _ := evt.Data["principal_id"].(string)
	showID, _ := evt.Data["show_id"].(string)
	minRecordingDuration := intFromAny(evt.Data["min_recording_duration"])

	if sessionID == "" {
		slog.Warn("recording: livestream_started missing session_id, ignoring")
		return
	}

	if err := os.MkdirAll(w.cfg.WorkDir, 0o755); err != nil {
		slog.Error("recording: could not create work directory", "error", err)
		return
	}
	tempPath := filepath.Join(w.cfg.WorkDir, sessionID+".ogg")

	captureCtx, cancel := context.WithCancel(context.Background())
	c := &capture{
		cancel:               cancel,
		done:                 make(chan struct{}),
		tempPath:             tempPath,
		startedAt:            time.Now().UTC(),
		showID:               showID,
		principalID:          principalID,
		minRecordingDuration: minRecordingDuration,
	}

	w.mu.Lock()
	w.sessions[sessionID] = c
	w.mu.Unlock()

	go w.runCapture(captureCtx, sessionID, c)
}

func (w *Worker) runCapture(ctx context.Context, sessionID string, c *capture) {
	defer close(c.done)

	conn, err := mixerctl.DialCapture(ctx, w.cfg.CaptureAddr)
	if err != nil {
		slog.Error("recording: failed to dial capture socket", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	// CaptureToFile blocks until the connection is closed (disconnect) or
	// ctx is cancelled; an I/O error here aborts capture but must never
	// abort the live broadcast itself, so it's only logged.
	if err := w.encoder.CaptureToFile(ctx, conn, c.tempPath); err != nil {
		slog.Error("recording: capture failed", "session_id", sessionID, "error", err)
	}
}

func (w *Worker) onEnded(ctx context.Context, evt model.Event) {
	sessionID, _ := evt.Data["session_id"].(string)
	if sessionID == "" {
		return
	}

	w.mu.Lock()
	c, ok := w.sessions[sessionID]
	delete(w.sessions, sessionID)
	w.mu.Unlock()
	if !ok {
		slog.Warn("recording: livestream_ended for session with no active capture, ignoring", "session_id", sessionID)
		return
	}

	c.cancel()
	<-c.done

	w.finalize(ctx, sessionID, c)
}

func (w *Worker) finalize(ctx context.Context, sessionID string, c *capture) {
	if _, err := os.Stat(c.tempPath); err != nil {
		slog.Warn("recording: no capture file to finalize", "session_id", sessionID, "error", err)
		return
	}

	duration, err := ffmpeg.Probe(ctx, c.tempPath)
	if err != nil {
		slog.Error("recording: failed to probe captured file", "session_id", sessionID, "error", err)
		_ = os.Remove(c.tempPath)
		return
	}

	if int(duration) < c.minRecordingDuration {
		slog.Info("recording: discarding session shorter than minimum", "session_id", sessionID,
			"duration_seconds", duration, "min_recording_duration", c.minRecordingDuration)
		_ = os.Remove(c.tempPath)
		return
	}

	trimmedPath := c.tempPath + ".trimmed.ogg"
	if err := w.encoder.TrimSilence(ctx, c.tempPath, trimmedPath, silenceThresholdDB, minSilenceSeconds); err != nil {
		slog.Error("recording: silence trim failed, keeping untrimmed capture", "session_id", sessionID, "error", err)
		trimmedPath = c.tempPath
	} else {
		_ = os.Remove(c.tempPath)
	}

	finalDuration, err := ffmpeg.Probe(ctx, trimmedPath)
	if err != nil {
		slog.Error("recording: failed to re-probe trimmed file", "session_id", sessionID, "error", err)
		finalDuration = duration
	}

	title, artist, genre, description := bestEffortTags(trimmedPath)

	id := uuid.NewString()
	if err := os.MkdirAll(w.cfg.RecordingsDir, 0o755); err != nil {
		slog.Error("recording: could not create recordings directory", "error", err)
		_ = os.Remove(trimmedPath)
		return
	}
	finalPath := filepath.Join(w.cfg.RecordingsDir, id+".ogg")
	if err := os.Rename(trimmedPath, finalPath); err != nil {
		slog.Error("recording: failed to move recording into place", "session_id", sessionID, "error", err)
		_ = os.Remove(trimmedPath)
		return
	}

	rec := model.Recording{
		ID:              id,
		ShowID:          c.showID,
		SessionID:       sessionID,
		CreatedAt:       c.startedAt,
		Title:           title,
		Artist:          artist,
		Genre:           genre,
		Description:     description,
		FilePath:        finalPath,
		DurationSeconds: int(finalDuration),
	}
	if _, err := w.catalog.CreateRecording(ctx, rec); err != nil {
		slog.Error("recording: failed to persist recording row, orphaning file", "session_id", sessionID, "error", err)
		return
	}

	slog.Info("recording: session retained", "session_id", sessionID, "recording_id", id, "duration_seconds", int(finalDuration))
}

// ReapOrphans removes temp-capture files left in WorkDir by a prior crash
// between a capture finishing and its Recording row being persisted —
// per spec.md §4.H, a crash in that window must not leave a phantom row,
// only an orphaned temp file, and that file is reaped here on startup.
func (w *Worker) ReapOrphans() {
	entries, err := os.ReadDir(w.cfg.WorkDir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("recording: failed to scan work directory for orphans", "error", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.WorkDir, entry.Name())
		if err := os.Remove(path); err != nil {
			slog.Warn("recording: failed to reap orphaned capture file", "path", path, "error", err)
		} else {
			slog.Info("recording: reaped orphaned capture file", "path", path)
		}
	}
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return minRecordingFallback
	}
}
