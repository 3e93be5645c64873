// Package arbiter implements the Livestream Arbiter: single-slot session
// reservation, connect/disconnect lifecycle callbacks, cumulative
// streaming-time ledgers, and a watchdog that force-disconnects a session
// once it exceeds its principal's max_streaming_seconds.
package arbiter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arung-agamani/denpa-relay/internal/auth"
	"github.com/arung-agamani/denpa-relay/internal/eventbus"
	"github.com/arung-agamani/denpa-relay/internal/mixerctl"
	"github.com/arung-agamani/denpa-relay/internal/model"
	"github.com/arung-agamani/denpa-relay/internal/statestore"
)

const (
	slotKey       = "arbiter:slot"
	ledgerTTL     = 30 * 24 * time.Hour
	sessionKeyTTL = 24 * time.Hour
)

func sessionKey(sessionID string) string { return "arbiter:session:" + sessionID }
func startedKey(sessionID string) string { return "arbiter:started:" + sessionID }
func endedKey(sessionID string) string   { return "arbiter:ended:" + sessionID }
func ledgerKey(principalID string) string { return "arbiter:ledger:" + principalID }

const liveMetadataKey = "arbiter:livemeta"

// sessionInfo is the per-session detail kept independent of slot
// occupancy, so Disconnect can compute elapsed time even if the slot was
// already released by a racing watchdog disconnect.
type sessionInfo struct {
	HolderPrincipalID    string    `json:"holder_principal_id"`
	ShowID               string    `json:"show_id,omitempty"`
	ConnectedAt          time.Time `json:"connected_at"`
	MaxStreamingSeconds  int       `json:"max_streaming_seconds"`
	MinRecordingDuration int       `json:"min_recording_duration"`
}

// Arbiter coordinates the single global livestream slot.
type Arbiter struct {
	store   statestore.Store
	bus     *eventbus.Bus
	issuer  *auth.Issuer
	control *mixerctl.ControlSocket
	slotTTL time.Duration
}

// New constructs an Arbiter. slotTTL is a crash-safety backstop on the
// slot reservation itself (released explicitly on disconnect well before
// this normally matters).
func New(store statestore.Store, bus *eventbus.Bus, issuer *auth.Issuer, control *mixerctl.ControlSocket, slotTTL time.Duration) *Arbiter {
	return &Arbiter{store: store, bus: bus, issuer: issuer, control: control, slotTTL: slotTTL}
}

// Auth verifies a livestream bearer token (signature, expiry, type) and
// atomically attempts to claim the single global slot. Returns the claimed
// slot (carrying the assigned session_id) and true on success; false (no
// error) on any
// rejection — a bad token and a token for an already-occupied slot are
// both ordinary negative outcomes, not failures of the Arbiter itself.
// Invariant: two concurrent calls can never both return true.
func (a *Arbiter) Auth(ctx context.Context, bearerToken string) (model.LivestreamSlot, bool, error) {
	claims, err := a.issuer.ParseLivestreamToken(bearerToken)
	if err != nil {
		return model.LivestreamSlot{}, false, nil
	}

	sessionID := uuid.NewString()
	acquired, err := a.store.SetIfAbsent(ctx, slotKey, sessionID, a.slotTTL)
	if err != nil {
		return model.LivestreamSlot{}, false, err
	}
	if !acquired {
		return model.LivestreamSlot{}, false, nil
	}

	now := time.Now().UTC()
	info := sessionInfo{
		HolderPrincipalID:    claims.UserID,
		ShowID:               claims.ShowName,
		ConnectedAt:          now,
		MaxStreamingSeconds:  claims.MaxStreamingSeconds,
		MinRecordingDuration: claims.MinRecordingDuration,
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return model.LivestreamSlot{}, false, err
	}
	if err := a.store.Set(ctx, sessionKey(sessionID), string(payload), sessionKeyTTL); err != nil {
		return model.LivestreamSlot{}, false, err
	}

	return model.LivestreamSlot{
		Occupied:          true,
		HolderPrincipalID: claims.UserID,
		SessionID:         sessionID,
		ConnectedAt:       now,
	}, true, nil
}

func (a *Arbiter) loadSession(ctx context.Context, sessionID string) (sessionInfo, bool, error) {
	val, ok, err := a.store.Get(ctx, sessionKey(sessionID))
	if err != nil || !ok {
		return sessionInfo{}, ok, err
	}
	var info sessionInfo
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		return sessionInfo{}, false, err
	}
	return info, true, nil
}

// Connect is the idempotent confirmation that a reserved session is live.
// A connect arriving for a session that was never (or no longer) reserved
// via Auth is out-of-order and is silently ignored, per spec. Repeat
// calls for the same session publish livestream_started at most once.
func (a *Arbiter) Connect(ctx context.Context, sessionID string) error {
	info, ok, err := a.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		slog.Warn("arbiter: connect for unknown or expired session, ignoring", "session_id", sessionID)
		return nil
	}

	fresh, err := a.store.SetIfAbsent(ctx, startedKey(sessionID), "1", ledgerTTL)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	a.bus.Publish(ctx, model.Event{
		EventType:   model.EventLivestreamStarted,
		Timestamp:   time.Now().UTC(),
		Description: "livestream session started",
		Data: map[string]any{
			"principal_id":           info.HolderPrincipalID,
			"session_id":             sessionID,
			"show_id":                info.ShowID,
			"min_recording_duration": info.MinRecordingDuration,
		},
	})
	return nil
}

// DisconnectReason enumerates why a session ended.
type DisconnectReason string

const (
	DisconnectClient DisconnectReason = "client"
	DisconnectLimit  DisconnectReason = "limit"
	DisconnectAdmin  DisconnectReason = "admin"
)

// Disconnect releases the slot (if still held by this session), folds
// elapsed connected time into the holder's time ledger exactly once, and
// publishes livestream_ended. Safe to call more than once for the same
// session (the watchdog's forced disconnect and the mixer's own
// disconnect callback may both fire); only the first call has any effect.
func (a *Arbiter) Disconnect(ctx context.Context, sessionID string, reason DisconnectReason) error {
	first, err := a.store.SetIfAbsent(ctx, endedKey(sessionID), "1", ledgerTTL)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	info, hadSession, err := a.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}

	// Release the slot only if it's still held by this exact session —
	// a newer session may already have claimed it.
	if val, present, err := a.store.Get(ctx, slotKey); err == nil && present && val == sessionID {
		_ = a.store.Del(ctx, slotKey)
		_ = a.store.Del(ctx, liveMetadataKey)
	}
	_ = a.store.Del(ctx, sessionKey(sessionID))

	var elapsedSeconds int
	if hadSession {
		elapsedSeconds = int(time.Since(info.ConnectedAt).Seconds())
		if err := a.accumulate(ctx, info.HolderPrincipalID, elapsedSeconds); err != nil {
			slog.Error("arbiter: failed to update time ledger", "principal_id", info.HolderPrincipalID, "error", err)
		}
	}

	a.bus.Publish(ctx, model.Event{
		EventType:   model.EventLivestreamEnded,
		Timestamp:   time.Now().UTC(),
		Description: "livestream session ended",
		Data: map[string]any{
			"principal_id":     info.HolderPrincipalID,
			"session_id":       sessionID,
			"duration_seconds": elapsedSeconds,
			"reason":           string(reason),
		},
	})
	return nil
}

func (a *Arbiter) loadLedger(ctx context.Context, principalID string) (model.LivestreamTimeLedger, error) {
	val, ok, err := a.store.Get(ctx, ledgerKey(principalID))
	if err != nil {
		return model.LivestreamTimeLedger{}, err
	}
	if !ok {
		return model.LivestreamTimeLedger{PrincipalID: principalID}, nil
	}
	var ledger model.LivestreamTimeLedger
	if err := json.Unmarshal([]byte(val), &ledger); err != nil {
		return model.LivestreamTimeLedger{}, err
	}
	return ledger, nil
}

func (a *Arbiter) accumulate(ctx context.Context, principalID string, elapsedSeconds int) error {
	ledger, err := a.loadLedger(ctx, principalID)
	if err != nil {
		return err
	}
	if ledger.FirstUseAt.IsZero() {
		ledger.FirstUseAt = time.Now().UTC()
	}
	ledger.AccumulatedSeconds += elapsedSeconds
	payload, err := json.Marshal(ledger)
	if err != nil {
		return err
	}
	return a.store.Set(ctx, ledgerKey(principalID), string(payload), ledgerTTL)
}

// CurrentSlot reports whether the slot is occupied and, if so, by which
// session.
func (a *Arbiter) CurrentSlot(ctx context.Context) (sessionID string, occupied bool, err error) {
	val, ok, err := a.store.Get(ctx, slotKey)
	if err != nil {
		return "", false, err
	}
	return val, ok, nil
}

// SetLiveMetadata records the current broadcast's display metadata, as
// pushed by the mixer's /api/internal/livestream/metadata callback. Tied
// to the slot's own TTL since it is only meaningful while a session holds
// the slot.
func (a *Arbiter) SetLiveMetadata(ctx context.Context, metadata map[string]any) error {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	return a.store.Set(ctx, liveMetadataKey, string(payload), a.slotTTL)
}

// LiveMetadata returns the most recently pushed broadcast metadata, for
// the Source Observer's optional LiveMetadataProvider interface.
func (a *Arbiter) LiveMetadata(ctx context.Context) (map[string]any, bool, error) {
	val, ok, err := a.store.Get(ctx, liveMetadataKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(val), &metadata); err != nil {
		return nil, false, err
	}
	return metadata, true, nil
}
