package arbiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/arung-agamani/denpa-relay/internal/statestore"
)

// Watchdog periodically checks the current slot holder's elapsed
// streaming time against their max_streaming_seconds quota and issues a
// forced disconnect through the mixer's control socket when exceeded.
// Only one replica runs this loop at a time, coordinated by a State Store
// lease — the same ticker + select-on-ctx.Done() shape as the teacher's
// playlist.Scheduler, generalized from a time-tag re-check to a
// quota re-check.
type Watchdog struct {
	arbiter  *Arbiter
	lease    *statestore.Lease
	interval time.Duration
}

// NewWatchdog constructs a Watchdog. holder identifies this process for
// lease ownership (e.g. a hostname+pid string or a uuid generated at
// startup).
func NewWatchdog(a *Arbiter, store statestore.Store, holder string, interval time.Duration) *Watchdog {
	lease := statestore.NewLease(store, "arbiter:watchdog:lease", holder, interval*3)
	return &Watchdog{arbiter: a, lease: lease, interval: interval}
}

// Run blocks until ctx is cancelled, re-checking the slot every interval.
// Ticks where this replica doesn't hold the lease are no-ops: losing the
// lease suspends enforcement on this replica until it re-acquires it,
// which is the expected steady state when more than one replica runs.
func (w *Watchdog) Run(ctx context.Context) {
	slog.Info("arbiter: watchdog started", "interval", w.interval)
	defer slog.Info("arbiter: watchdog stopped")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.lease.Release(context.Background())
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	held, err := w.lease.TryAcquire(ctx)
	if err != nil {
		slog.Error("arbiter: watchdog lease acquisition failed", "error", err)
		return
	}
	if !held {
		return
	}

	sessionID, occupied, err := w.arbiter.CurrentSlot(ctx)
	if err != nil {
		slog.Error("arbiter: watchdog failed to read slot", "error", err)
		return
	}
	if !occupied {
		return
	}

	info, ok, err := w.arbiter.loadSession(ctx, sessionID)
	if err != nil || !ok {
		return
	}
	if info.MaxStreamingSeconds <= 0 {
		return
	}

	ledger, err := w.arbiter.loadLedger(ctx, info.HolderPrincipalID)
	if err != nil {
		slog.Error("arbiter: watchdog failed to load ledger", "error", err)
		return
	}

	elapsed := time.Since(info.ConnectedAt)
	totalSeconds := ledger.AccumulatedSeconds + int(elapsed.Seconds())
	if totalSeconds < info.MaxStreamingSeconds {
		return
	}

	slog.Info("arbiter: max streaming time exceeded, forcing disconnect", "session_id", sessionID, "elapsed", elapsed, "accumulated_seconds", ledger.AccumulatedSeconds)
	if err := w.arbiter.control.DisconnectSession(ctx, sessionID); err != nil {
		slog.Error("arbiter: failed to command mixer disconnect", "session_id", sessionID, "error", err)
		// The mixer's own disconnect callback, or a later retry of this
		// tick, will eventually fold the time into the ledger — the
		// Disconnect guard key makes it safe to call more than once.
		return
	}

	// The mixer's disconnect callback is expected to call Arbiter.Disconnect
	// once it actually drops the connection. Calling it here too is safe
	// and covers mixer implementations that don't loop back a callback for
	// a connection the control channel itself terminated.
	if err := w.arbiter.Disconnect(ctx, sessionID, DisconnectLimit); err != nil {
		slog.Error("arbiter: failed to finalize forced disconnect", "session_id", sessionID, "error", err)
	}
}
