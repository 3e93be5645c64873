package statestore

import (
	"context"
	"time"
)

// Lease is a renewable State Store lock used to ensure that, when a
// component is replicated, only one replica runs a given singleton loop
// (the Arbiter watchdog, the Source Observer). spec.md §9: "loss of lease
// is an expected event and triggers watchdog suspension until
// re-acquired."
type Lease struct {
	store   Store
	key     string
	holder  string
	ttl     time.Duration
	held    bool
}

// NewLease creates a lease over key, identifying this process as holder
// (e.g. a hostname+pid string or a uuid generated at startup).
func NewLease(store Store, key, holder string, ttl time.Duration) *Lease {
	return &Lease{store: store, key: key, holder: holder, ttl: ttl}
}

// TryAcquire attempts to become (or remain) the lease holder. It is safe
// to call repeatedly from a ticker loop: once held, it checks that the key
// still carries this holder's value and renews the TTL with Expire.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	if l.held {
		// Renew: re-assert ownership by extending the TTL. If another
		// process took over (e.g. after a crash-and-restart race), the
		// value will no longer match ours and we must stop claiming it.
		val, ok, err := l.store.Get(ctx, l.key)
		if err != nil {
			return false, err
		}
		if !ok || val != l.holder {
			l.held = false
			return false, nil
		}
		if err := l.store.Expire(ctx, l.key, l.ttl); err != nil {
			return false, err
		}
		return true, nil
	}

	acquired, err := l.store.SetIfAbsent(ctx, l.key, l.holder, l.ttl)
	if err != nil {
		return false, err
	}
	l.held = acquired
	return acquired, nil
}

// Held reports whether this process currently believes it holds the lease.
func (l *Lease) Held() bool { return l.held }

// Release gives up the lease if held.
func (l *Lease) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	val, ok, err := l.store.Get(ctx, l.key)
	if err != nil || !ok || val != l.holder {
		return nil
	}
	return l.store.Del(ctx, l.key)
}
