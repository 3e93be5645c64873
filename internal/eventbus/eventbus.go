// Package eventbus is a thin typed wrapper over the State Store's
// publish/subscribe primitive: JSON-encode an Event on the way out,
// JSON-decode it on the way in. Channel name is the event type string.
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/arung-agamani/denpa-relay/internal/model"
	"github.com/arung-agamani/denpa-relay/internal/statestore"
)

// Bus publishes and subscribes to typed Events over a State Store.
type Bus struct {
	store statestore.Store
}

// New wraps a statestore.Store as a Bus.
func New(store statestore.Store) *Bus {
	return &Bus{store: store}
}

// Publish JSON-encodes event and publishes it on the channel named by its
// event type. Fire-and-forget, matching the State Store's own contract:
// this never blocks on or errors because of a slow or absent subscriber.
func (b *Bus) Publish(ctx context.Context, event model.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("eventbus: failed to encode event", "event_type", event.EventType, "error", err)
		return
	}
	b.store.Publish(ctx, string(event.EventType), string(payload))
}

// Subscribe returns a channel of decoded Events of the given type, and a
// cancel func that must be called to stop the subscription and release
// its resources. Malformed payloads are logged and dropped rather than
// closing the channel.
func (b *Bus) Subscribe(ctx context.Context, eventType model.EventType) (<-chan model.Event, func()) {
	raw, cancel := b.store.Subscribe(ctx, string(eventType))
	out := make(chan model.Event, 64)

	go func() {
		defer close(out)
		for payload := range raw {
			var event model.Event
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				slog.Error("eventbus: failed to decode event", "event_type", eventType, "error", err)
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel
}
