// Package webhook implements the Webhook Dispatcher: it subscribes to the
// Event Bus, matches registered subscriptions, signs and delivers HTTPS
// POSTs, and records the outcome of every attempt.
package webhook

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/arung-agamani/denpa-relay/internal/catalog"
	"github.com/arung-agamani/denpa-relay/internal/eventbus"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

const deliveryTimeout = 5 * time.Second

// watchedEvents are every event type a subscription can register for.
var watchedEvents = []model.EventType{
	model.EventSongChanged,
	model.EventLivestreamStarted,
	model.EventLivestreamEnded,
	model.EventQueueSwitched,
}

// PartitionFunc reports whether this Dispatcher replica owns delivery for
// webhookID. A nil PartitionFunc means this replica owns everything (the
// single-dispatcher, at-least-once deployment); a consistent-hash
// implementation gives exactly-once delivery across a partitioned fleet.
type PartitionFunc func(webhookID string) bool

// Dispatcher fans out bus events to registered webhook subscriptions.
type Dispatcher struct {
	catalog   *catalog.Store
	bus       *eventbus.Bus
	client    *http.Client
	partition PartitionFunc
}

// New constructs a Dispatcher. A nil partition makes this replica own
// every subscription.
func New(catalogStore *catalog.Store, bus *eventbus.Bus, partition PartitionFunc) *Dispatcher {
	return &Dispatcher{
		catalog: catalogStore,
		bus:     bus,
		client: &http.Client{
			Timeout: deliveryTimeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   3 * time.Second,
				ResponseHeaderTimeout: deliveryTimeout,
			},
		},
		partition: partition,
	}
}

// Run subscribes to every watched event type and delivers matching
// subscriptions until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("webhook: dispatcher started")
	defer slog.Info("webhook: dispatcher stopped")

	for _, eventType := range watchedEvents {
		events, cancel := d.bus.Subscribe(ctx, eventType)
		defer cancel()
		go d.consume(ctx, events)
	}

	<-ctx.Done()
}

func (d *Dispatcher) consume(ctx context.Context, events <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			d.fanOut(ctx, event)
		}
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, event model.Event) {
	subs, err := d.catalog.ListWebhooksForEvent(ctx, event.EventType)
	if err != nil {
		slog.Error("webhook: failed to look up subscriptions", "event_type", event.EventType, "error", err)
		return
	}
	for _, sub := range subs {
		if d.partition != nil && !d.partition(sub.WebhookID) {
			continue
		}
		// Deliveries for distinct subscriptions proceed independently;
		// a slow or unreachable endpoint never blocks the others.
		go d.deliverAndRecord(context.Background(), sub, event)
	}
}

func (d *Dispatcher) deliverAndRecord(ctx context.Context, sub model.WebhookSubscription, event model.Event) {
	delivery, err := d.deliver(ctx, sub, event)
	if err != nil {
		slog.Warn("webhook: delivery failed", "webhook_id", sub.WebhookID, "url", sub.URL, "error", err)
	}
	if err := d.catalog.RecordDelivery(ctx, sub.WebhookID, delivery); err != nil {
		slog.Error("webhook: failed to record delivery", "webhook_id", sub.WebhookID, "error", err)
	}
}

// deliver performs one POST attempt and always returns a WebhookDelivery
// describing the outcome, even on failure (status 0, Error populated).
func (d *Dispatcher) deliver(ctx context.Context, sub model.WebhookSubscription, event model.Event) (model.WebhookDelivery, error) {
	body, err := envelope(event)
	if err != nil {
		return model.WebhookDelivery{
			Timestamp: event.Timestamp, EventType: event.EventType, URL: sub.URL,
			Status: model.DeliveryFailed, Error: err.Error(),
		}, err
	}

	signature := sign(sub.SigningKey, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return model.WebhookDelivery{
			Timestamp: event.Timestamp, EventType: event.EventType, URL: sub.URL,
			Status: model.DeliveryFailed, Error: err.Error(),
		}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)
	req.Header.Set("X-Webhook-Timestamp", event.Timestamp.UTC().Format(time.RFC3339Nano))

	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return model.WebhookDelivery{
			Timestamp: event.Timestamp, EventType: event.EventType, URL: sub.URL,
			Status: model.DeliveryFailed, Error: err.Error(), LatencyMS: latency.Milliseconds(),
		}, err
	}
	defer resp.Body.Close()

	status := model.DeliverySuccess
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status = model.DeliveryFailed
	}
	return model.WebhookDelivery{
		Timestamp: event.Timestamp, EventType: event.EventType, URL: sub.URL,
		Status: status, StatusCode: resp.StatusCode, LatencyMS: latency.Milliseconds(),
	}, nil
}

// Test delivers a synchronous webhook_test envelope to the named
// subscription and returns the delivery outcome (status code + latency)
// directly to the caller, in addition to recording it in history.
func (d *Dispatcher) Test(ctx context.Context, webhookID string) (model.WebhookDelivery, error) {
	sub, err := d.catalog.GetWebhook(ctx, webhookID)
	if err != nil {
		return model.WebhookDelivery{}, err
	}

	event := model.Event{
		EventType:   model.EventWebhookTest,
		Timestamp:   time.Now().UTC(),
		Description: "test delivery",
		Data:        map[string]any{"webhook_id": webhookID},
	}

	delivery, deliverErr := d.deliver(ctx, sub, event)
	if err := d.catalog.RecordDelivery(ctx, sub.WebhookID, delivery); err != nil {
		slog.Error("webhook: failed to record test delivery", "webhook_id", sub.WebhookID, "error", err)
	}
	return delivery, deliverErr
}
