package observer

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arung-agamani/denpa-relay/internal/eventbus"
	"github.com/arung-agamani/denpa-relay/internal/mixerctl"
	"github.com/arung-agamani/denpa-relay/internal/model"
	"github.com/arung-agamani/denpa-relay/internal/queue"
	"github.com/arung-agamani/denpa-relay/internal/statestore"
)

// scriptedMixer is a fake queue socket whose PLAYING/CURRENT/LIST answers
// can be changed mid-test by mutating its fields directly.
type scriptedMixer struct {
	playing bool
	current string
	ids     []string
}

func fakeScriptedMixer(t *testing.T, state *scriptedMixer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

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
					case cmd == "PLAYING":
						resp = fmt.Sprintf("OK %v", state.playing)
					case cmd == "CURRENT":
						if state.current == "" {
							resp = "OK NONE"
						} else {
							resp = "OK " + state.current
						}
					case cmd == "LIST":
						resp = "OK " + strings.Join(state.ids, ",")
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

type mutableSlotChecker struct {
	sessionID string
	occupied  bool
}

func (m *mutableSlotChecker) set(sessionID string, occupied bool) {
	m.sessionID = sessionID
	m.occupied = occupied
}

func (m *mutableSlotChecker) CurrentSlot(ctx context.Context) (string, bool, error) {
	return m.sessionID, m.occupied, nil
}

func newTestBus(t *testing.T) (*eventbus.Bus, statestore.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := statestore.NewFromClient(client)
	return eventbus.New(store), store
}

func newTestQueueController(t *testing.T, userState, fallbackState *scriptedMixer) *queue.Controller {
	t.Helper()
	userAddr := fakeScriptedMixer(t, userState)
	fallbackAddr := fakeScriptedMixer(t, fallbackState)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return queue.New(
		statestore.NewFromClient(client),
		nil,
		mixerctl.NewQueueSocket(mixerctl.New(userAddr)),
		mixerctl.NewQueueSocket(mixerctl.New(fallbackAddr)),
		queue.Config{MaxFileSize: 50 << 20, MaxSongDuration: time.Hour, DupWindow: 5},
	)
}

func TestDeriveLivestreamWhenSlotOccupied(t *testing.T) {
	qc := newTestQueueController(t, &scriptedMixer{}, &scriptedMixer{})
	bus, store := newTestBus(t)

	obs := New(qc, &mutableSlotChecker{sessionID: "sess-1", occupied: true}, bus, store, "replica-1", 50*time.Millisecond)

	now, err := obs.NowPlaying(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SourceLivestream, now.Source)
}

func TestDeriveUserWhenUserQueuePlaying(t *testing.T) {
	userState := &scriptedMixer{playing: true, current: "item-1", ids: []string{"item-1"}}
	fallbackState := &scriptedMixer{}
	qc := newTestQueueController(t, userState, fallbackState)
	bus, store := newTestBus(t)

	obs := New(qc, &mutableSlotChecker{}, bus, store, "replica-1", 50*time.Millisecond)

	now, err := obs.NowPlaying(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SourceUser, now.Source)
}

func TestDeriveFallbackWhenUserQueueNotPlaying(t *testing.T) {
	userState := &scriptedMixer{playing: false}
	fallbackState := &scriptedMixer{current: "fb-1", ids: []string{"fb-1"}}
	qc := newTestQueueController(t, userState, fallbackState)
	bus, store := newTestBus(t)

	obs := New(qc, &mutableSlotChecker{}, bus, store, "replica-1", 50*time.Millisecond)

	now, err := obs.NowPlaying(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SourceFallback, now.Source)
}

func TestQueueSwitchedAndSongChangedEmittedOnTransition(t *testing.T) {
	userState := &scriptedMixer{}
	fallbackState := &scriptedMixer{current: "fb-1", ids: []string{"fb-1"}}
	qc := newTestQueueController(t, userState, fallbackState)
	bus, store := newTestBus(t)
	slot := &mutableSlotChecker{}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	switched, stopSwitched := bus.Subscribe(ctx, model.EventQueueSwitched)
	defer stopSwitched()
	changed, stopChanged := bus.Subscribe(ctx, model.EventSongChanged)
	defer stopChanged()
	time.Sleep(50 * time.Millisecond)

	obs := New(qc, slot, bus, store, "replica-1", 50*time.Millisecond)
	go obs.Run(ctx)

	// Let the first tick establish the fallback baseline before forcing a
	// transition; a baseline tick alone must not emit anything.
	time.Sleep(150 * time.Millisecond)
	slot.set("sess-1", true)

	select {
	case evt := <-switched:
		assert.Equal(t, "fallback", evt.Data["from"])
		assert.Equal(t, "livestream", evt.Data["to"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for queue_switched")
	}

	select {
	case evt := <-changed:
		assert.Equal(t, "livestream", evt.Data["source"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for song_changed")
	}
}

func TestNoEventsOnStableState(t *testing.T) {
	fallbackState := &scriptedMixer{current: "fb-1", ids: []string{"fb-1"}}
	qc := newTestQueueController(t, &scriptedMixer{}, fallbackState)
	bus, store := newTestBus(t)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	changed, stop := bus.Subscribe(ctx, model.EventSongChanged)
	defer stop()
	time.Sleep(50 * time.Millisecond)

	obs := New(qc, &mutableSlotChecker{}, bus, store, "replica-1", 50*time.Millisecond)
	go obs.Run(ctx)

	select {
	case <-changed:
		t.Fatal("stable state across polls must not emit song_changed")
	case <-time.After(400 * time.Millisecond):
	}
}
