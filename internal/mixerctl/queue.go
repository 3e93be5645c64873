package mixerctl

import (
	"context"
	"fmt"
	"strings"
)

// QueueSocket is a uniform playback-control surface over one of the
// mixer's queue sockets: enqueue/dequeue, transport control (play, pause,
// resume), and a query for what's currently audible. The user queue and
// fallback queue sockets share this exact protocol; only the socket
// address differs.
type QueueSocket struct {
	client *Client
}

// NewQueueSocket wraps a Client as a QueueSocket.
func NewQueueSocket(client *Client) *QueueSocket {
	return &QueueSocket{client: client}
}

// Enqueue appends a file path to the mixer's in-memory queue and returns
// the mixer-assigned item id.
func (q *QueueSocket) Enqueue(ctx context.Context, filePath string) (string, error) {
	resp, err := q.client.Command(ctx, "ENQUEUE "+filePath)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(resp, "ERR") {
		return "", fmt.Errorf("mixerctl: enqueue rejected: %s", resp)
	}
	return strings.TrimPrefix(resp, "OK "), nil
}

// Dequeue removes an item by mixer item id.
func (q *QueueSocket) Dequeue(ctx context.Context, itemID string) error {
	resp, err := q.client.Command(ctx, "DEQUEUE "+itemID)
	if err != nil {
		return err
	}
	if strings.HasPrefix(resp, "ERR") {
		return fmt.Errorf("mixerctl: dequeue rejected: %s", resp)
	}
	return nil
}

// List returns the mixer item ids currently queued, in play order.
func (q *QueueSocket) List(ctx context.Context) ([]string, error) {
	resp, err := q.client.Command(ctx, "LIST")
	if err != nil {
		return nil, err
	}
	resp = strings.TrimPrefix(resp, "OK ")
	if resp == "" {
		return nil, nil
	}
	return strings.Split(resp, ","), nil
}

// Clear empties the queue.
func (q *QueueSocket) Clear(ctx context.Context) error {
	_, err := q.client.Command(ctx, "CLEAR")
	return err
}

// Play resumes playback from the head of the queue.
func (q *QueueSocket) Play(ctx context.Context) error {
	_, err := q.client.Command(ctx, "PLAY")
	return err
}

// Pause suspends playback without advancing the queue.
func (q *QueueSocket) Pause(ctx context.Context) error {
	_, err := q.client.Command(ctx, "PAUSE")
	return err
}

// Resume continues playback after Pause.
func (q *QueueSocket) Resume(ctx context.Context) error {
	_, err := q.client.Command(ctx, "RESUME")
	return err
}

// Playing reports whether this queue is actively playing (as opposed to
// paused or empty).
func (q *QueueSocket) Playing(ctx context.Context) (bool, error) {
	resp, err := q.client.Command(ctx, "PLAYING")
	if err != nil {
		return false, err
	}
	return strings.TrimPrefix(resp, "OK ") == "true", nil
}

// Current returns the mixer item id currently playing, or "" if nothing
// is playing.
func (q *QueueSocket) Current(ctx context.Context) (string, error) {
	resp, err := q.client.Command(ctx, "CURRENT")
	if err != nil {
		return "", err
	}
	resp = strings.TrimPrefix(resp, "OK ")
	if resp == "NONE" {
		return "", nil
	}
	return resp, nil
}

// ControlSocket talks to the mixer's control socket: the livestream
// source's disconnect command, used by the Arbiter's watchdog to enforce
// max streaming time.
type ControlSocket struct {
	client *Client
}

// NewControlSocket wraps a Client as a ControlSocket.
func NewControlSocket(client *Client) *ControlSocket {
	return &ControlSocket{client: client}
}

// DisconnectSession tells the mixer to drop the named livestream session,
// telnet-style.
func (c *ControlSocket) DisconnectSession(ctx context.Context, sessionID string) error {
	resp, err := c.client.Command(ctx, "DISCONNECT "+sessionID)
	if err != nil {
		return err
	}
	if strings.HasPrefix(resp, "ERR") {
		return fmt.Errorf("mixerctl: disconnect rejected: %s", resp)
	}
	return nil
}

// CurrentLiveSession returns the mixer's live-source session id, or "" if
// no livestream is currently being mixed in.
func (c *ControlSocket) CurrentLiveSession(ctx context.Context) (string, error) {
	resp, err := c.client.Command(ctx, "LIVE_CURRENT")
	if err != nil {
		return "", err
	}
	resp = strings.TrimPrefix(resp, "OK ")
	if resp == "NONE" {
		return "", nil
	}
	return resp, nil
}
