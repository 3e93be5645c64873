package mixerctl

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMixer spins up a TCP listener that echoes scripted responses for
// known command prefixes, one goroutine per connection, mimicking the mixer's
// line protocol well enough to exercise Client/QueueSocket/ControlSocket.
func fakeMixer(t *testing.T, handler func(cmd string) string) string {
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
					resp := handler(cmd)
					if _, err := c.Write([]byte(resp + "\n")); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestClientCommandRoundTrip(t *testing.T) {
	addr := fakeMixer(t, func(cmd string) string {
		if cmd == "PING" {
			return "OK PONG"
		}
		return "ERR unknown"
	})

	client := New(addr)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Command(ctx, "PING")
	require.NoError(t, err)
	assert.Equal(t, "OK PONG", resp)
}

func TestQueueSocketEnqueueDequeueListCurrent(t *testing.T) {
	queued := []string{}
	addr := fakeMixer(t, func(cmd string) string {
		switch {
		case strings.HasPrefix(cmd, "ENQUEUE "):
			queued = append(queued, "item-1")
			return "OK item-1"
		case strings.HasPrefix(cmd, "DEQUEUE "):
			return "OK"
		case cmd == "LIST":
			if len(queued) == 0 {
				return "OK "
			}
			return "OK " + strings.Join(queued, ",")
		case cmd == "CURRENT":
			if len(queued) == 0 {
				return "OK NONE"
			}
			return "OK " + queued[0]
		}
		return "ERR unknown"
	})

	sock := NewQueueSocket(New(addr))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, err := sock.Enqueue(ctx, "/data/songs/a.ogg")
	require.NoError(t, err)
	assert.Equal(t, "item-1", id)

	list, err := sock.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"item-1"}, list)

	current, err := sock.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "item-1", current)

	require.NoError(t, sock.Dequeue(ctx, "item-1"))
}

func TestControlSocketDisconnect(t *testing.T) {
	addr := fakeMixer(t, func(cmd string) string {
		if strings.HasPrefix(cmd, "DISCONNECT ") {
			return "OK"
		}
		return "ERR unknown"
	})

	ctrl := NewControlSocket(New(addr))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, ctrl.DisconnectSession(ctx, "session-42"))
}

func TestClientReconnectsAfterServerClose(t *testing.T) {
	var connCount int
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			connCount++
			// Immediately close after one command/response to force a
			// reconnect on the client's next call.
			go func(c net.Conn) {
				reader := bufio.NewReader(c)
				line, err := reader.ReadString('\n')
				if err == nil {
					cmd := strings.TrimRight(line, "\r\n")
					_ = cmd
					_, _ = c.Write([]byte("OK\n"))
				}
				c.Close()
			}(conn)
		}
	}()

	client := New(ln.Addr().String())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = client.Command(ctx, "PING")
	require.NoError(t, err)

	// Connection was closed server-side after responding; the next command
	// must transparently re-dial rather than fail.
	_, err = client.Command(ctx, "PING")
	require.NoError(t, err)

	assert.Equal(t, 2, connCount)
}
