package mixerctl

import (
	"context"
	"fmt"
	"net"
)

// DialCapture opens a fresh connection to the mixer's capture socket and
// returns it as a raw io.Reader of the mixed output stream. Unlike
// QueueSocket/ControlSocket, this connection carries binary audio, not
// line-oriented commands, so it isn't wrapped in Client — the Recording
// Worker owns its lifecycle (one connection per livestream session) and
// closes it itself when the session ends.
func DialCapture(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mixerctl: dial capture socket %s: %w", addr, err)
	}
	return conn, nil
}
