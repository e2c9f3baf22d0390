// Package transport connects to the live-search stream.
//
// The core only sees the Dialer and Session interfaces; WebsocketDialer is
// the production implementation on gorilla/websocket. Sessions deliver
// whole logical messages: continuation frames are accumulated by the
// websocket reader before Receive returns.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultCloseGrace bounds the close handshake before the connection is
// released unconditionally.
const DefaultCloseGrace = 2 * time.Second

var (
	// ErrUnauthorized marks an authentication failure: a 401/403 handshake
	// or an explicit auth-false message from the server.
	ErrUnauthorized = errors.New("stream authentication failed")

	// ErrClosed is returned by Receive after the remote closed the session
	// cleanly, or by any call after Close.
	ErrClosed = errors.New("stream session closed")
)

// Dialer opens stream sessions.
type Dialer interface {
	Connect(ctx context.Context, uri string, header http.Header) (Session, error)
}

// Session is one open stream.
//
// Receive may be called from one goroutine at a time. Send is safe for
// concurrent use. Close is idempotent and never blocks longer than the
// given grace.
type Session interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, payload []byte) error
	Close(grace time.Duration) error
}

// HandshakeError is returned when the server rejects the upgrade.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("stream handshake failed (HTTP %d): %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Is reports auth rejections as ErrUnauthorized.
func (e *HandshakeError) Is(target error) bool {
	if target != ErrUnauthorized {
		return false
	}
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsAuthFailure reports whether err carries an authentication marker.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
