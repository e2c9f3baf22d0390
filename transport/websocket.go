package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Options configures a WebsocketDialer.
type Options struct {
	// HandshakeTimeout bounds the opening handshake. Zero means 15s.
	HandshakeTimeout time.Duration
	// ReadLimit caps a single message in bytes. Zero means 1 MiB.
	ReadLimit int64
	// Proxy returns the proxy for the upgrade request, or nil for direct.
	Proxy func(*http.Request) (*url.URL, error)
}

// WebsocketDialer dials gorilla websocket sessions.
type WebsocketDialer struct {
	dialer    *websocket.Dialer
	readLimit int64
}

// NewWebsocketDialer creates a dialer from opts.
func NewWebsocketDialer(opts Options) *WebsocketDialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 1 << 20
	}
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            opts.Proxy,
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		readLimit: opts.ReadLimit,
	}
}

// Connect performs the upgrade handshake. A rejected upgrade returns a
// *HandshakeError carrying the HTTP status.
func (d *WebsocketDialer) Connect(ctx context.Context, uri string, header http.Header) (Session, error) {
	conn, resp, err := d.dialer.DialContext(ctx, uri, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	conn.SetReadLimit(d.readLimit)
	return &wsSession{conn: conn, closed: make(chan struct{})}, nil
}

type wsSession struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Receive returns the next complete message. Cancelling ctx interrupts a
// blocked read; the session is unusable afterwards.
func (s *wsSession) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-s.closed:
		return nil, ErrClosed
	default:
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		kind, r, err := s.conn.NextReader()
		if err != nil {
			return nil, s.readError(ctx, err)
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		payload, err := io.ReadAll(r)
		if err != nil {
			return nil, s.readError(ctx, err)
		}
		return payload, nil
	}
}

func (s *wsSession) readError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return fmt.Errorf("receive: %w", err)
}

// Send writes one text message.
func (s *wsSession) Send(ctx context.Context, payload []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close attempts a close handshake bounded by grace, then releases the
// connection regardless of the outcome.
func (s *wsSession) Close(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultCloseGrace
	}
	s.closeOnce.Do(func() {
		close(s.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(grace))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
