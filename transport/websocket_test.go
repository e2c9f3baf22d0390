package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnect_SendReceive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != "session=abc" {
			http.Error(w, "no cookie", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, append([]byte("echo:"), msg...)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Cookie", "session=abc")
	sess, err := NewWebsocketDialer(Options{}).Connect(t.Context(), wsURL(srv), header)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(time.Second)

	if err := sess.Send(t.Context(), []byte(`{"hello":1}`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got, err := sess.Receive(t.Context())
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if string(got) != `echo:{"hello":1}` {
		t.Errorf("Receive() = %q", got)
	}
}

func TestConnect_Unauthorized(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := NewWebsocketDialer(Options{}).Connect(t.Context(), wsURL(srv), nil)
		srv.Close()

		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("status %d: err = %v, want ErrUnauthorized", status, err)
		}
		var hs *HandshakeError
		if !errors.As(err, &hs) || hs.StatusCode != status {
			t.Errorf("status %d: want *HandshakeError with status, got %v", status, err)
		}
	}
}

func TestConnect_OtherHandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewWebsocketDialer(Options{}).Connect(t.Context(), wsURL(srv), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if IsAuthFailure(err) {
		t.Errorf("503 must not be an auth failure: %v", err)
	}
}

func TestReceive_RemoteCloseIsClean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	}))
	defer srv.Close()

	sess, err := NewWebsocketDialer(Options{}).Connect(t.Context(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(time.Second)

	_, err = sess.Receive(t.Context())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Receive() = %v, want ErrClosed", err)
	}
}

func TestReceive_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	sess, err := NewWebsocketDialer(Options{}).Connect(t.Context(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer sess.Close(time.Second)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = sess.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Receive() = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Receive did not return promptly after cancel")
	}
}

func TestClose_IdempotentAndBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	sess, err := NewWebsocketDialer(Options{}).Connect(t.Context(), wsURL(srv), nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	start := time.Now()
	_ = sess.Close(200 * time.Millisecond)
	_ = sess.Close(200 * time.Millisecond)
	if time.Since(start) > time.Second {
		t.Error("Close exceeded its grace")
	}

	if _, err := sess.Receive(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive after Close = %v, want ErrClosed", err)
	}
	if err := sess.Send(t.Context(), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}
