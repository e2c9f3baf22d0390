package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/livewatch/adapter"
	"github.com/justapithecus/livewatch/iox"
)

func testEvent() *adapter.Event {
	return &adapter.Event{
		ContractVersion: adapter.ContractVersion,
		EventType:       adapter.EventItemClaimed,
		SessionID:       "session-001",
		Timestamp:       "2026-02-07T12:00:00Z",
		League:          "Standard",
		QueryID:         "abc123",
		RecordID:        "rec-001",
		ItemName:        "Headhunter",
		Price:           "5 divine",
		Trigger:         "automatic",
	}
}

func retries(n int) *int { return &n }

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(a))
	return a
}

func TestPublish_Success(t *testing.T) {
	var received adapter.Event
	var userAgent string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		userAgent = r.Header.Get("User-Agent")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := newAdapter(t, Config{URL: ts.URL, Retries: retries(0)})
	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if received.EventType != adapter.EventItemClaimed {
		t.Errorf("event_type = %s", received.EventType)
	}
	if received.RecordID != "rec-001" || received.ItemName != "Headhunter" {
		t.Errorf("received = %+v", received)
	}
	if !strings.HasPrefix(userAgent, "livewatch/") {
		t.Errorf("user agent = %q", userAgent)
	}
}

func TestPublish_CustomHeaders(t *testing.T) {
	var authHeader string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	a := newAdapter(t, Config{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
		Retries: retries(0),
	})
	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if authHeader != "Bearer test-token" {
		t.Errorf("expected Bearer test-token, got %s", authHeader)
	}
}

func TestPublish_StatusHandling(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantErr  bool
		attempts int32
	}{
		{"ok", 200, false, 1},
		{"accepted", 202, false, 1},
		{"bad request", 400, true, 1},
		{"unauthorized", 401, true, 1},
		{"not found", 404, true, 1},
		{"too many requests", 429, true, 3},
		{"server error", 500, true, 3},
		{"unavailable", 503, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.code)
			}))
			defer ts.Close()

			a := newAdapter(t, Config{URL: ts.URL, Retries: retries(2)})
			err := a.Publish(t.Context(), testEvent())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := attempts.Load(); got != tt.attempts {
				t.Errorf("attempts = %d, want %d", got, tt.attempts)
			}
		})
	}
}

func TestPublish_RecoversAfterRetries(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := newAdapter(t, Config{URL: ts.URL})
	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish should succeed after retries: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	defer close(release)

	a := newAdapter(t, Config{URL: ts.URL, Retries: retries(0)})

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty URL")
	}
	if _, err := New(Config{URL: "http://example.com", Retries: retries(-1)}); err == nil {
		t.Error("expected error for negative retries")
	}

	a, err := New(Config{URL: "http://example.com"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if a.config.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", a.config.Timeout, DefaultTimeout)
	}
	if a.retries != DefaultRetries {
		t.Errorf("retries = %d, want %d", a.retries, DefaultRetries)
	}
}
