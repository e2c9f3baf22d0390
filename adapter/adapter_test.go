package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []*Event
	err    error
	block  chan struct{}
	closed bool
}

func (r *recorder) Publish(ctx context.Context, e *Event) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recorder{}
	b := &recorder{err: boom}
	m := Multi{a, b}

	err := m.Publish(t.Context(), &Event{EventType: EventItemClaimed})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("counts = %d/%d, want 1/1", a.count(), b.count())
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Close should reach every adapter")
	}
}

func TestAsync_PublishDoesNotBlock(t *testing.T) {
	r := &recorder{block: make(chan struct{})}
	a := NewAsync(r, time.Minute, nil)

	done := make(chan bool, 1)
	go func() { done <- a.Publish(&Event{EventType: EventEmergencyHalt}) }()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Publish returned false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on the downstream adapter")
	}

	close(r.block)
	if err := a.Close(t.Context()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if r.count() != 1 {
		t.Errorf("published = %d, want 1", r.count())
	}
	if !r.closed {
		t.Error("adapter not closed")
	}
}

func TestAsync_ClosedRejects(t *testing.T) {
	r := &recorder{}
	a := NewAsync(r, 0, nil)
	if err := a.Close(t.Context()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if a.Publish(&Event{}) {
		t.Error("Publish after Close should be rejected")
	}
	if err := a.Close(t.Context()); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestAsync_NilAdapter(t *testing.T) {
	var a *Async
	if a.Publish(&Event{}) {
		t.Error("nil Async should not publish")
	}
	if NewAsync(nil, 0, nil).Publish(&Event{}) {
		t.Error("Async without adapter should not publish")
	}
	if err := a.Close(t.Context()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestAsync_CloseBoundedByContext(t *testing.T) {
	r := &recorder{block: make(chan struct{})}
	defer close(r.block)
	a := NewAsync(r, time.Minute, nil)
	a.Publish(&Event{})

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !r.closed {
		t.Error("adapter should be closed even with publishes in flight")
	}
}
