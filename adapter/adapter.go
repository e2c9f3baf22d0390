// Package adapter defines the boundary for notifying downstream systems.
//
// Adapters publish claim and emergency-halt events. The engine owns
// adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/livewatch/log"
)

// ContractVersion is the event payload version.
const ContractVersion = "1"

// EventType names a published event.
type EventType string

const (
	// EventItemClaimed is published after a successful claim dispatch.
	EventItemClaimed EventType = "item_claimed"
	// EventEmergencyHalt is published once per global budget halt.
	EventEmergencyHalt EventType = "emergency_halt"
)

// Event is the payload published downstream. Fields not relevant to the
// event type are left empty.
type Event struct {
	ContractVersion string    `json:"contract_version" msgpack:"contract_version"`
	EventType       EventType `json:"event_type" msgpack:"event_type"`
	SessionID       string    `json:"session_id" msgpack:"session_id"`
	Timestamp       string    `json:"timestamp" msgpack:"timestamp"` // RFC 3339

	League   string `json:"league,omitempty" msgpack:"league,omitempty"`
	QueryID  string `json:"query_id,omitempty" msgpack:"query_id,omitempty"`
	Search   string `json:"search,omitempty" msgpack:"search,omitempty"`
	RecordID string `json:"record_id,omitempty" msgpack:"record_id,omitempty"`
	ItemName string `json:"item_name,omitempty" msgpack:"item_name,omitempty"`
	TypeLine string `json:"type_line,omitempty" msgpack:"type_line,omitempty"`
	Price    string `json:"price,omitempty" msgpack:"price,omitempty"`
	Seller   string `json:"seller,omitempty" msgpack:"seller,omitempty"`
	Trigger  string `json:"trigger,omitempty" msgpack:"trigger,omitempty"`

	// Halt fields.
	Reason        string `json:"reason,omitempty" msgpack:"reason,omitempty"`
	TotalAttempts int    `json:"total_attempts,omitempty" msgpack:"total_attempts,omitempty"`
}

// Adapter publishes events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}

// Multi publishes to every adapter and joins the errors.
type Multi []Adapter

// Publish sends event to each adapter in order.
func (m Multi) Publish(ctx context.Context, event *Event) error {
	var errs []error
	for _, a := range m {
		if err := a.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes each adapter.
func (m Multi) Close() error {
	var errs []error
	for _, a := range m {
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultAsyncTimeout bounds one background publish.
const DefaultAsyncTimeout = 30 * time.Second

// Async publishes in the background so callers never wait on downstream
// systems. Failures are logged.
type Async struct {
	adapter Adapter
	timeout time.Duration
	logger  *log.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync wraps a. A nil adapter makes every Publish a no-op.
func NewAsync(a Adapter, timeout time.Duration, logger *log.Logger) *Async {
	if timeout <= 0 {
		timeout = DefaultAsyncTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Async{
		adapter: a,
		timeout: timeout,
		logger:  logger.With(map[string]any{"component": "adapter"}),
	}
}

// Publish schedules event for delivery. It returns false when the
// adapter is closed or absent.
func (a *Async) Publish(event *Event) bool {
	if a == nil || a.adapter == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.adapter.Publish(ctx, event); err != nil {
			a.logger.Warn("event publish failed", map[string]any{
				"event_type": string(event.EventType),
				"error":      err.Error(),
			})
		}
	}()
	return true
}

// Close waits for in-flight publishes, bounded by ctx, then closes the
// adapter.
func (a *Async) Close(ctx context.Context) error {
	if a == nil || a.adapter == nil {
		return nil
	}
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("closing adapter with publishes in flight", nil)
	}
	return a.adapter.Close()
}
