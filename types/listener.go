// Package types defines core domain types for livewatch.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"time"
)

// ListenerKey is the stable two-part identity of a live search.
type ListenerKey struct {
	// League is the trade league the search runs in.
	League string `json:"league" yaml:"league"`
	// QueryID is the saved search identifier issued by the trade service.
	QueryID string `json:"query_id" yaml:"query_id"`
}

// String returns "league/query".
func (k ListenerKey) String() string {
	return k.League + "/" + k.QueryID
}

// IsZero reports whether either half of the key is missing.
func (k ListenerKey) IsZero() bool {
	return k.League == "" || k.QueryID == ""
}

// ErrMissingIdentity is returned when a listener config lacks a league or query id.
var ErrMissingIdentity = errors.New("listener identity incomplete: league and query id are required")

// ListenerConfig describes one desired live search. Immutable once a
// listener is running for it.
type ListenerConfig struct {
	Key ListenerKey `json:"key" yaml:"key"`
	// Name is the human label of the search.
	Name string `json:"name" yaml:"name"`
	// Group is the name of the search group the config came from.
	Group string `json:"group" yaml:"group"`
}

// Validate checks the identity fields.
func (c ListenerConfig) Validate() error {
	if c.Key.IsZero() {
		return ErrMissingIdentity
	}
	return nil
}

// Phase is a listener lifecycle phase.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseConnecting   Phase = "connecting"
	PhaseRunning      Phase = "running"
	PhaseDisconnected Phase = "disconnected"
	PhaseErrored      Phase = "errored"
	PhaseCoolingDown  Phase = "cooling_down"
)

// IsActive reports whether the phase holds (or is acquiring) a session.
func (p Phase) IsActive() bool {
	return p == PhaseConnecting || p == PhaseRunning
}

// ListenerSnapshot is a read-only view of one listener's state.
type ListenerSnapshot struct {
	Config ListenerConfig `json:"config"`
	Phase  Phase          `json:"phase"`

	LastAttempt   time.Time `json:"last_attempt,omitzero"`
	LastErrorTime time.Time `json:"last_error_time,omitzero"`
	LastError     string    `json:"last_error,omitempty"`
	AuthError     bool      `json:"auth_error"`

	// AttemptCount is the lifetime number of admitted connection attempts.
	AttemptCount int `json:"attempt_count"`
	// HourlyCount is the decaying attempt counter checked against the hourly cap.
	HourlyCount int `json:"hourly_count"`
	// CooldownRemaining is non-zero while the listener is cooling down.
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	// NotificationsSeen counts item ids received on the stream.
	NotificationsSeen int64 `json:"notifications_seen"`
}
