package listener

import (
	"time"
)

// Gate names a reason a start was refused.
type Gate string

const (
	GateNone     Gate = ""
	GateIdentity Gate = "identity"
	GateActive   Gate = "active"
	GateCooldown Gate = "cooldown"
	GateThrottle Gate = "throttle"
	GateHourly   Gate = "hourly_cap"
	GateLifetime Gate = "lifetime_cap"
	GateBudget   Gate = "global_budget"
	GateStopped  Gate = "stopped"
)

// Limits are the per-listener attempt gates.
type Limits struct {
	// AuthCooldown follows an authentication failure.
	AuthCooldown time.Duration `yaml:"auth_cooldown"`
	// ErrorCooldown follows any other failure.
	ErrorCooldown time.Duration `yaml:"error_cooldown"`
	// Throttle is the minimum spacing between attempts.
	Throttle time.Duration `yaml:"throttle"`
	// HourlyCap caps attempts per hour; the counter halves for each full
	// hour that passes.
	HourlyCap int `yaml:"hourly_cap"`
	// LifetimeCap caps attempts over the listener's life.
	LifetimeCap int `yaml:"lifetime_cap"`
}

// DefaultLimits returns the standard gates.
func DefaultLimits() Limits {
	return Limits{
		AuthCooldown:  10 * time.Second,
		ErrorCooldown: 300 * time.Second,
		Throttle:      30 * time.Second,
		HourlyCap:     3,
		LifetimeCap:   10,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.AuthCooldown <= 0 {
		l.AuthCooldown = def.AuthCooldown
	}
	if l.ErrorCooldown <= 0 {
		l.ErrorCooldown = def.ErrorCooldown
	}
	if l.Throttle <= 0 {
		l.Throttle = def.Throttle
	}
	if l.HourlyCap <= 0 {
		l.HourlyCap = def.HourlyCap
	}
	if l.LifetimeCap <= 0 {
		l.LifetimeCap = def.LifetimeCap
	}
	return l
}

// decayWindow is the hourly counter period.
const decayWindow = time.Hour

// hourlyCounter halves once per elapsed window instead of resetting.
type hourlyCounter struct {
	count int
	since time.Time
}

// at returns the decayed count and window start at now without mutating.
func (h hourlyCounter) at(now time.Time) hourlyCounter {
	if h.since.IsZero() {
		return hourlyCounter{since: now}
	}
	for h.count > 0 && now.Sub(h.since) >= decayWindow {
		h.count /= 2
		h.since = h.since.Add(decayWindow)
	}
	if h.count == 0 && now.Sub(h.since) >= decayWindow {
		h.since = now
	}
	return h
}
