// Package ratelimit paces outbound calls against server-announced quotas.
//
// The server reports quota rules and live usage per scope on every
// response. The Governor budgets against a fraction of the advertised
// ceiling (SafeFraction) and brakes hard at a smaller fraction
// (EmergencyFraction), so a burst from several listeners never reaches
// the server's lockout threshold.
//
// Pace is the accounting event: it must be called exactly once per
// outbound call, immediately before sending. Wait is Pace plus a
// context-aware sleep. No lock is held while sleeping.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/justapithecus/livewatch/clock"
	"github.com/justapithecus/livewatch/log"
)

// Pacing delays, first match wins.
const (
	DelayEmergency = 15 * time.Second
	DelayBurst     = 5 * time.Second
	DelayHigh      = 8 * time.Second
	DelayElevated  = 5 * time.Second
	DelayModerate  = 3 * time.Second
	DelayLow       = 1500 * time.Millisecond
	DelayFloor     = 1 * time.Second
)

// Burst detection: more than BurstCalls calls inside BurstWindow.
const (
	BurstWindow = time.Second
	BurstCalls  = 2
)

// Config tunes the governor thresholds.
type Config struct {
	// SafeFraction of the advertised max used as the working ceiling.
	SafeFraction float64
	// EmergencyFraction of the advertised max at which pacing brakes hard.
	EmergencyFraction float64
}

// DefaultConfig returns the conservative thresholds.
func DefaultConfig() Config {
	return Config{SafeFraction: 0.5, EmergencyFraction: 0.4}
}

// ScopeSnapshot is a read-only view of one scope.
type ScopeSnapshot struct {
	Scope              string        `json:"scope"`
	Hits               int           `json:"hits"`
	Max                int           `json:"max"`
	Period             time.Duration `json:"period"`
	Penalty            time.Duration `json:"penalty"`
	ResetTime          time.Time     `json:"reset_time,omitzero"`
	SafeMax            int           `json:"safe_max"`
	EmergencyThreshold int           `json:"emergency_threshold"`
	BurstCount         int           `json:"burst_count"`
	ConsecutiveHigh    int           `json:"consecutive_high_usage"`
	LastDelay          time.Duration `json:"last_delay"`
}

type scopeState struct {
	hits      int
	max       int
	period    time.Duration
	penalty   time.Duration
	resetTime time.Time
	safeMax   int
	emergency int
	// quota is false until the server reported anything for the scope.
	quota           bool
	calls           []time.Time
	consecutiveHigh int
	lastDelay       time.Duration
}

// Governor tracks per-scope quota state. Safe for concurrent use.
type Governor struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	logger *log.Logger
	scopes map[string]*scopeState
}

// NewGovernor creates a Governor. A nil logger discards output.
func NewGovernor(cfg Config, clk clock.Clock, logger *log.Logger) *Governor {
	if cfg.SafeFraction <= 0 || cfg.SafeFraction > 1 {
		cfg.SafeFraction = DefaultConfig().SafeFraction
	}
	if cfg.EmergencyFraction <= 0 || cfg.EmergencyFraction > 1 {
		cfg.EmergencyFraction = DefaultConfig().EmergencyFraction
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Governor{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(map[string]any{"component": "ratelimit"}),
		scopes: make(map[string]*scopeState),
	}
}

func (g *Governor) stateLocked(scope string) *scopeState {
	s, ok := g.scopes[scope]
	if !ok {
		s = &scopeState{}
		g.scopes[scope] = s
	}
	return s
}

func (g *Governor) deriveLocked(s *scopeState) {
	s.safeMax = max(1, int(math.Floor(float64(s.max)*g.cfg.SafeFraction)))
	// Epsilon keeps products like 0.4*10 from ceiling up to 5.
	s.emergency = max(1, int(math.Ceil(float64(s.max)*g.cfg.EmergencyFraction-1e-9)))
}

// ObserveQuota records or overwrites the quota of scope and restarts its
// reset window at now+period.
func (g *Governor) ObserveQuota(scope string, hits, maxHits int, period, penalty time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.stateLocked(scope)
	s.hits = hits
	s.max = maxHits
	s.period = period
	s.penalty = penalty
	s.resetTime = g.clock.Now().Add(period)
	s.quota = true
	g.deriveLocked(s)
}

// ObserveUsage updates live usage. A running reset window is left alone;
// usage reported after the window elapsed is current, so the window rolls
// forward to now+period instead of the report being read as zero.
func (g *Governor) ObserveUsage(scope string, hits, maxHits int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	s := g.stateLocked(scope)
	s.hits = hits
	if !s.resetTime.IsZero() && !now.Before(s.resetTime) {
		if s.period > 0 {
			s.resetTime = now.Add(s.period)
		} else {
			s.resetTime = time.Time{}
		}
	}
	if maxHits > 0 && maxHits != s.max {
		s.max = maxHits
		g.deriveLocked(s)
	} else if !s.quota {
		g.deriveLocked(s)
	}
	s.quota = true
}

// usageLocked returns the effective hit count; an elapsed reset window
// counts as zero.
func (g *Governor) usageLocked(s *scopeState, now time.Time) int {
	if !s.resetTime.IsZero() && !now.Before(s.resetTime) {
		return 0
	}
	return s.hits
}

// Pace records an outbound call in scope and returns how long the caller
// must wait before sending it. It never returns less than DelayFloor.
func (g *Governor) Pace(scope string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	s := g.stateLocked(scope)

	cutoff := now.Add(-BurstWindow)
	kept := s.calls[:0]
	for _, t := range s.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.calls = append(kept, now)

	delay := g.delayLocked(s, now)
	s.lastDelay = delay
	if delay >= DelayEmergency {
		g.logger.Warn("emergency pacing", map[string]any{
			"scope":            scope,
			"hits":             s.hits,
			"max":              s.max,
			"consecutive_high": s.consecutiveHigh,
		})
	}
	return delay
}

func (g *Governor) delayLocked(s *scopeState, now time.Time) time.Duration {
	usage := 0
	if s.quota {
		usage = g.usageLocked(s, now)
	}

	if s.quota && s.max > 0 && usage >= s.emergency {
		s.consecutiveHigh++
		return DelayEmergency
	}
	if len(s.calls) > BurstCalls {
		return DelayBurst
	}

	ratio := 0.0
	if s.quota && s.max > 0 {
		ratio = float64(usage) / float64(s.safeMax)
	}
	switch {
	case ratio >= 0.7:
		return DelayHigh
	case ratio >= 0.5:
		return DelayElevated
	case ratio >= 0.3:
		return DelayModerate
	case ratio >= 0.1:
		s.consecutiveHigh = 0
		return DelayLow
	default:
		s.consecutiveHigh = 0
		return DelayFloor
	}
}

// Wait paces a call in scope and sleeps for the returned delay.
// Returns ctx.Err() if the context ends first.
func (g *Governor) Wait(ctx context.Context, scope string) (time.Duration, error) {
	delay := g.Pace(scope)
	if err := sleep(ctx, g.clock, delay); err != nil {
		return delay, err
	}
	return delay, nil
}

// Observe feeds response headers for a call made in scope back into the
// governor. Rules that are new, changed, or whose window elapsed restart
// the window; unchanged rules only refresh usage.
func (g *Governor) Observe(scope string, header http.Header) {
	if header == nil {
		return
	}
	usage, hasUsage := ParseUsage(header.Get(HeaderState))

	for _, rule := range ParseRules(header.Get(HeaderRules)) {
		hits := g.currentHits(rule.Scope)
		if hasUsage && rule.Scope == scope {
			hits = usage.Hits
		}
		if g.ruleChanged(rule) {
			g.ObserveQuota(rule.Scope, hits, rule.Hits, rule.Period, rule.Penalty)
		} else {
			g.ObserveUsage(rule.Scope, hits, rule.Hits)
		}
	}
	if hasUsage {
		g.ObserveUsage(scope, usage.Hits, usage.Max)
	}
}

func (g *Governor) currentHits(scope string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.scopes[scope]; ok {
		return g.usageLocked(s, g.clock.Now())
	}
	return 0
}

func (g *Governor) ruleChanged(rule Rule) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.scopes[rule.Scope]
	if !ok || !s.quota || s.resetTime.IsZero() {
		return true
	}
	if !g.clock.Now().Before(s.resetTime) {
		return true
	}
	return s.max != rule.Hits || s.period != rule.Period || s.penalty != rule.Penalty
}

// HandleOverLimit reacts to the response of a call made in scope. For a
// 429 it waits the server hint (default 60s) before returning, then feeds
// the headers back. Returns the wait applied, zero for other statuses.
func (g *Governor) HandleOverLimit(ctx context.Context, scope string, status int, header http.Header) (time.Duration, error) {
	if status != http.StatusTooManyRequests {
		g.Observe(scope, header)
		return 0, nil
	}

	wait := ParseRetryAfter(header)
	g.logger.Warn("over limit, backing off", map[string]any{
		"scope":   scope,
		"wait_ms": wait.Milliseconds(),
	})
	if err := sleep(ctx, g.clock, wait); err != nil {
		return 0, err
	}
	g.Observe(scope, header)
	return wait, nil
}

// Snapshot returns every scope the server has reported, sorted by name.
func (g *Governor) Snapshot() []ScopeSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	cutoff := now.Add(-BurstWindow)
	out := make([]ScopeSnapshot, 0, len(g.scopes))
	for name, s := range g.scopes {
		if !s.quota {
			continue
		}
		burst := 0
		for _, t := range s.calls {
			if t.After(cutoff) {
				burst++
			}
		}
		out = append(out, ScopeSnapshot{
			Scope:              name,
			Hits:               g.usageLocked(s, now),
			Max:                s.max,
			Period:             s.period,
			Penalty:            s.penalty,
			ResetTime:          s.resetTime,
			SafeMax:            s.safeMax,
			EmergencyThreshold: s.emergency,
			BurstCount:         burst,
			ConsecutiveHigh:    s.consecutiveHigh,
			LastDelay:          s.lastDelay,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-clk.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
