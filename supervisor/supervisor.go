// Package supervisor reconciles the desired listener set against live
// listeners on a fixed tick.
//
// Each full tick stops listeners that are no longer desired, restarts
// idle ones whose gates pass, and creates listeners for new configs while
// the global attempt budget has headroom. Ticks never overlap; a tick
// that arrives within MinTickGap of the last full tick only runs the
// emergency check. While the budget is halted every listener is stopped
// and nothing is started until ResetHalt.
package supervisor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/livewatch/budget"
	"github.com/justapithecus/livewatch/clock"
	"github.com/justapithecus/livewatch/listener"
	"github.com/justapithecus/livewatch/log"
	"github.com/justapithecus/livewatch/types"
)

// MaxListeners is the hard ceiling on concurrent listeners.
const MaxListeners = 20

// Defaults.
const (
	DefaultInterval   = 5 * time.Second
	DefaultMinTickGap = 2 * time.Second
)

// ConfigSource supplies the desired listener set.
type ConfigSource interface {
	Desired() []types.ListenerConfig
}

// ConfigFunc adapts a function to ConfigSource.
type ConfigFunc func() []types.ListenerConfig

// Desired calls f.
func (f ConfigFunc) Desired() []types.ListenerConfig { return f() }

// Listener is the part of *listener.Listener the supervisor drives.
type Listener interface {
	Config() types.ListenerConfig
	CanStart() (bool, listener.Gate)
	Start(ctx context.Context) (bool, listener.Gate)
	Stop()
	Stopped() bool
	Done() <-chan struct{}
	Snapshot() types.ListenerSnapshot
}

// Factory creates a listener for cfg.
type Factory func(cfg types.ListenerConfig) Listener

// HaltFunc is called once per emergency halt.
type HaltFunc func(ctx context.Context, snap budget.Snapshot)

// Config configures a Supervisor.
type Config struct {
	Interval     time.Duration
	MinTickGap   time.Duration
	MaxListeners int
	OnHalt       HaltFunc
}

// TickResult reports what a Tick did.
type TickResult struct {
	// Skipped is set when another tick was in progress.
	Skipped bool
	// Light is set when only the emergency check ran.
	Light   bool
	Halted  bool
	Paused  bool
	Desired int
	Dropped int
	Stopped int
	Created int
	Started int
	// Deferred counts new configs not created for lack of budget headroom.
	Deferred int
}

// Supervisor owns the live listeners. Safe for concurrent use.
type Supervisor struct {
	cfg     Config
	source  ConfigSource
	factory Factory
	budget  *budget.Budget
	clock   clock.Clock
	logger  *log.Logger

	ticking atomic.Bool

	mu           sync.Mutex
	listeners    map[types.ListenerKey]Listener
	order        []types.ListenerKey
	lastFull     time.Time
	haltNotified int
	paused       bool
}

// New creates a Supervisor.
func New(cfg Config, source ConfigSource, factory Factory, b *budget.Budget, clk clock.Clock, logger *log.Logger) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinTickGap <= 0 {
		cfg.MinTickGap = DefaultMinTickGap
	}
	if cfg.MaxListeners <= 0 || cfg.MaxListeners > MaxListeners {
		cfg.MaxListeners = MaxListeners
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Supervisor{
		cfg:       cfg,
		source:    source,
		factory:   factory,
		budget:    b,
		clock:     clk,
		logger:    logger.With(map[string]any{"component": "supervisor"}),
		listeners: make(map[types.ListenerKey]Listener),
	}
}

// Run ticks until ctx ends, then stops every listener. Listener sessions
// derive from ctx.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Desired returns the deduplicated, capped desired set in source order.
func Desired(configs []types.ListenerConfig, limit int) (desired []types.ListenerConfig, dropped int) {
	seen := make(map[types.ListenerKey]bool, len(configs))
	for _, c := range configs {
		if seen[c.Key] {
			continue
		}
		seen[c.Key] = true
		if len(desired) >= limit {
			dropped++
			continue
		}
		desired = append(desired, c)
	}
	return desired, dropped
}

// Tick runs one reconcile pass. ctx must outlive the listeners it starts.
func (s *Supervisor) Tick(ctx context.Context) TickResult {
	if !s.ticking.CompareAndSwap(false, true) {
		return TickResult{Skipped: true}
	}
	defer s.ticking.Store(false)

	if s.budget.Halted() {
		s.enforceHalt(ctx)
		return TickResult{Halted: true}
	}

	now := s.clock.Now()
	s.mu.Lock()
	if !s.lastFull.IsZero() && now.Sub(s.lastFull) < s.cfg.MinTickGap {
		s.mu.Unlock()
		return TickResult{Light: true}
	}
	s.lastFull = now
	if s.paused {
		s.mu.Unlock()
		return TickResult{Paused: true}
	}
	s.mu.Unlock()

	desired, dropped := Desired(s.source.Desired(), s.cfg.MaxListeners)
	res := TickResult{Desired: len(desired), Dropped: dropped}
	if dropped > 0 {
		s.logger.Warn("desired set exceeds listener cap, dropping excess", map[string]any{
			"cap":     s.cfg.MaxListeners,
			"dropped": dropped,
		})
	}

	wanted := make(map[types.ListenerKey]bool, len(desired))
	for _, c := range desired {
		wanted[c.Key] = true
	}

	s.mu.Lock()
	for key, l := range s.listeners {
		if !wanted[key] {
			l.Stop()
			delete(s.listeners, key)
			res.Stopped++
			s.logger.Info("listener removed", map[string]any{"listener": key.String()})
		}
	}
	s.order = s.order[:0]
	for _, c := range desired {
		s.order = append(s.order, c.Key)
	}
	s.mu.Unlock()

	for _, c := range desired {
		if s.budget.Halted() {
			break
		}
		l, created := s.ensure(c)
		if l == nil {
			res.Deferred++
			continue
		}
		if created {
			res.Created++
		}
		if ok, _ := l.CanStart(); !ok {
			continue
		}
		if ok, _ := l.Start(ctx); ok {
			res.Started++
		}
	}

	if s.budget.Halted() {
		s.enforceHalt(ctx)
		res.Halted = true
	}
	return res
}

// ensure returns the listener for c, creating it if the budget allows.
func (s *Supervisor) ensure(c types.ListenerConfig) (Listener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.listeners[c.Key]; ok && !l.Stopped() {
		return l, false
	}
	delete(s.listeners, c.Key)

	if !s.budget.HasHeadroom() {
		return nil, false
	}
	l := s.factory(c)
	s.listeners[c.Key] = l
	return l, true
}

// enforceHalt stops every listener and notifies once per halt.
func (s *Supervisor) enforceHalt(ctx context.Context) {
	stopped := s.stopAll()
	snap := s.budget.Snapshot()

	s.mu.Lock()
	notify := snap.Halts != s.haltNotified
	s.haltNotified = snap.Halts
	s.mu.Unlock()

	if !notify {
		return
	}
	s.logger.Error("emergency halt: all listeners stopped", map[string]any{
		"reason":   snap.Reason,
		"attempts": snap.TotalAttempts,
		"stopped":  stopped,
	})
	if s.cfg.OnHalt != nil {
		s.cfg.OnHalt(ctx, snap)
	}
}

func (s *Supervisor) stopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, l := range s.listeners {
		l.Stop()
		delete(s.listeners, key)
		n++
	}
	return n
}

// StopAll stops every listener and pauses reconciliation until Resume.
func (s *Supervisor) StopAll() int {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	n := s.stopAll()
	s.logger.Info("all listeners stopped by operator", map[string]any{"stopped": n})
	return n
}

// Resume lifts a StopAll pause.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Paused reports whether StopAll paused reconciliation.
func (s *Supervisor) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// ResetHalt clears the emergency halt and the attempt counters. Listeners
// come back on the next full tick.
func (s *Supervisor) ResetHalt() {
	s.budget.Reset()
	s.logger.Warn("emergency halt reset by operator", nil)
}

// Snapshots returns listener snapshots in desired order.
func (s *Supervisor) Snapshots() []types.ListenerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	rank := make(map[types.ListenerKey]int, len(s.order))
	for i, k := range s.order {
		rank[k] = i
	}
	out := make([]types.ListenerSnapshot, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l.Snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].Config.Key]
		rj, jok := rank[out[j].Config.Key]
		if iok != jok {
			return iok
		}
		if ri != rj {
			return ri < rj
		}
		return out[i].Config.Key.String() < out[j].Config.Key.String()
	})
	return out
}

// Shutdown stops every listener and waits for teardown up to ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	all := make([]Listener, 0, len(s.listeners))
	for key, l := range s.listeners {
		all = append(all, l)
		delete(s.listeners, key)
	}
	s.mu.Unlock()

	for _, l := range all {
		l.Stop()
	}
	for _, l := range all {
		select {
		case <-l.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
