// Package budget enforces the process-wide ceiling on connection attempts.
//
// One Budget is shared by the Supervisor and every Listener. During the
// startup grace window the ceiling is generous so many listeners can come
// up at once; afterwards a small ceiling over a trailing window suppresses
// retry storms. Exceeding the ceiling trips an emergency halt that stays
// set until Reset is called.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/livewatch/clock"
)

// ErrHalted is returned by Admit while the emergency halt is set, and by
// the attempt that trips it.
var ErrHalted = errors.New("emergency halt: global attempt budget exceeded")

// Config holds the budget ceilings.
type Config struct {
	// Grace is the startup window during which GraceCeiling applies.
	Grace time.Duration `json:"grace" yaml:"grace"`
	// GraceCeiling caps total attempts admitted during Grace.
	GraceCeiling int `json:"grace_ceiling" yaml:"grace_ceiling"`
	// SteadyCeiling caps attempts within SteadyWindow after Grace.
	SteadyCeiling int `json:"steady_ceiling" yaml:"steady_ceiling"`
	// SteadyWindow is the trailing window for SteadyCeiling.
	SteadyWindow time.Duration `json:"steady_window" yaml:"steady_window"`
}

// DefaultConfig returns the standard ceilings.
func DefaultConfig() Config {
	return Config{
		Grace:         2 * time.Minute,
		GraceCeiling:  25,
		SteadyCeiling: 3,
		SteadyWindow:  time.Minute,
	}
}

// Snapshot is a read-only view of the budget.
type Snapshot struct {
	TotalAttempts  int       `json:"total_attempts"`
	WindowAttempts int       `json:"window_attempts"`
	Ceiling        int       `json:"ceiling"`
	InGrace        bool      `json:"in_grace"`
	StartedAt      time.Time `json:"started_at"`
	Halted         bool      `json:"halted"`
	HaltedAt       time.Time `json:"halted_at,omitzero"`
	Reason         string    `json:"reason,omitempty"`
	// Halts counts trips since process start; it survives Reset.
	Halts int `json:"halts"`
}

// Budget is the shared attempt counter. Safe for concurrent use.
type Budget struct {
	mu       sync.Mutex
	cfg      Config
	clock    clock.Clock
	start    time.Time
	total    int
	attempts []time.Time
	halted   bool
	haltedAt time.Time
	reason   string
	halts    int
}

// New creates a Budget whose grace window starts now.
func New(cfg Config, clk clock.Clock) *Budget {
	def := DefaultConfig()
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	if cfg.GraceCeiling <= 0 {
		cfg.GraceCeiling = def.GraceCeiling
	}
	if cfg.SteadyCeiling <= 0 {
		cfg.SteadyCeiling = def.SteadyCeiling
	}
	if cfg.SteadyWindow <= 0 {
		cfg.SteadyWindow = def.SteadyWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Budget{cfg: cfg, clock: clk, start: clk.Now()}
}

func (b *Budget) inGraceLocked(now time.Time) bool {
	return now.Sub(b.start) < b.cfg.Grace
}

// countLocked returns the attempts that count against the current ceiling.
func (b *Budget) countLocked(now time.Time) (count, ceiling int) {
	if b.inGraceLocked(now) {
		return b.total, b.cfg.GraceCeiling
	}
	cutoff := now.Add(-b.cfg.SteadyWindow)
	for _, t := range b.attempts {
		if t.After(cutoff) {
			count++
		}
	}
	return count, b.cfg.SteadyCeiling
}

func (b *Budget) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.SteadyWindow)
	kept := b.attempts[:0]
	for _, t := range b.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.attempts = kept
}

// Admit counts one connection attempt. It returns ErrHalted without
// counting while halted, and trips the halt (returning ErrHalted) when
// this attempt exceeds the ceiling.
func (b *Budget) Admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.halted {
		return ErrHalted
	}

	now := b.clock.Now()
	b.pruneLocked(now)
	b.total++
	b.attempts = append(b.attempts, now)

	count, ceiling := b.countLocked(now)
	if count > ceiling {
		phase := "steady"
		if b.inGraceLocked(now) {
			phase = "grace"
		}
		b.halted = true
		b.haltedAt = now
		b.halts++
		b.reason = fmt.Sprintf("%d attempts exceed %s ceiling of %d", count, phase, ceiling)
		return ErrHalted
	}
	return nil
}

// HasHeadroom reports whether one more attempt would be admitted.
// It does not count anything.
func (b *Budget) HasHeadroom() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halted {
		return false
	}
	count, ceiling := b.countLocked(b.clock.Now())
	return count+1 <= ceiling
}

// Halted reports whether the emergency halt is set.
func (b *Budget) Halted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

// Halt sets the emergency halt explicitly.
func (b *Budget) Halt(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.halted {
		return
	}
	b.halted = true
	b.haltedAt = b.clock.Now()
	b.halts++
	b.reason = reason
}

// Reset clears the halt and the attempt counters. The grace window is not
// restarted.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = false
	b.haltedAt = time.Time{}
	b.reason = ""
	b.total = 0
	b.attempts = nil
}

// Snapshot returns the current budget state.
func (b *Budget) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	count, ceiling := b.countLocked(now)
	return Snapshot{
		TotalAttempts:  b.total,
		WindowAttempts: count,
		Ceiling:        ceiling,
		InGrace:        b.inGraceLocked(now),
		StartedAt:      b.start,
		Halted:         b.halted,
		HaltedAt:       b.haltedAt,
		Reason:         b.reason,
		Halts:          b.halts,
	}
}
