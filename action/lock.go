package action

import (
	"sync"
	"time"

	"github.com/justapithecus/livewatch/clock"
)

// DefaultLockTimeout releases a held lock when no unlock signal arrives.
const DefaultLockTimeout = 10 * time.Second

// LockState is a read-only view of the lock.
type LockState struct {
	Locked    bool          `json:"locked"`
	LockedAt  time.Time     `json:"locked_at,omitzero"`
	Remaining time.Duration `json:"remaining"`
}

// Lock blocks new dispatches after a claim request was sent. It clears on
// Release or once Timeout has elapsed since Acquire.
type Lock struct {
	mu       sync.Mutex
	clock    clock.Clock
	timeout  time.Duration
	locked   bool
	lockedAt time.Time
}

// NewLock creates an unlocked Lock.
func NewLock(timeout time.Duration, clk clock.Clock) *Lock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Lock{clock: clk, timeout: timeout}
}

// Acquire sets the lock, restarting the timeout.
func (l *Lock) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = true
	l.lockedAt = l.clock.Now()
}

// Release clears the lock.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = false
	l.lockedAt = time.Time{}
}

// Held reports whether the lock is set and not yet timed out.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heldLocked(l.clock.Now())
}

func (l *Lock) heldLocked(now time.Time) bool {
	if !l.locked {
		return false
	}
	if now.Sub(l.lockedAt) >= l.timeout {
		l.locked = false
		l.lockedAt = time.Time{}
		return false
	}
	return true
}

// State returns the current lock state.
func (l *Lock) State() LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if !l.heldLocked(now) {
		return LockState{}
	}
	return LockState{
		Locked:    true,
		LockedAt:  l.lockedAt,
		Remaining: l.timeout - now.Sub(l.lockedAt),
	}
}
