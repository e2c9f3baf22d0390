package budget

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/livewatch/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAdmit_GraceCeiling(t *testing.T) {
	clk := clock.Fake(epoch)
	b := New(DefaultConfig(), clk)

	for i := range 25 {
		if err := b.Admit(); err != nil {
			t.Fatalf("attempt %d: Admit() = %v", i+1, err)
		}
	}
	if b.HasHeadroom() {
		t.Error("HasHeadroom() = true at ceiling")
	}
	if err := b.Admit(); !errors.Is(err, ErrHalted) {
		t.Fatalf("26th Admit() = %v, want ErrHalted", err)
	}
	if !b.Halted() {
		t.Fatal("budget should be halted")
	}

	s := b.Snapshot()
	if s.TotalAttempts != 26 || !s.InGrace || s.Halts != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.Reason == "" || !s.HaltedAt.Equal(epoch) {
		t.Errorf("halt details = %q at %v", s.Reason, s.HaltedAt)
	}
}

func TestAdmit_RefusedWhileHalted(t *testing.T) {
	b := New(DefaultConfig(), clock.Fake(epoch))
	b.Halt("operator")

	if err := b.Admit(); !errors.Is(err, ErrHalted) {
		t.Fatalf("Admit() = %v, want ErrHalted", err)
	}
	if s := b.Snapshot(); s.TotalAttempts != 0 {
		t.Errorf("TotalAttempts = %d, refused attempts must not count", s.TotalAttempts)
	}
}

func TestAdmit_SteadyWindow(t *testing.T) {
	clk := clock.Fake(epoch)
	b := New(DefaultConfig(), clk)
	clk.Advance(3 * time.Minute)

	for i := range 3 {
		if err := b.Admit(); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		clk.Advance(10 * time.Second)
	}
	if b.HasHeadroom() {
		t.Fatal("HasHeadroom() = true with 3 attempts in window")
	}

	// First attempt falls out of the trailing window.
	clk.Advance(35 * time.Second)
	if !b.HasHeadroom() {
		t.Fatal("HasHeadroom() = false after window slid")
	}
	if err := b.Admit(); err != nil {
		t.Fatalf("Admit() after slide = %v", err)
	}
	if err := b.Admit(); !errors.Is(err, ErrHalted) {
		t.Fatalf("burst Admit() = %v, want ErrHalted", err)
	}
	if s := b.Snapshot(); s.InGrace || s.Ceiling != 3 {
		t.Errorf("snapshot = %+v, want steady ceiling 3", s)
	}
}

func TestReset(t *testing.T) {
	clk := clock.Fake(epoch)
	b := New(Config{Grace: time.Minute, GraceCeiling: 2}, clk)
	_ = b.Admit()
	_ = b.Admit()
	_ = b.Admit()
	if !b.Halted() {
		t.Fatal("expected halt")
	}

	b.Reset()
	s := b.Snapshot()
	if s.Halted || s.TotalAttempts != 0 || s.Reason != "" {
		t.Errorf("after Reset snapshot = %+v", s)
	}
	if s.Halts != 1 {
		t.Errorf("Halts = %d, want 1 (survives reset)", s.Halts)
	}
	if !s.StartedAt.Equal(epoch) {
		t.Error("Reset must not restart the grace window")
	}
	if err := b.Admit(); err != nil {
		t.Errorf("Admit() after Reset = %v", err)
	}
}

func TestHasHeadroom_NoSideEffects(t *testing.T) {
	b := New(DefaultConfig(), clock.Fake(epoch))
	for range 100 {
		b.HasHeadroom()
	}
	if s := b.Snapshot(); s.TotalAttempts != 0 {
		t.Errorf("TotalAttempts = %d, want 0", s.TotalAttempts)
	}
}

func TestAdmit_Concurrent(t *testing.T) {
	b := New(DefaultConfig(), clock.Fake(epoch))

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Admit() == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 25 {
		t.Errorf("admitted = %d, want 25", admitted)
	}
	if !b.Halted() {
		t.Error("expected halt after oversubscription")
	}
}
