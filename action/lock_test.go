package action

import (
	"testing"
	"time"

	"github.com/justapithecus/livewatch/clock"
)

func TestLock_Timeout(t *testing.T) {
	clk := clock.Fake(epoch)
	l := NewLock(10*time.Second, clk)

	if l.Held() {
		t.Fatal("new lock should be free")
	}
	l.Acquire()
	clk.Advance(4 * time.Second)

	st := l.State()
	if !st.Locked || st.Remaining != 6*time.Second || !st.LockedAt.Equal(epoch) {
		t.Errorf("State() = %+v", st)
	}

	clk.Advance(6 * time.Second)
	if l.Held() {
		t.Error("lock should expire at timeout")
	}
	if st := l.State(); st.Locked {
		t.Errorf("State() after timeout = %+v", st)
	}
}

func TestLock_ReacquireRestartsTimeout(t *testing.T) {
	clk := clock.Fake(epoch)
	l := NewLock(10*time.Second, clk)
	l.Acquire()
	clk.Advance(8 * time.Second)
	l.Acquire()
	clk.Advance(8 * time.Second)
	if !l.Held() {
		t.Error("reacquire should restart the timeout")
	}
	l.Release()
	if l.Held() {
		t.Error("Release should clear")
	}
}
