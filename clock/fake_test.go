package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(5 * time.Second)

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(epoch.Add(5 * time.Second)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("did not fire at deadline")
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", c.PendingCount())
	}
}

func TestFake_AfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}

func TestFake_WaitForTimers(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Minute)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never released")
	}
}

func TestFake_Ticker(t *testing.T) {
	c := Fake(epoch)
	tk := c.NewTicker(time.Second)

	c.Advance(time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFake_Set(t *testing.T) {
	c := Fake(epoch)
	c.Set(epoch.Add(-time.Hour))
	if !c.Now().Equal(epoch.Add(-time.Hour)) {
		t.Errorf("Now = %v", c.Now())
	}
}
