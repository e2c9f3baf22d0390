package action

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/livewatch/clock"
	"github.com/justapithecus/livewatch/metrics"
	"github.com/justapithecus/livewatch/queue"
	"github.com/justapithecus/livewatch/types"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type scriptedInvoker struct {
	mu       sync.Mutex
	tokens   []string
	outcomes []Outcome
	err      error
	entered  chan struct{}
	block    chan struct{}
}

func (s *scriptedInvoker) Invoke(ctx context.Context, token string) (Outcome, error) {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	if s.err != nil {
		return OutcomeOther, s.err
	}
	if len(s.outcomes) == 0 {
		return OutcomeSuccess, nil
	}
	o := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return o, nil
}

type fakeRefresher struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeRefresher) Refresh(_ context.Context, rec types.ResultRecord) (types.ResultRecord, error) {
	f.calls = append(f.calls, rec.ID)
	if f.fail[rec.ID] {
		return rec, errors.New("gone")
	}
	exp := epoch.Add(time.Hour)
	rec.Token = "fresh-" + rec.ID
	rec.TokenExpiresAt = &exp
	return rec, nil
}

type harness struct {
	clk       *clock.FakeClock
	queue     *queue.Queue
	lock      *Lock
	invoker   *scriptedInvoker
	refresher *fakeRefresher
	collector *metrics.Collector
	runner    *Runner
	dispatch  []Dispatch
	canAct    bool
}

func newHarness(cfg Config) *harness {
	h := &harness{
		clk:       clock.Fake(epoch),
		queue:     queue.New(10),
		invoker:   &scriptedInvoker{},
		refresher: &fakeRefresher{fail: map[string]bool{}},
		collector: metrics.NewCollector(),
		canAct:    true,
	}
	h.lock = NewLock(DefaultLockTimeout, h.clk)
	cfg.OnDispatch = func(_ context.Context, d Dispatch) { h.dispatch = append(h.dispatch, d) }
	h.runner = NewRunner(cfg, h.queue, h.lock, h.invoker, h.refresher,
		PredicateFunc(func() bool { return h.canAct }), h.clk, nil, h.collector)
	return h
}

func (h *harness) push(id string, expiresIn time.Duration) {
	rec := types.ResultRecord{ID: id, Token: "tok-" + id}
	if expiresIn != 0 {
		exp := epoch.Add(expiresIn)
		rec.TokenExpiresAt = &exp
	}
	_, _ = h.queue.Push(rec)
}

var enabled = Config{Enabled: true, Auto: true}

func TestRun_EmptyQueueIsNoop(t *testing.T) {
	h := newHarness(enabled)
	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunEmpty {
		t.Errorf("Outcome = %s, want empty", res.Outcome)
	}
	if h.lock.Held() {
		t.Error("lock must be unchanged on empty queue")
	}
	if len(h.invoker.tokens) != 0 {
		t.Error("no dispatch expected")
	}
}

func TestRun_Gates(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(Config{})
		h.push("a", 0)
		if res := h.runner.Run(t.Context(), TriggerManual); res.Outcome != RunDisabled {
			t.Errorf("Outcome = %s", res.Outcome)
		}
	})
	t.Run("auto disabled", func(t *testing.T) {
		h := newHarness(Config{Enabled: true})
		h.push("a", 0)
		if res := h.runner.Run(t.Context(), TriggerAutomatic); res.Outcome != RunAutoDisabled {
			t.Errorf("Outcome = %s", res.Outcome)
		}
		if res := h.runner.Run(t.Context(), TriggerManual); res.Outcome != RunClaimed {
			t.Errorf("manual Outcome = %s, want claimed", res.Outcome)
		}
	})
	t.Run("invalid context", func(t *testing.T) {
		h := newHarness(enabled)
		h.canAct = false
		h.push("a", 0)
		if res := h.runner.Run(t.Context(), TriggerManual); res.Outcome != RunInvalidContext {
			t.Errorf("Outcome = %s", res.Outcome)
		}
	})
	t.Run("locked", func(t *testing.T) {
		h := newHarness(enabled)
		h.push("a", 0)
		h.lock.Acquire()
		res := h.runner.Run(t.Context(), TriggerManual)
		if res.Outcome != RunLocked || !errors.Is(res.Err, ErrLocked) {
			t.Errorf("Outcome = %s, err = %v", res.Outcome, res.Err)
		}
		if len(h.invoker.tokens) != 0 {
			t.Error("dispatched while locked")
		}
	})
}

func TestRun_SuccessClearsQueueAndLocks(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", time.Hour)
	h.push("b", time.Hour)

	res := h.runner.Run(t.Context(), TriggerAutomatic)
	if res.Outcome != RunClaimed || res.RecordID != "a" || res.Dispatches != 1 {
		t.Fatalf("result = %+v", res)
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue len = %d, want cleared", h.queue.Len())
	}
	if !h.lock.Held() {
		t.Error("lock should be held after dispatch")
	}
	if len(h.dispatch) != 1 || h.dispatch[0].Outcome != OutcomeSuccess || h.dispatch[0].Trigger != TriggerAutomatic {
		t.Errorf("dispatches = %+v", h.dispatch)
	}
	if len(h.refresher.calls) != 0 {
		t.Error("fresh token should not be refreshed")
	}

	s := h.collector.Snapshot()
	if s.ActionsDispatched != 1 || s.ActionsByOutcome["success"] != 1 {
		t.Errorf("metrics = %+v", s)
	}

	// Lock releases on unlock signal.
	h.runner.Unlock()
	if h.lock.Held() {
		t.Error("Unlock should release")
	}
}

func TestRun_ExpiredTokenRefreshedOnce(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", 10*time.Second) // inside the 30s buffer

	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunClaimed {
		t.Fatalf("Outcome = %s", res.Outcome)
	}
	if len(h.refresher.calls) != 1 {
		t.Errorf("refresh calls = %d, want 1", len(h.refresher.calls))
	}
	if h.invoker.tokens[0] != "fresh-a" {
		t.Errorf("dispatched token = %q, want refreshed", h.invoker.tokens[0])
	}
}

func TestRun_RefreshFailureAdvances(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", -time.Minute)
	h.push("b", time.Hour)
	h.refresher.fail["a"] = true

	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunClaimed || res.RecordID != "b" || res.Dropped != 1 {
		t.Fatalf("result = %+v", res)
	}
	for _, tok := range h.invoker.tokens {
		if tok == "tok-a" {
			t.Fatal("dispatched an expired, unrefreshed token")
		}
	}
	if len(h.refresher.calls) != 1 || h.refresher.calls[0] != "a" {
		t.Errorf("refresh calls = %v", h.refresher.calls)
	}
}

func TestRun_RecoverableOutcomesAdvance(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", 0)
	h.push("b", 0)
	h.push("c", 0)
	h.invoker.outcomes = []Outcome{OutcomeNotFound, OutcomeBadRequest, OutcomeSuccess}

	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunClaimed || res.RecordID != "c" {
		t.Fatalf("result = %+v", res)
	}
	if res.Dispatches != 3 || res.Dropped != 2 {
		t.Errorf("dispatches = %d dropped = %d", res.Dispatches, res.Dropped)
	}
	want := []string{"tok-a", "tok-b", "tok-c"}
	for i, tok := range want {
		if h.invoker.tokens[i] != tok {
			t.Errorf("token[%d] = %q, want %q", i, h.invoker.tokens[i], tok)
		}
	}
}

func TestRun_UnavailableRetriesSameRecordOnce(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", time.Hour)
	h.push("b", time.Hour)
	h.invoker.outcomes = []Outcome{OutcomeUnavailable, OutcomeSuccess}

	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunClaimed || res.RecordID != "a" || res.Dispatches != 2 {
		t.Fatalf("result = %+v", res)
	}
	if h.invoker.tokens[0] != "tok-a" || h.invoker.tokens[1] != "fresh-a" {
		t.Errorf("tokens = %v", h.invoker.tokens)
	}
}

func TestRun_UnavailableRefreshFailsAdvances(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", time.Hour)
	h.push("b", time.Hour)
	h.invoker.outcomes = []Outcome{OutcomeUnavailable, OutcomeSuccess}
	h.refresher.fail["a"] = true

	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunClaimed || res.RecordID != "b" {
		t.Fatalf("result = %+v", res)
	}
	if res.Dropped != 1 || res.Dispatches != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_TerminalFailureKeepsQueueAndLock(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", 0)
	h.push("b", 0)
	h.invoker.outcomes = []Outcome{OutcomeOther}

	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunFailed || res.RecordID != "a" {
		t.Fatalf("result = %+v", res)
	}
	if h.queue.Len() != 2 {
		t.Errorf("queue len = %d, want 2", h.queue.Len())
	}
	if !h.lock.Held() {
		t.Error("terminal failure should keep the lock")
	}

	h.clk.Advance(DefaultLockTimeout)
	if h.lock.Held() {
		t.Error("lock should time out")
	}
}

func TestRun_InvokeErrorIsTerminalWithoutLock(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", 0)
	h.invoker.err = errors.New("dial tcp: refused")

	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunFailed || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if h.lock.Held() {
		t.Error("lock must not be set when the request was never sent")
	}
	if h.queue.Len() != 1 {
		t.Error("queue should be untouched")
	}
}

func TestRun_ResponseLostAfterSendLocks(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", 0)
	h.push("b", 0)
	h.invoker.err = &SentError{Err: context.DeadlineExceeded}

	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunCanceled || !IsSent(res.Err) {
		t.Fatalf("result = %+v", res)
	}
	if res.Dispatches != 1 {
		t.Errorf("Dispatches = %d, want 1", res.Dispatches)
	}
	if !h.lock.Held() {
		t.Fatal("lock must be set once the claim reached the server")
	}
	if h.queue.Len() != 2 {
		t.Errorf("queue len = %d, want 2", h.queue.Len())
	}
	if len(h.dispatch) != 1 || h.dispatch[0].Outcome != OutcomeUnknown {
		t.Errorf("dispatches = %+v, want one unknown outcome", h.dispatch)
	}

	h.invoker.err = nil
	if res := h.runner.Run(t.Context(), TriggerAutomatic); res.Outcome != RunLocked {
		t.Errorf("second run = %s, want locked", res.Outcome)
	}
	if len(h.invoker.tokens) != 1 {
		t.Errorf("invocations = %d, want no duplicate claim", len(h.invoker.tokens))
	}
}

func TestRun_AllRecoverableExhausts(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", 0)
	h.push("b", 0)
	h.invoker.outcomes = []Outcome{OutcomeNotFound, OutcomeNotFound}

	res := h.runner.Run(t.Context(), TriggerManual)
	if res.Outcome != RunExhausted || res.Dropped != 2 {
		t.Fatalf("result = %+v", res)
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue len = %d", h.queue.Len())
	}
	if h.lock.Held() {
		t.Error("recoverable failures release the lock")
	}
}

func TestRun_Busy(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", 0)
	h.invoker.entered = make(chan struct{}, 1)
	h.invoker.block = make(chan struct{})

	done := make(chan Result, 1)
	go func() { done <- h.runner.Run(t.Context(), TriggerManual) }()

	<-h.invoker.entered
	if res := h.runner.Run(t.Context(), TriggerManual); res.Outcome != RunBusy {
		t.Errorf("concurrent Run = %s, want busy", res.Outcome)
	}

	close(h.invoker.block)
	if res := <-done; res.Outcome != RunClaimed {
		t.Errorf("first Run = %+v", res)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	h := newHarness(enabled)
	h.push("a", 0)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res := h.runner.Run(ctx, TriggerManual)
	if res.Outcome != RunCanceled {
		t.Errorf("Outcome = %s, want canceled", res.Outcome)
	}
}
