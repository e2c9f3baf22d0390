// Package action drives the claim action for queued results.
//
// Runner consumes the queue head: it refreshes expired tokens, dispatches
// the claim through an Invoker and advances past records that sold or
// went stale. A Lock set on every dispatch keeps a second claim from
// starting until the destination signals readiness (Unlock) or the lock
// times out.
package action

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/livewatch/clock"
	"github.com/justapithecus/livewatch/log"
	"github.com/justapithecus/livewatch/metrics"
	"github.com/justapithecus/livewatch/queue"
	"github.com/justapithecus/livewatch/types"
)

// DefaultExpiryBuffer is subtracted from a token expiry when judging it.
const DefaultExpiryBuffer = 30 * time.Second

// ErrLocked is reported when a dispatch is refused because the lock is held.
var ErrLocked = errors.New("action locked")

// Trigger says who asked for the run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerAutomatic Trigger = "automatic"
)

// RunOutcome summarizes a Run.
type RunOutcome string

const (
	RunDisabled       RunOutcome = "disabled"
	RunAutoDisabled   RunOutcome = "auto_disabled"
	RunInvalidContext RunOutcome = "invalid_context"
	RunLocked         RunOutcome = "locked"
	RunBusy           RunOutcome = "busy"
	RunEmpty          RunOutcome = "empty"
	RunClaimed        RunOutcome = "claimed"
	RunExhausted      RunOutcome = "exhausted"
	RunFailed         RunOutcome = "failed"
	RunCanceled       RunOutcome = "canceled"
)

// Result reports what a Run did.
type Result struct {
	Outcome RunOutcome
	// RecordID is the record claimed, or the one that failed terminally.
	RecordID string
	// Dispatches counts claim requests sent during the run.
	Dispatches int
	// Dropped counts records discarded as recoverable failures.
	Dropped int
	// Err is set for RunFailed and RunCanceled.
	Err error
}

// Refresher fetches a fresh token for a record.
type Refresher interface {
	Refresh(ctx context.Context, rec types.ResultRecord) (types.ResultRecord, error)
}

// ContextPredicate reports whether acting is valid right now.
type ContextPredicate interface {
	CanAct() bool
}

// PredicateFunc adapts a function to ContextPredicate.
type PredicateFunc func() bool

// CanAct calls f.
func (f PredicateFunc) CanAct() bool { return f() }

// Dispatch describes one sent claim request.
type Dispatch struct {
	Record  types.ResultRecord
	Outcome Outcome
	Trigger Trigger
	At      time.Time
}

// DispatchFunc observes dispatches. It runs on the Run goroutine and must
// not block.
type DispatchFunc func(ctx context.Context, d Dispatch)

// Config configures a Runner.
type Config struct {
	// Enabled is the global switch.
	Enabled bool
	// Auto allows TriggerAutomatic runs.
	Auto bool
	// ExpiryBuffer defaults to DefaultExpiryBuffer.
	ExpiryBuffer time.Duration
	// OnDispatch is optional.
	OnDispatch DispatchFunc
}

// Runner is the action retry pipeline. Runs are serialized; a Run that
// finds another in progress returns RunBusy.
type Runner struct {
	cfg       Config
	queue     *queue.Queue
	lock      *Lock
	invoker   Invoker
	refresher Refresher
	predicate ContextPredicate
	clock     clock.Clock
	logger    *log.Logger
	metrics   *metrics.Collector

	running  sync.Mutex
	switchMu sync.Mutex
}

// NewRunner wires a runner. predicate, logger and collector may be nil.
func NewRunner(cfg Config, q *queue.Queue, lock *Lock, invoker Invoker, refresher Refresher, predicate ContextPredicate, clk clock.Clock, logger *log.Logger, collector *metrics.Collector) *Runner {
	if cfg.ExpiryBuffer <= 0 {
		cfg.ExpiryBuffer = DefaultExpiryBuffer
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{
		cfg:       cfg,
		queue:     q,
		lock:      lock,
		invoker:   invoker,
		refresher: refresher,
		predicate: predicate,
		clock:     clk,
		logger:    logger.With(map[string]any{"component": "action"}),
		metrics:   collector,
	}
}

// SetEnabled flips the global and automatic switches.
func (r *Runner) SetEnabled(enabled, auto bool) {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()
	r.cfg.Enabled = enabled
	r.cfg.Auto = auto
}

func (r *Runner) switches() (enabled, auto bool) {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()
	return r.cfg.Enabled, r.cfg.Auto
}

// Unlock is the external "destination ready" signal.
func (r *Runner) Unlock() {
	r.lock.Release()
}

// LockState returns the lock state.
func (r *Runner) LockState() LockState {
	return r.lock.State()
}

// Run claims the queue head. Recoverable failures discard the record and
// advance; the loop is bounded by the queue length at entry.
func (r *Runner) Run(ctx context.Context, trigger Trigger) Result {
	if !r.running.TryLock() {
		return Result{Outcome: RunBusy}
	}
	defer r.running.Unlock()

	enabled, auto := r.switches()
	switch {
	case !enabled:
		return Result{Outcome: RunDisabled}
	case trigger == TriggerAutomatic && !auto:
		return Result{Outcome: RunAutoDisabled}
	case r.predicate != nil && !r.predicate.CanAct():
		r.logger.Debug("context not valid for action", nil)
		return Result{Outcome: RunInvalidContext}
	case r.lock.Held():
		r.logger.Info("action locked, skipping", map[string]any{"trigger": string(trigger)})
		return Result{Outcome: RunLocked, Err: ErrLocked}
	}

	var res Result
	for remaining := r.queue.Len(); remaining > 0; remaining-- {
		if err := ctx.Err(); err != nil {
			res.Outcome, res.Err = RunCanceled, err
			return res
		}

		rec, ok := r.queue.Peek()
		if !ok {
			break
		}

		rec, ok = r.ensureFresh(ctx, rec)
		if !ok {
			r.drop(rec, "token refresh failed", &res)
			continue
		}

		outcome, err := r.dispatch(ctx, trigger, rec, &res)
		if err != nil {
			return r.failed(rec, err, &res)
		}

		if outcome == OutcomeUnavailable {
			// One refresh-and-retry of the same record.
			r.lock.Release()
			if fresh, err := r.refresh(ctx, rec); err == nil {
				rec = fresh
				outcome, err = r.dispatch(ctx, trigger, rec, &res)
				if err != nil {
					return r.failed(rec, err, &res)
				}
			}
		}

		switch {
		case outcome == OutcomeSuccess:
			cleared := r.queue.Clear()
			r.logger.Info("item claimed", map[string]any{
				"id":      rec.ID,
				"item":    rec.DisplayName(),
				"trigger": string(trigger),
				"cleared": cleared,
			})
			res.Outcome, res.RecordID = RunClaimed, rec.ID
			return res
		case outcome.Recoverable():
			r.lock.Release()
			r.drop(rec, string(outcome), &res)
		default:
			r.logger.Warn("claim failed, keeping queue", map[string]any{
				"id":      rec.ID,
				"outcome": string(outcome),
			})
			res.Outcome, res.RecordID = RunFailed, rec.ID
			return res
		}
	}

	if res.Dispatches == 0 && res.Dropped == 0 {
		res.Outcome = RunEmpty
	} else {
		res.Outcome = RunExhausted
	}
	return res
}

// ensureFresh refreshes rec once if its token is expired. It returns
// false when the refresh failed.
func (r *Runner) ensureFresh(ctx context.Context, rec types.ResultRecord) (types.ResultRecord, bool) {
	if !rec.Expired(r.clock.Now(), r.cfg.ExpiryBuffer) {
		return rec, true
	}
	fresh, err := r.refresh(ctx, rec)
	if err != nil {
		return rec, false
	}
	return fresh, true
}

func (r *Runner) refresh(ctx context.Context, rec types.ResultRecord) (types.ResultRecord, error) {
	if r.refresher == nil {
		return rec, errors.New("no refresher configured")
	}
	fresh, err := r.refresher.Refresh(ctx, rec)
	if err != nil {
		r.logger.Info("token refresh failed", map[string]any{"id": rec.ID, "error": err.Error()})
		return rec, err
	}
	r.queue.Replace(fresh)
	return fresh, nil
}

// dispatch sends the claim and sets the lock once the request reached the
// server, including when its response was lost.
func (r *Runner) dispatch(ctx context.Context, trigger Trigger, rec types.ResultRecord, res *Result) (Outcome, error) {
	outcome, err := r.invoker.Invoke(ctx, rec.Token)
	if err != nil && !IsSent(err) {
		return outcome, err
	}
	r.lock.Acquire()
	res.Dispatches++
	r.metrics.IncActionDispatched()
	if err != nil {
		outcome = OutcomeUnknown
	} else {
		r.metrics.IncActionOutcome(string(outcome))
	}

	if r.cfg.OnDispatch != nil {
		r.cfg.OnDispatch(ctx, Dispatch{Record: rec, Outcome: outcome, Trigger: trigger, At: r.clock.Now()})
	}
	return outcome, err
}

func (r *Runner) drop(rec types.ResultRecord, reason string, res *Result) {
	r.queue.Remove(rec.ID)
	res.Dropped++
	r.logger.Info("discarding record", map[string]any{"id": rec.ID, "reason": reason})
}

func (r *Runner) failed(rec types.ResultRecord, err error, res *Result) Result {
	r.logger.Warn("claim request failed", map[string]any{"id": rec.ID, "error": err.Error()})
	r.metrics.IncActionOutcome("error")
	res.Outcome, res.RecordID, res.Err = RunFailed, rec.ID, err
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		res.Outcome = RunCanceled
	}
	return *res
}
