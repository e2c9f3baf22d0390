package runtime

import (
	"context"

	"github.com/justapithecus/livewatch/action"
)

// StopAll stops every listener and pauses reconciliation until Resume.
// It returns the number of listeners stopped.
func (e *Engine) StopAll() int {
	n := e.supervisor.StopAll()
	e.logger.Info("operator stopped all listeners", map[string]any{"stopped": n})
	return n
}

// Resume lifts a StopAll pause. Listeners come back on the next tick.
func (e *Engine) Resume() {
	e.supervisor.Resume()
	e.logger.Info("operator resumed listeners", nil)
}

// ResetHalt clears an emergency halt. Listeners restart through their
// own gates on the next tick.
func (e *Engine) ResetHalt() {
	e.supervisor.ResetHalt()
	e.logger.Warn("operator reset emergency halt", nil)
}

// Remove drops a queued record.
func (e *Engine) Remove(id string) bool {
	return e.queue.Remove(id)
}

// Promote moves a queued record to the head of the queue.
func (e *Engine) Promote(id string) bool {
	return e.queue.Promote(id)
}

// ClearQueue drops every queued record.
func (e *Engine) ClearQueue() int {
	return e.queue.Clear()
}

// ClaimNow runs the claim pipeline for the head of the queue on behalf
// of the operator. It blocks until the run ends.
func (e *Engine) ClaimNow(ctx context.Context) action.Result {
	return e.runner.Run(ctx, action.TriggerManual)
}

// Unlock releases the action lock early.
func (e *Engine) Unlock() {
	e.runner.Unlock()
}

// SetActions flips the global and automatic action switches.
func (e *Engine) SetActions(enabled, auto bool) {
	e.mu.Lock()
	e.actionsEnabled, e.actionsAuto = enabled, auto
	e.mu.Unlock()
	e.runner.SetEnabled(enabled, auto)
	e.logger.Info("action switches changed", map[string]any{"enabled": enabled, "auto": auto})
}

func (e *Engine) actionSwitches() (enabled, auto bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.actionsEnabled, e.actionsAuto
}
