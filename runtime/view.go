package runtime

import (
	"time"

	"github.com/justapithecus/livewatch/action"
	"github.com/justapithecus/livewatch/budget"
	"github.com/justapithecus/livewatch/metrics"
	"github.com/justapithecus/livewatch/queue"
	"github.com/justapithecus/livewatch/ratelimit"
	"github.com/justapithecus/livewatch/types"
)

// View is a point-in-time read of the whole engine. Every field is a
// copy; mutating it has no effect on the engine.
type View struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	UptimeMs  int64     `json:"uptime_ms"`
	Paused    bool      `json:"paused"`

	ActionsEnabled bool `json:"actions_enabled"`
	AutoActions    bool `json:"auto_actions"`

	Listeners  []types.ListenerSnapshot  `json:"listeners"`
	Scopes     []ratelimit.ScopeSnapshot `json:"scopes"`
	Budget     budget.Snapshot           `json:"budget"`
	Queue      []types.ResultRecord      `json:"queue"`
	QueueCap   int                       `json:"queue_cap"`
	QueueStats queue.Stats               `json:"queue_stats"`
	Lock       action.LockState          `json:"lock"`
	Metrics    metrics.Snapshot          `json:"metrics"`
}

// Active counts listeners holding or acquiring a session.
func (v View) Active() int {
	n := 0
	for _, l := range v.Listeners {
		if l.Phase.IsActive() {
			n++
		}
	}
	return n
}

// Observe returns the current View.
func (e *Engine) Observe() View {
	stats := e.queue.Stats()
	e.metrics.AbsorbQueueStats(stats.Enqueued, stats.Evicted, stats.Removed, stats.Clears)

	enabled, auto := e.actionSwitches()
	uptime := e.clock.Now().Sub(e.startedAt)
	return View{
		SessionID:      e.sessionID,
		StartedAt:      e.startedAt,
		Uptime:         uptime.Truncate(time.Second).String(),
		UptimeMs:       uptime.Milliseconds(),
		Paused:         e.supervisor.Paused(),
		ActionsEnabled: enabled,
		AutoActions:    auto,
		Listeners:      e.supervisor.Snapshots(),
		Scopes:         e.governor.Snapshot(),
		Budget:         e.budget.Snapshot(),
		Queue:          e.queue.Snapshot(),
		QueueCap:       e.queue.Cap(),
		QueueStats:     stats,
		Lock:           e.runner.LockState(),
		Metrics:        e.metrics.Snapshot(),
	}
}
