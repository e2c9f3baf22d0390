// Package metrics provides process-wide counters for livewatch.
//
// The Collector is a leaf package with no internal dependencies. Queue
// counters are absorbed from queue.Stats when a snapshot is taken rather
// than recorded live, avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Stream connections
	ConnectAttempts int64
	ConnectSuccess  int64
	ConnectFailure  int64
	AuthFailures    int64
	Disconnects     int64

	// Stream frames
	FramesReceived    int64
	FrameDecodeErrors int64
	ItemsNotified     int64

	// Fetch
	FetchRequests     int64
	FetchFailures     int64
	FetchOverLimit    int64
	FetchDecodeErrors int64
	TokenRefreshes    int64

	// Queue (absorbed from queue.Stats)
	RecordsEnqueued int64
	RecordsEvicted  int64
	RecordsRemoved  int64
	QueueClears     int64

	// Action
	ActionsDispatched int64
	ActionsByOutcome  map[string]int64

	// Budget
	EmergencyHalts int64

	// Archive
	ArchiveWriteSuccess int64
	ArchiveWriteFailure int64
}

// Collector accumulates counters for the lifetime of the process.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connectAttempts int64
	connectSuccess  int64
	connectFailure  int64
	authFailures    int64
	disconnects     int64

	framesReceived    int64
	frameDecodeErrors int64
	itemsNotified     int64

	fetchRequests     int64
	fetchFailures     int64
	fetchOverLimit    int64
	fetchDecodeErrors int64
	tokenRefreshes    int64

	recordsEnqueued int64
	recordsEvicted  int64
	recordsRemoved  int64
	queueClears     int64

	actionsDispatched int64
	actionsByOutcome  map[string]int64

	emergencyHalts int64

	archiveWriteSuccess int64
	archiveWriteFailure int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		actionsByOutcome: make(map[string]int64),
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Stream connections ---

// IncConnectAttempt records an admitted connection attempt.
func (c *Collector) IncConnectAttempt() {
	if c == nil {
		return
	}
	c.add(&c.connectAttempts, 1)
}

// IncConnectSuccess records an established stream session.
func (c *Collector) IncConnectSuccess() {
	if c == nil {
		return
	}
	c.add(&c.connectSuccess, 1)
}

// IncConnectFailure records a failed connection attempt. Authentication
// failures are counted in both totals.
func (c *Collector) IncConnectFailure(auth bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectFailure++
	if auth {
		c.authFailures++
	}
	c.mu.Unlock()
}

// IncDisconnect records a running session that ended.
func (c *Collector) IncDisconnect() {
	if c == nil {
		return
	}
	c.add(&c.disconnects, 1)
}

// --- Stream frames ---

// IncFrameReceived records a stream message.
func (c *Collector) IncFrameReceived() {
	if c == nil {
		return
	}
	c.add(&c.framesReceived, 1)
}

// IncFrameDecodeError records a stream message that could not be decoded.
func (c *Collector) IncFrameDecodeError() {
	if c == nil {
		return
	}
	c.add(&c.frameDecodeErrors, 1)
}

// AddItemsNotified records n item ids announced by the stream.
func (c *Collector) AddItemsNotified(n int) {
	if c == nil {
		return
	}
	c.add(&c.itemsNotified, int64(n))
}

// --- Fetch ---

// IncFetchRequest records an outbound fetch request.
func (c *Collector) IncFetchRequest() {
	if c == nil {
		return
	}
	c.add(&c.fetchRequests, 1)
}

// IncFetchFailure records a fetch that failed at the transport or with a non-2xx status.
func (c *Collector) IncFetchFailure() {
	if c == nil {
		return
	}
	c.add(&c.fetchFailures, 1)
}

// IncFetchOverLimit records an over-quota fetch response.
func (c *Collector) IncFetchOverLimit() {
	if c == nil {
		return
	}
	c.add(&c.fetchOverLimit, 1)
}

// IncFetchDecodeError records a fetch body that could not be decoded.
func (c *Collector) IncFetchDecodeError() {
	if c == nil {
		return
	}
	c.add(&c.fetchDecodeErrors, 1)
}

// IncTokenRefresh records a token refresh attempt.
func (c *Collector) IncTokenRefresh() {
	if c == nil {
		return
	}
	c.add(&c.tokenRefreshes, 1)
}

// --- Action ---

// IncActionDispatched records an action request that was sent.
func (c *Collector) IncActionDispatched() {
	if c == nil {
		return
	}
	c.add(&c.actionsDispatched, 1)
}

// IncActionOutcome records the classified outcome of a dispatched action.
// The key is a plain string to keep this package free of action types.
func (c *Collector) IncActionOutcome(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.actionsByOutcome[outcome]++
	c.mu.Unlock()
}

// --- Budget ---

// IncEmergencyHalt records a tripped emergency halt.
func (c *Collector) IncEmergencyHalt() {
	if c == nil {
		return
	}
	c.add(&c.emergencyHalts, 1)
}

// --- Archive ---

// IncArchiveWriteSuccess records a successful archive write (per call).
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteSuccess, 1)
}

// IncArchiveWriteFailure records a failed archive write (per call).
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.archiveWriteFailure, 1)
}

// --- Queue (absorbed from queue.Stats) ---

// AbsorbQueueStats copies queue counters into the collector. Called with
// the latest queue stats whenever a snapshot is assembled.
func (c *Collector) AbsorbQueueStats(enqueued, evicted, removed, clears int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsEnqueued = enqueued
	c.recordsEvicted = evicted
	c.recordsRemoved = removed
	c.queueClears = clears
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	outcomes := make(map[string]int64, len(c.actionsByOutcome))
	for k, v := range c.actionsByOutcome {
		outcomes[k] = v
	}

	return Snapshot{
		ConnectAttempts: c.connectAttempts,
		ConnectSuccess:  c.connectSuccess,
		ConnectFailure:  c.connectFailure,
		AuthFailures:    c.authFailures,
		Disconnects:     c.disconnects,

		FramesReceived:    c.framesReceived,
		FrameDecodeErrors: c.frameDecodeErrors,
		ItemsNotified:     c.itemsNotified,

		FetchRequests:     c.fetchRequests,
		FetchFailures:     c.fetchFailures,
		FetchOverLimit:    c.fetchOverLimit,
		FetchDecodeErrors: c.fetchDecodeErrors,
		TokenRefreshes:    c.tokenRefreshes,

		RecordsEnqueued: c.recordsEnqueued,
		RecordsEvicted:  c.recordsEvicted,
		RecordsRemoved:  c.recordsRemoved,
		QueueClears:     c.queueClears,

		ActionsDispatched: c.actionsDispatched,
		ActionsByOutcome:  outcomes,

		EmergencyHalts: c.emergencyHalts,

		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,
	}
}
