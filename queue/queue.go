// Package queue holds validated results waiting for a claim.
//
// Queue is a bounded FIFO of types.ResultRecord guarded by one mutex.
// Listeners push concurrently; the action runner and the operator consume
// and reorder. Arbitrary removal and promotion are O(n) sequence
// operations on the underlying slice.
//
// Invariants:
//   - Len() never exceeds Cap().
//   - Pushing into a full queue evicts exactly the oldest record.
//   - Record IDs are unique within the queue.
package queue

import (
	"errors"
	"slices"
	"sync"

	"github.com/justapithecus/livewatch/types"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 10

// ErrDuplicate is returned by Push when a record with the same ID is queued.
var ErrDuplicate = errors.New("record already queued")

// ErrMissingID is returned by Push for a record without an ID.
var ErrMissingID = errors.New("record has no id")

// Stats are cumulative queue counters.
type Stats struct {
	Enqueued   int64 `json:"enqueued"`
	Evicted    int64 `json:"evicted"`
	Dequeued   int64 `json:"dequeued"`
	Removed    int64 `json:"removed"`
	Promoted   int64 `json:"promoted"`
	Replaced   int64 `json:"replaced"`
	Clears     int64 `json:"clears"`
	Duplicates int64 `json:"duplicates"`
}

// Queue is a bounded FIFO of result records. Safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	capacity int
	items    []types.ResultRecord
	stats    Stats
}

// New creates a Queue holding at most capacity records.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		items:    make([]types.ResultRecord, 0, capacity),
	}
}

// Push appends rec. When the queue is full the oldest record is evicted
// and returned.
func (q *Queue) Push(rec types.ResultRecord) (evicted *types.ResultRecord, err error) {
	if rec.ID == "" {
		return nil, ErrMissingID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(rec.ID) >= 0 {
		q.stats.Duplicates++
		return nil, ErrDuplicate
	}
	if len(q.items) >= q.capacity {
		oldest := q.items[0]
		q.items = slices.Delete(q.items, 0, 1)
		q.stats.Evicted++
		evicted = &oldest
	}
	q.items = append(q.items, rec)
	q.stats.Enqueued++
	return evicted, nil
}

// PushAll pushes recs in order and returns how many were accepted.
// Duplicates and records without an ID are skipped.
func (q *Queue) PushAll(recs []types.ResultRecord) int {
	accepted := 0
	for _, rec := range recs {
		if _, err := q.Push(rec); err == nil {
			accepted++
		}
	}
	return accepted
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (types.ResultRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return types.ResultRecord{}, false
	}
	return q.items[0], true
}

// Dequeue removes and returns the head.
func (q *Queue) Dequeue() (types.ResultRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return types.ResultRecord{}, false
	}
	head := q.items[0]
	q.items = slices.Delete(q.items, 0, 1)
	q.stats.Dequeued++
	return head, true
}

// Remove deletes the record with id wherever it is.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	q.stats.Removed++
	return true
}

// Promote moves the record with id to the head, keeping the relative
// order of the others.
func (q *Queue) Promote(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(id)
	if i < 0 {
		return false
	}
	if i > 0 {
		rec := q.items[i]
		q.items = slices.Delete(q.items, i, i+1)
		q.items = slices.Insert(q.items, 0, rec)
	}
	q.stats.Promoted++
	return true
}

// Replace swaps the queued record sharing rec's ID for rec, in place.
// Used to store a refreshed token.
func (q *Queue) Replace(rec types.ResultRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(rec.ID)
	if i < 0 {
		return false
	}
	q.items[i] = rec
	q.stats.Replaced++
	return true
}

// Clear empties the queue and returns how many records were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = q.items[:0]
	q.stats.Clears++
	return n
}

// Snapshot returns a copy of the queued records, head first.
func (q *Queue) Snapshot() []types.ResultRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// Len returns the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the capacity.
func (q *Queue) Cap() int { return q.capacity }

// Stats returns a copy of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.items, func(r types.ResultRecord) bool { return r.ID == id })
}
