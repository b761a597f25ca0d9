package dsio

import (
	"sync"
	"sync/atomic"
)

// Queue is the front end of the runtime. Callers Enqueue requests, then
// SubmitAll drains the buffered requests into the backend one at a
// time. Each completion updates the totals and appends the finished
// request to the completed list, which TakeCompleted harvests.
//
// A Queue never quiesces on its own: callers must observe
// InFlight() == 0 (normally via WaitAll) before releasing the queue or
// any buffer referenced by an outstanding request.
type Queue struct {
	backend Backend

	// mu guards pending and completed.
	mu        sync.Mutex
	pending   []Request
	completed []Request

	inFlight atomic.Int64
	stats    Stats

	// waitMu/waitCond back WaitAll. Separate from mu so a completion
	// callback never holds both: it appends under mu, releases it, then
	// takes and releases waitMu before notifying.
	waitMu   sync.Mutex
	waitCond *sync.Cond
}

// NewQueue creates a queue in front of the given backend. The queue
// holds the backend for its lifetime; the backend holds no reference
// back.
func NewQueue(backend Backend) *Queue {
	q := &Queue{backend: backend}
	q.waitCond = sync.NewCond(&q.waitMu)
	return q
}

// Backend returns the backend this queue submits to.
func (q *Queue) Backend() Backend {
	return q.backend
}

// Enqueue buffers a request for the next SubmitAll. Thread-safe; never
// blocks on I/O.
func (q *Queue) Enqueue(req Request) {
	q.mu.Lock()
	q.pending = append(q.pending, req)
	q.mu.Unlock()
}

// SubmitAll drains the pending buffer into the backend. For every
// request it increments the in-flight count and hands the backend a
// queue-owned completion that records the result and wakes WaitAll when
// the count returns to zero.
//
// extra, when non-nil, is invoked once per completed request after the
// queue's own bookkeeping; the C binding layer uses it to surface
// per-request callbacks. Pass nil otherwise.
func (q *Queue) SubmitAll(extra CompletionFunc) {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, req := range batch {
		q.inFlight.Add(1)
		q.stats.Submitted.Add(1)
		q.backend.Submit(req, func(done Request) {
			q.complete(done, extra)
		})
	}
}

// complete is the queue half of every completion callback.
func (q *Queue) complete(done Request, extra CompletionFunc) {
	q.mu.Lock()
	q.completed = append(q.completed, done)
	q.mu.Unlock()

	q.stats.record(&done)

	if extra != nil {
		extra(done)
	}

	if q.inFlight.Add(-1) == 0 {
		// Take waitMu so a waiter between its counter check and its
		// cond wait cannot miss the wakeup.
		q.waitMu.Lock()
		q.waitMu.Unlock()
		q.waitCond.Broadcast()
	}
}

// WaitAll blocks until every submitted request has completed. Returns
// immediately when nothing is in flight.
func (q *Queue) WaitAll() {
	q.waitMu.Lock()
	defer q.waitMu.Unlock()
	for q.inFlight.Load() != 0 {
		q.waitCond.Wait()
	}
}

// InFlight returns the number of submitted requests that have not yet
// completed.
func (q *Queue) InFlight() int {
	return int(q.inFlight.Load())
}

// TakeCompleted moves the completed list out of the queue and returns
// it. Calling it again with no intervening completions returns an empty
// slice.
func (q *Queue) TakeCompleted() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.completed
	q.completed = nil
	return out
}

// TotalCompleted returns the number of completions observed so far.
func (q *Queue) TotalCompleted() uint64 {
	return q.stats.Completed.Load()
}

// TotalFailed returns the number of completions whose status was not
// StatusOk.
func (q *Queue) TotalFailed() uint64 {
	return q.stats.Failed.Load()
}

// TotalBytesTransferred returns the cumulative bytes moved by completed
// requests.
func (q *Queue) TotalBytesTransferred() uint64 {
	return q.stats.BytesTransferred.Load()
}

// StatsSnapshot returns a point-in-time copy of the queue totals.
func (q *Queue) StatsSnapshot() StatsSnapshot {
	return q.stats.Snapshot()
}
