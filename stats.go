package dsio

import "sync/atomic"

// Stats tracks the monotonic completion totals of a queue. All counters
// are cumulative for the queue's lifetime and only ever increase.
type Stats struct {
	// Submitted counts requests handed to the backend.
	Submitted atomic.Uint64

	// Completed counts completion callbacks observed, successful or not.
	Completed atomic.Uint64

	// Failed counts completions whose status was not StatusOk.
	Failed atomic.Uint64

	// BytesTransferred accumulates Request.BytesTransferred across all
	// completions.
	BytesTransferred atomic.Uint64
}

// record folds one completed request into the totals.
func (s *Stats) record(req *Request) {
	s.Completed.Add(1)
	if req.Status != StatusOk {
		s.Failed.Add(1)
	}
	s.BytesTransferred.Add(req.BytesTransferred)
}

// StatsSnapshot is a point-in-time copy of queue statistics.
type StatsSnapshot struct {
	Submitted        uint64 `json:"submitted"`
	Completed        uint64 `json:"completed"`
	Failed           uint64 `json:"failed"`
	BytesTransferred uint64 `json:"bytes_transferred"`
}

// Snapshot returns a point-in-time copy of the totals. The counters are
// read individually, so a snapshot taken while completions are in
// flight may straddle an update; each individual counter is exact.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Submitted:        s.Submitted.Load(),
		Completed:        s.Completed.Load(),
		Failed:           s.Failed.Load(),
		BytesTransferred: s.BytesTransferred.Load(),
	}
}
