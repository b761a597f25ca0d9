package dsio

import (
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeBackend completes every request on its own goroutine, succeeding
// with the full size unless fail is set.
type fakeBackend struct {
	fail    syscall.Errno
	delay   time.Duration
	submits atomic.Int64
}

func (f *fakeBackend) Submit(req Request, complete CompletionFunc) {
	f.submits.Add(1)
	go func() {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		if f.fail != 0 {
			req.Fail(f.fail)
		} else {
			req.Succeed(req.Size)
		}
		complete(req)
	}()
}

func (f *fakeBackend) Close() error { return nil }

func TestQueueSubmitAllAccounting(t *testing.T) {
	fb := &fakeBackend{}
	q := NewQueue(fb)

	for i := 0; i < 10; i++ {
		q.Enqueue(Request{FD: 3, Size: 100, Op: OpRead})
	}
	require.Equal(t, 0, q.InFlight(), "enqueue must not submit")

	q.SubmitAll(nil)
	q.WaitAll()

	require.Equal(t, 0, q.InFlight())
	require.EqualValues(t, 10, fb.submits.Load(), "one backend submit per request")
	require.EqualValues(t, 10, q.TotalCompleted())
	require.EqualValues(t, 0, q.TotalFailed())
	require.EqualValues(t, 1000, q.TotalBytesTransferred())
}

func TestQueueFailedAccounting(t *testing.T) {
	fb := &fakeBackend{fail: syscall.EIO}
	q := NewQueue(fb)

	q.Enqueue(Request{FD: 3, Size: 100, Op: OpRead})
	q.SubmitAll(nil)
	q.WaitAll()

	require.EqualValues(t, 1, q.TotalCompleted())
	require.EqualValues(t, 1, q.TotalFailed())
	require.EqualValues(t, 0, q.TotalBytesTransferred(), "failures move no bytes")

	done := q.TakeCompleted()
	require.Len(t, done, 1)
	require.Equal(t, StatusIoError, done[0].Status)
	require.Equal(t, syscall.EIO, done[0].ErrnoValue)
}

func TestQueueTakeCompletedIdempotent(t *testing.T) {
	fb := &fakeBackend{}
	q := NewQueue(fb)

	q.Enqueue(Request{FD: 3, Size: 8, Op: OpRead})
	q.Enqueue(Request{FD: 3, Size: 8, Op: OpRead})
	q.SubmitAll(nil)
	q.WaitAll()

	first := q.TakeCompleted()
	require.Len(t, first, 2)

	second := q.TakeCompleted()
	require.Empty(t, second, "second harvest with no new completions")
}

func TestQueueWaitAllBlocksUntilDrained(t *testing.T) {
	fb := &fakeBackend{delay: 20 * time.Millisecond}
	q := NewQueue(fb)

	for i := 0; i < 4; i++ {
		q.Enqueue(Request{FD: 3, Size: 1, Op: OpRead})
	}
	q.SubmitAll(nil)

	start := time.Now()
	q.WaitAll()
	if q.InFlight() != 0 {
		t.Fatalf("in-flight after WaitAll = %d, want 0", q.InFlight())
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("WaitAll returned after %v; expected it to block for the delayed backend", elapsed)
	}
}

func TestQueueWaitAllIdleReturns(t *testing.T) {
	q := NewQueue(&fakeBackend{})

	done := make(chan struct{})
	go func() {
		q.WaitAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitAll blocked with nothing in flight")
	}
}

func TestQueueExtraCompletionCallback(t *testing.T) {
	fb := &fakeBackend{}
	q := NewQueue(fb)

	var calls atomic.Int64
	q.Enqueue(Request{FD: 3, Size: 16, Op: OpRead, Tag: 7})
	q.SubmitAll(func(done Request) {
		calls.Add(1)
		require.Equal(t, uintptr(7), done.Tag, "tag must ride through completion")
		require.Equal(t, StatusOk, done.Status)
	})
	q.WaitAll()

	require.EqualValues(t, 1, calls.Load(), "extra callback fires exactly once per request")
}

func TestQueueConcurrentEnqueue(t *testing.T) {
	fb := &fakeBackend{}
	q := NewQueue(fb)

	var eg errgroup.Group
	const producers = 8
	const perProducer = 50
	for p := 0; p < producers; p++ {
		eg.Go(func() error {
			for i := 0; i < perProducer; i++ {
				q.Enqueue(Request{FD: 3, Size: 4, Op: OpRead})
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	q.SubmitAll(nil)
	q.WaitAll()

	require.EqualValues(t, producers*perProducer, q.TotalCompleted())
	require.Len(t, q.TakeCompleted(), producers*perProducer)
}

func TestQueueStatsSnapshot(t *testing.T) {
	fb := &fakeBackend{}
	q := NewQueue(fb)

	q.Enqueue(Request{FD: 3, Size: 32, Op: OpWrite})
	q.SubmitAll(nil)
	q.WaitAll()

	snap := q.StatsSnapshot()
	require.EqualValues(t, 1, snap.Submitted)
	require.EqualValues(t, 1, snap.Completed)
	require.EqualValues(t, 0, snap.Failed)
	require.EqualValues(t, 32, snap.BytesTransferred)
}

func TestQueueBackendAccessor(t *testing.T) {
	fb := &fakeBackend{}
	q := NewQueue(fb)
	if q.Backend() != Backend(fb) {
		t.Error("Backend() did not return the constructor backend")
	}
}
