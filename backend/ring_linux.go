//go:build linux

package backend

import (
	"sync"
	"syscall"

	iouring "github.com/iceber/iouring-go"

	dsio "github.com/behrlich/go-dsio"
	"github.com/behrlich/go-dsio/internal/diag"
	"github.com/behrlich/go-dsio/internal/hostio"
)

// ringJob is the tracking record that rides an SQE through the kernel.
// The request and its completion are attached to the submission as
// request info and come back with the matching completion event.
type ringJob struct {
	req      dsio.Request
	complete dsio.CompletionFunc
}

// Ring drives a kernel completion ring from a single dispatcher
// goroutine. Host memory only; no transform stage.
type Ring struct {
	ring    *iouring.IOURing
	entries uint32

	pending chan *ringJob
	quit    chan struct{}
	done    chan struct{}

	initErr   error
	closeOnce sync.Once
}

// NewRing creates the completion-ring backend. Ring setup failure does
// not surface as a constructor error: the backend marks itself
// permanently failed and every subsequent submission completes
// IoError(EINVAL) with a diagnostic. InitErr exposes the setup failure.
func NewRing(cfg RingConfig) *Ring {
	entries := cfg.Entries
	if entries == 0 {
		entries = DefaultRingEntries
	}

	r := &Ring{
		entries: entries,
		pending: make(chan *ringJob, 2*entries),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	ring, err := iouring.New(uint(entries))
	if err != nil {
		r.initErr = dsio.WrapError(subsystemRing, "ring_setup", err)
		diag.Report(subsystemRing, "ring_setup", err.Error(), hostio.AsErrno(err))
		close(r.done)
		return r
	}
	r.ring = ring

	diag.Event(subsystemRing, "ring_setup", "completion ring created", "entries", entries)
	go r.loop()
	return r
}

// InitErr returns the ring setup failure, or nil.
func (r *Ring) InitErr() error {
	return r.initErr
}

// Submit hands the request to the dispatcher and returns without
// blocking on I/O. On a permanently failed backend the request
// completes immediately.
func (r *Ring) Submit(req dsio.Request, complete dsio.CompletionFunc) {
	if r.ring == nil {
		reject(subsystemRing, "submit", "ring unavailable", syscall.EINVAL, &req)
		complete(req)
		return
	}
	r.pending <- &ringJob{req: req, complete: complete}
}

// loop waits for work, swaps the pending FIFO into a local batch, and
// runs the batch through the ring. On shutdown the remaining FIFO is
// flushed before the dispatcher exits.
func (r *Ring) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			r.submitBatch(r.drainPending(nil))
			return
		case job := <-r.pending:
			r.submitBatch(r.drainPending([]*ringJob{job}))
		}
	}
}

// drainPending appends every buffered job to batch without blocking.
func (r *Ring) drainPending(batch []*ringJob) []*ringJob {
	for {
		select {
		case job := <-r.pending:
			batch = append(batch, job)
		default:
			return batch
		}
	}
}

// submitBatch validates, submits and drains one batch. Exactly as many
// completion events are consumed as entries were submitted, so the ring
// is quiet again when it returns.
func (r *Ring) submitBatch(batch []*ringJob) {
	if len(batch) == 0 {
		return
	}

	prepped := make([]iouring.PrepRequest, 0, len(batch))
	tracked := make([]*ringJob, 0, len(batch))
	for _, job := range batch {
		if !r.validate(&job.req) {
			job.complete(job.req)
			continue
		}
		if uint32(len(prepped)) >= r.entries {
			reject(subsystemRing, "submit", "no free submission slot", syscall.EBUSY, &job.req)
			job.complete(job.req)
			continue
		}

		var prep iouring.PrepRequest
		if job.req.Op == dsio.OpRead {
			prep = iouring.Pread(job.req.FD, job.req.HostDst[:job.req.Size], uint64(job.req.Offset))
		} else {
			prep = iouring.Pwrite(job.req.FD, job.req.HostSrc[:job.req.Size], uint64(job.req.Offset))
		}
		prepped = append(prepped, prep.WithInfo(job))
		tracked = append(tracked, job)
	}
	if len(prepped) == 0 {
		return
	}

	ch := make(chan iouring.Result, len(prepped))
	set, err := r.ring.SubmitRequests(prepped, ch)
	if err != nil {
		// Nothing reached the kernel; fail the whole batch so every
		// request still completes exactly once.
		errno := hostio.AsErrno(err)
		diag.Report(subsystemRing, "submit", err.Error(), errno)
		for _, job := range tracked {
			job.req.Fail(errno)
			job.complete(job.req)
		}
		return
	}

	// The kernel may accept fewer entries than were prepared. Entries
	// past the accepted prefix never reach the completion queue, so
	// draining them would wedge the dispatcher; fail them now and drain
	// only what was submitted.
	submitted := len(prepped)
	if set != nil && set.Len() < submitted {
		submitted = set.Len()
	}
	if submitted <= 0 {
		diag.Report(subsystemRing, "submit", "kernel accepted no submissions", syscall.EBUSY)
		for _, job := range tracked {
			job.req.Fail(syscall.EBUSY)
			job.complete(job.req)
		}
		return
	}
	if submitted < len(tracked) {
		diag.Report(subsystemRing, "submit", "kernel accepted a short batch", syscall.EBUSY)
		for _, job := range tracked[submitted:] {
			job.req.Fail(syscall.EBUSY)
			job.complete(job.req)
		}
		tracked = tracked[:submitted]
	}

	for range tracked {
		result := <-ch
		job, ok := result.GetRequestInfo().(*ringJob)
		if !ok || job == nil {
			continue
		}
		if err := result.Err(); err != nil {
			reject(subsystemRing, job.req.Op.String(), "ring operation failed", hostio.AsErrno(err), &job.req)
		} else {
			n, _ := result.ReturnInt()
			job.req.Succeed(uint64(n))
		}
		job.complete(job.req)
	}
}

// validate layers the ring capability rules over the shared host
// validation: no compression on writes, no transforms on reads, and the
// stubbed codec keeps its ENOTSUP mapping.
func (r *Ring) validate(req *dsio.Request) bool {
	if !validateHost(subsystemRing, req) {
		return false
	}
	switch {
	case req.Op == dsio.OpWrite && req.Compression != dsio.CompressionNone:
		reject(subsystemRing, "submit", "writes never compress", syscall.EINVAL, req)
	case req.Op == dsio.OpRead && req.Compression == dsio.CompressionStubbed:
		reject(subsystemRing, "submit", "stubbed codec cannot decode", syscall.ENOTSUP, req)
	case req.Op == dsio.OpRead && req.Compression == dsio.CompressionDemoTransform:
		reject(subsystemRing, "submit", "transforms not supported on ring reads", syscall.EINVAL, req)
	default:
		return true
	}
	return false
}

// Close flushes the pending FIFO, joins the dispatcher and tears down
// the ring. No completion fires after it returns.
func (r *Ring) Close() error {
	r.closeOnce.Do(func() {
		close(r.quit)
		<-r.done
		if r.ring != nil {
			r.ring.Close()
		}
	})
	return nil
}

// Compile-time interface check
var _ dsio.Backend = (*Ring)(nil)
