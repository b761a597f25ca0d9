package diag

import (
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// captureSink installs a recording sink and returns the records slice
// accessor plus a restore function.
func captureSink() (func() []Record, func()) {
	var mu sync.Mutex
	var records []Record
	SetSink(func(rec Record) {
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
	})
	get := func() []Record {
		mu.Lock()
		defer mu.Unlock()
		out := make([]Record, len(records))
		copy(out, records)
		return out
	}
	return get, func() { SetSink(nil) }
}

func TestReportDeliversRecord(t *testing.T) {
	get, restore := captureSink()
	defer restore()

	Report("ring", "ring_setup", "kernel too old", syscall.EINVAL)

	records := get()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Subsystem != "ring" || rec.Operation != "ring_setup" {
		t.Errorf("record tags = %s/%s, want ring/ring_setup", rec.Subsystem, rec.Operation)
	}
	if rec.Errno != syscall.EINVAL {
		t.Errorf("errno = %d, want EINVAL", rec.Errno)
	}
	if rec.Request != nil {
		t.Error("request snapshot attached, want none")
	}
	if rec.Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
	if rec.File == "" || rec.Line == 0 || rec.Function == "" {
		t.Errorf("source location not captured: %s:%d (%s)", rec.File, rec.Line, rec.Function)
	}
	if !strings.HasSuffix(rec.File, "diag_test.go") {
		t.Errorf("captured file = %q, want the Report call site", rec.File)
	}
}

func TestReportRequestAttachesSnapshot(t *testing.T) {
	get, restore := captureSink()
	defer restore()

	ReportRequest("cpu", "submit", "invalid file descriptor", syscall.EBADF, RequestInfo{
		FD:     -1,
		Offset: 12345,
		Size:   100,
		Op:     "read",
		SrcMem: "host",
		DstMem: "host",
	})

	records := get()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	req := records[0].Request
	if req == nil {
		t.Fatal("request snapshot missing")
	}
	if req.FD != -1 || req.Offset != 12345 || req.Size != 100 || req.Op != "read" {
		t.Errorf("snapshot = %+v, want fd=-1 offset=12345 size=100 op=read", req)
	}
}

func TestEmittedCounts(t *testing.T) {
	_, restore := captureSink()
	defer restore()

	before := Emitted()
	Report("cpu", "submit", "x", syscall.EINVAL)
	Report("cpu", "submit", "y", syscall.EINVAL)
	if got := Emitted() - before; got != 2 {
		t.Errorf("Emitted delta = %d, want 2", got)
	}
}

func TestEventGatedByVerbose(t *testing.T) {
	get, restore := captureSink()
	defer restore()

	before := Emitted()
	Event("ring", "ring_setup", "completion ring created", "entries", 64)
	if len(get()) != 0 {
		t.Fatal("event delivered with verbose off")
	}

	SetVerbose(true)
	defer SetVerbose(false)
	Event("ring", "ring_setup", "completion ring created", "entries", 64)

	records := get()
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Errno != 0 {
		t.Errorf("event errno = %d, want 0", rec.Errno)
	}
	if rec.Detail != "completion ring created entries=64" {
		t.Errorf("detail = %q, want key/value suffix folded in", rec.Detail)
	}
	if got := Emitted() - before; got != 0 {
		t.Errorf("Emitted delta = %d, events must not count as failures", got)
	}
}

func TestRenderKVDanglingKey(t *testing.T) {
	if got := renderKV([]any{"a", 1, "dangling"}); got != " a=1" {
		t.Errorf("renderKV = %q, want %q", got, " a=1")
	}
	if got := renderKV(nil); got != "" {
		t.Errorf("renderKV(nil) = %q, want empty", got)
	}
}

func TestFormatRecordKeys(t *testing.T) {
	rec := Record{
		Subsystem: "gpu",
		Operation: "staging_alloc",
		Detail:    "no memory type",
		Errno:     syscall.ENOMEM,
		File:      "gpu.go",
		Line:      42,
		Function:  "fileToGPU",
		Request: &RequestInfo{
			FD: 5, Offset: 0, Size: 64, Op: "read", SrcMem: "host", DstMem: "gpu",
		},
	}

	line := FormatRecord(rec)
	for _, key := range []string{
		"timestamp=", "subsystem=gpu", "operation=staging_alloc", "errno=12",
		"detail=", "request=yes", "fd=5", "offset=0", "size=64",
		"op=read", "src_mem=host", "dst_mem=gpu", "at gpu.go:42 (fileToGPU)",
	} {
		if !strings.Contains(line, key) {
			t.Errorf("line %q missing %q", line, key)
		}
	}
	if strings.Contains(line, "\n") {
		t.Error("record rendered across multiple lines")
	}
}

func TestFormatRecordNoRequest(t *testing.T) {
	line := FormatRecord(Record{Subsystem: "ring", Operation: "submit"})
	if !strings.Contains(line, "request=no") {
		t.Errorf("line %q missing request=no", line)
	}
}

// A sink may itself report without deadlocking: the slot lock is not
// held across the sink invocation.
func TestReentrantSink(t *testing.T) {
	depth := 0
	SetSink(func(rec Record) {
		if depth == 0 {
			depth++
			Report("ring", "nested", "from sink", 0)
		}
	})
	defer SetSink(nil)

	done := make(chan struct{})
	go func() {
		Report("ring", "outer", "x", 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reentrant report deadlocked")
	}
}

func TestPanickingSinkIsSwallowed(t *testing.T) {
	SetSink(func(rec Record) {
		panic("sink exploded")
	})
	defer SetSink(nil)

	// Must not propagate.
	Report("cpu", "submit", "x", syscall.EINVAL)
}

func TestConcurrentSinkReplacement(t *testing.T) {
	defer SetSink(nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				SetSink(func(Record) {})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Report("cpu", "submit", "race", 0)
			}
		}()
	}
	wg.Wait()
}
