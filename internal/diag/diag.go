// Package diag provides the process-wide failure reporter shared by all
// execution backends. A single pluggable sink receives structured
// records; when none is installed, records are written to stderr as one
// key=value line.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// RequestInfo is the snapshot of the failing request attached to a
// record. Only metadata is captured; buffer contents are never copied.
type RequestInfo struct {
	FD     int
	Offset int64
	Size   uint64
	Op     string
	SrcMem string
	DstMem string
}

// Record is one diagnostic report.
type Record struct {
	Timestamp time.Time
	Subsystem string
	Operation string
	Detail    string
	Errno     syscall.Errno

	// Captured source location of the Report call.
	File     string
	Line     int
	Function string

	// Request is the attached snapshot, nil when the failure has no
	// associated request.
	Request *RequestInfo
}

// Sink consumes diagnostic records. Sinks may themselves call Report
// without deadlocking; the reporter does not hold its lock across the
// sink invocation.
type Sink func(Record)

var (
	sinkMu sync.Mutex
	sink   Sink

	emitted atomic.Uint64
	verbose atomic.Bool
)

// SetSink installs the process-wide sink. A nil sink restores the
// default stderr writer.
func SetSink(s Sink) {
	sinkMu.Lock()
	sink = s
	sinkMu.Unlock()
}

// Emitted returns the number of failure records reported since process
// start. Lifecycle events are not counted.
func Emitted() uint64 {
	return emitted.Load()
}

// SetVerbose enables lifecycle event records (ring bring-up, device
// selection). Off by default.
func SetVerbose(on bool) {
	verbose.Store(on)
}

// Report emits a failure record with no request attached.
func Report(subsystem, operation, detail string, errno syscall.Errno) {
	emitted.Add(1)
	emit(Record{
		Subsystem: subsystem,
		Operation: operation,
		Detail:    detail,
		Errno:     errno,
	})
}

// ReportRequest emits a failure record carrying a request snapshot.
func ReportRequest(subsystem, operation, detail string, errno syscall.Errno, info RequestInfo) {
	emitted.Add(1)
	emit(Record{
		Subsystem: subsystem,
		Operation: operation,
		Detail:    detail,
		Errno:     errno,
		Request:   &info,
	})
}

// Event emits a non-failure lifecycle record when verbose mode is on.
// Events share the sink, the record shape and the line format with
// failure reports; they carry a zero errno and do not count toward
// Emitted. Trailing arguments are key/value pairs folded into the
// detail text.
func Event(subsystem, operation, detail string, kv ...any) {
	if !verbose.Load() {
		return
	}
	emit(Record{
		Subsystem: subsystem,
		Operation: operation,
		Detail:    detail + renderKV(kv),
	})
}

// renderKV folds key/value pairs into a " k=v" suffix; a dangling key
// is dropped.
func renderKV(kv []any) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}

// emit stamps the record, captures the reporting site, and hands the
// record to the sink. Reporting never panics: a panicking sink is
// swallowed so backend failure paths stay errorless.
func emit(rec Record) {
	rec.Timestamp = time.Now()
	if pc, file, line, ok := runtime.Caller(2); ok {
		rec.File = filepath.Base(file)
		rec.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			rec.Function = fn.Name()
		}
	}

	sinkMu.Lock()
	s := sink
	sinkMu.Unlock()

	defer func() {
		_ = recover()
	}()
	if s != nil {
		s(rec)
		return
	}
	fmt.Fprintln(os.Stderr, FormatRecord(rec))
}

// FormatRecord renders a record as the default single-line key=value
// form. The key set is stable; the order is informational.
func FormatRecord(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "timestamp=%s", rec.Timestamp.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, " subsystem=%s operation=%s errno=%d detail=%q",
		rec.Subsystem, rec.Operation, int(rec.Errno), rec.Detail)
	if rec.Request != nil {
		r := rec.Request
		fmt.Fprintf(&b, " request=yes fd=%d offset=%d size=%d op=%s src_mem=%s dst_mem=%s",
			r.FD, r.Offset, r.Size, r.Op, r.SrcMem, r.DstMem)
	} else {
		b.WriteString(" request=no")
	}
	fmt.Fprintf(&b, " at %s:%d (%s)", rec.File, rec.Line, rec.Function)
	return b.String()
}
