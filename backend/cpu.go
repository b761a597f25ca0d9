package backend

import (
	"runtime"
	"syscall"

	dsio "github.com/behrlich/go-dsio"
	"github.com/behrlich/go-dsio/internal/workers"
)

const subsystemCPU = "cpu"

// CPUConfig configures the host thread-pool backend.
type CPUConfig struct {
	// Workers is the number of worker goroutines. Values below one are
	// clamped to one.
	Workers int
}

// DefaultCPUConfig returns one worker per CPU.
func DefaultCPUConfig() CPUConfig {
	return CPUConfig{Workers: runtime.NumCPU()}
}

// CPU executes requests on a fixed worker pool using positional host
// reads and writes, with the optional post-read transform stage.
type CPU struct {
	pool *workers.Pool
}

// NewCPU creates the host thread-pool backend.
func NewCPU(cfg CPUConfig) *CPU {
	return &CPU{pool: workers.NewPool(cfg.Workers)}
}

// Submit enqueues the request on the worker FIFO and returns without
// blocking on I/O.
func (c *CPU) Submit(req dsio.Request, complete dsio.CompletionFunc) {
	c.pool.Submit(func() {
		c.execute(&req)
		complete(req)
	})
}

func (c *CPU) execute(req *dsio.Request) {
	if !validateHost(subsystemCPU, req) {
		return
	}

	switch req.Op {
	case dsio.OpRead:
		hostRead(subsystemCPU, req)
		if req.Status == dsio.StatusOk {
			applyTransform(subsystemCPU, req)
		}
	case dsio.OpWrite:
		hostWrite(subsystemCPU, req)
	default:
		reject(subsystemCPU, "submit", "unknown operation", syscall.EINVAL, req)
	}
}

// applyTransform runs the post-read decompression hook. Only reads that
// completed StatusOk reach here.
func applyTransform(subsystem string, req *dsio.Request) {
	switch req.Compression {
	case dsio.CompressionNone:
	case dsio.CompressionDemoTransform:
		demoTransform(req.HostDst[:req.Size])
	case dsio.CompressionStubbed:
		reject(subsystem, "decompression", "stubbed codec cannot decode", syscall.ENOTSUP, req)
	default:
		reject(subsystem, "decompression", "unknown compression", syscall.EINVAL, req)
	}
}

// demoTransform uppercases ASCII bytes in place, stopping at the first
// NUL. It is the stand-in for a real decompressor.
func demoTransform(buf []byte) {
	for i, b := range buf {
		if b == 0 {
			return
		}
		if 'a' <= b && b <= 'z' {
			buf[i] = b - 'a' + 'A'
		}
	}
}

// Close drains the worker FIFO. No completion fires after it returns.
func (c *CPU) Close() error {
	c.pool.Close()
	return nil
}

// Compile-time interface check
var _ dsio.Backend = (*CPU)(nil)
