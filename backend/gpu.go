package backend

import (
	"errors"
	"syscall"
	"unsafe"

	dsio "github.com/behrlich/go-dsio"
	"github.com/behrlich/go-dsio/internal/diag"
	"github.com/behrlich/go-dsio/internal/hostio"
	"github.com/behrlich/go-dsio/internal/vkstage"
	"github.com/behrlich/go-dsio/internal/workers"
)

const subsystemGPU = "gpu"

// GPUConfig carries externally-owned Vulkan handles, or a nil Device to
// request internal creation of a minimal context. Borrowed handles are
// never mutated or destroyed by the backend.
type GPUConfig struct {
	Instance       unsafe.Pointer // VkInstance
	PhysicalDevice unsafe.Pointer // VkPhysicalDevice
	Device         unsafe.Pointer // VkDevice; nil requests internal creation
	Queue          unsafe.Pointer // VkQueue
	CommandPool    unsafe.Pointer // VkCommandPool
	QueueFamily    uint32

	// Workers is the worker-pool size, clamped to at least one.
	Workers int
}

// GPU pairs positional host I/O with transient device staging buffers
// and a synchronous fenced copy. Host↔Host requests fall through to the
// positional-I/O path with no device involvement.
type GPU struct {
	ctx     *vkstage.Context
	pool    *workers.Pool
	initErr error
}

// NewGPU creates the GPU-staging backend. Device bring-up failure does
// not surface as a constructor error: the backend stays up and every
// submission completes IoError(EINVAL) with a diagnostic. InitErr
// exposes the bring-up failure.
func NewGPU(cfg GPUConfig) *GPU {
	g := &GPU{pool: workers.NewPool(cfg.Workers)}

	ctx, err := vkstage.New(vkstage.Config{
		Instance:       cfg.Instance,
		PhysicalDevice: cfg.PhysicalDevice,
		Device:         cfg.Device,
		Queue:          cfg.Queue,
		CommandPool:    cfg.CommandPool,
		QueueFamily:    cfg.QueueFamily,
	})
	if err != nil {
		g.initErr = dsio.NewError(subsystemGPU, "device_create", dsio.ErrCodeDeviceUnavailable, err.Error())
		diag.Report(subsystemGPU, "device_create", err.Error(), syscall.EINVAL)
		return g
	}
	g.ctx = ctx
	return g
}

// InitErr returns the device bring-up failure, or nil.
func (g *GPU) InitErr() error {
	return g.initErr
}

// Submit enqueues the request on the worker FIFO and returns without
// blocking on I/O.
func (g *GPU) Submit(req dsio.Request, complete dsio.CompletionFunc) {
	g.pool.Submit(func() {
		g.execute(&req)
		complete(req)
	})
}

func (g *GPU) execute(req *dsio.Request) {
	if !g.validate(req) {
		return
	}

	switch {
	case req.Op == dsio.OpRead && req.DstMem == dsio.MemoryHost:
		hostRead(subsystemGPU, req)
	case req.Op == dsio.OpWrite && req.SrcMem == dsio.MemoryHost:
		hostWrite(subsystemGPU, req)
	case req.Op == dsio.OpRead && req.DstMem == dsio.MemoryGPU:
		g.fileToGPU(req)
	case req.Op == dsio.OpWrite && req.SrcMem == dsio.MemoryGPU:
		g.gpuToFile(req)
	default:
		reject(subsystemGPU, "submit", "unsupported routing", syscall.EINVAL, req)
	}
}

// validate mirrors the host validation order with the symmetric GPU
// rules: a GPU memory side needs a device buffer handle and an
// initialized device.
func (g *GPU) validate(req *dsio.Request) bool {
	switch {
	case req.FD < 0:
		reject(subsystemGPU, "submit", "invalid file descriptor", syscall.EBADF, req)
	case req.Size == 0:
		reject(subsystemGPU, "submit", "zero-size request", syscall.EINVAL, req)
	case req.Compression != dsio.CompressionNone:
		reject(subsystemGPU, "submit", "compression not supported", syscall.EINVAL, req)
	case req.Op == dsio.OpRead && req.DstMem == dsio.MemoryHost && uint64(len(req.HostDst)) < req.Size:
		reject(subsystemGPU, "submit", "host destination missing or short", syscall.EINVAL, req)
	case req.Op == dsio.OpWrite && req.SrcMem == dsio.MemoryHost && uint64(len(req.HostSrc)) < req.Size:
		reject(subsystemGPU, "submit", "host source missing or short", syscall.EINVAL, req)
	case (req.DstMem == dsio.MemoryGPU || req.SrcMem == dsio.MemoryGPU) && req.GPUBuffer == nil:
		reject(subsystemGPU, "submit", "gpu buffer missing", syscall.EINVAL, req)
	case g.ctx == nil:
		reject(subsystemGPU, "submit", "device not initialized", syscall.EINVAL, req)
	default:
		return true
	}
	return false
}

// fileToGPU reads from the file into a mapped staging buffer, then
// copies staging → device under a fence.
func (g *GPU) fileToGPU(req *dsio.Request) {
	stg, err := g.ctx.NewStagingSrc(req.Size)
	if err != nil {
		g.fail(req, "staging_alloc", err)
		return
	}
	defer stg.Destroy()

	data, err := stg.Map()
	if err != nil {
		g.fail(req, "staging_map", err)
		return
	}
	n, errno := hostio.Pread(req.FD, data, req.Offset)
	stg.Unmap()
	if errno != 0 {
		reject(subsystemGPU, "pread", "positional read failed", errno, req)
		return
	}

	if err := g.ctx.Copy(stg.Handle(), req.GPUBuffer, 0, req.GPUOffset, req.Size); err != nil {
		g.fail(req, "copy", err)
		return
	}
	req.Succeed(uint64(n))
}

// gpuToFile copies device → staging under a fence, then writes the
// mapped staging contents to the file.
func (g *GPU) gpuToFile(req *dsio.Request) {
	stg, err := g.ctx.NewStagingDst(req.Size)
	if err != nil {
		g.fail(req, "staging_alloc", err)
		return
	}
	defer stg.Destroy()

	if err := g.ctx.Copy(req.GPUBuffer, stg.Handle(), req.GPUOffset, 0, req.Size); err != nil {
		g.fail(req, "copy", err)
		return
	}

	data, err := stg.Map()
	if err != nil {
		g.fail(req, "staging_map", err)
		return
	}
	n, errno := hostio.Pwrite(req.FD, data, req.Offset)
	stg.Unmap()
	if errno != 0 {
		reject(subsystemGPU, "pwrite", "positional write failed", errno, req)
		return
	}
	req.Succeed(uint64(n))
}

// fail maps staging-pipeline errors onto the request's errno.
func (g *GPU) fail(req *dsio.Request, operation string, err error) {
	errno := syscall.EIO
	switch {
	case errors.Is(err, vkstage.ErrNoHostVisibleMemory):
		errno = syscall.ENOMEM
	case errors.Is(err, vkstage.ErrFenceTimeout):
		errno = syscall.ETIMEDOUT
	case errors.Is(err, vkstage.ErrNotInitialized):
		errno = syscall.EINVAL
	}
	reject(subsystemGPU, operation, err.Error(), errno, req)
}

// Close drains the worker FIFO, then waits for device idle and destroys
// only owned device handles.
func (g *GPU) Close() error {
	g.pool.Close()
	if g.ctx != nil {
		g.ctx.Close()
	}
	return nil
}

// Compile-time interface check
var _ dsio.Backend = (*GPU)(nil)
