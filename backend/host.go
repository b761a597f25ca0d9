// Package backend provides the execution backends for the dsio request
// queue: a host thread-pool backend, a kernel completion-ring backend,
// and a GPU-staging backend.
package backend

import (
	"syscall"

	dsio "github.com/behrlich/go-dsio"
	"github.com/behrlich/go-dsio/internal/diag"
	"github.com/behrlich/go-dsio/internal/hostio"
)

// snapshot captures the diagnostic view of a request.
func snapshot(req *dsio.Request) diag.RequestInfo {
	return diag.RequestInfo{
		FD:     req.FD,
		Offset: req.Offset,
		Size:   req.Size,
		Op:     req.Op.String(),
		SrcMem: req.SrcMem.String(),
		DstMem: req.DstMem.String(),
	}
}

// reject fails the request and reports the violation with its snapshot.
func reject(subsystem, operation, detail string, errno syscall.Errno, req *dsio.Request) {
	req.Fail(errno)
	diag.ReportRequest(subsystem, operation, detail, errno, snapshot(req))
}

// validateHost applies the host-only validation order shared by the CPU
// and ring backends: bad descriptor, zero size, missing host buffer,
// GPU memory side. Returns false after failing the request and
// reporting.
func validateHost(subsystem string, req *dsio.Request) bool {
	switch {
	case req.FD < 0:
		reject(subsystem, "submit", "invalid file descriptor", syscall.EBADF, req)
	case req.Size == 0:
		reject(subsystem, "submit", "zero-size request", syscall.EINVAL, req)
	case req.Op == dsio.OpRead && req.DstMem == dsio.MemoryHost && uint64(len(req.HostDst)) < req.Size:
		reject(subsystem, "submit", "host destination missing or short", syscall.EINVAL, req)
	case req.Op == dsio.OpWrite && req.SrcMem == dsio.MemoryHost && uint64(len(req.HostSrc)) < req.Size:
		reject(subsystem, "submit", "host source missing or short", syscall.EINVAL, req)
	case req.DstMem == dsio.MemoryGPU || req.SrcMem == dsio.MemoryGPU:
		reject(subsystem, "submit", "gpu memory not supported", syscall.EINVAL, req)
	default:
		return true
	}
	return false
}

// hostRead performs the positional read step. Short reads succeed with
// the actual count and get a single NUL terminator written after the
// data to accommodate text-mode consumers; binary readers must not rely
// on bytes past BytesTransferred.
func hostRead(subsystem string, req *dsio.Request) {
	n, errno := hostio.Pread(req.FD, req.HostDst[:req.Size], req.Offset)
	if errno != 0 {
		reject(subsystem, "pread", "positional read failed", errno, req)
		return
	}
	if uint64(n) < req.Size {
		req.HostDst[n] = 0
	}
	req.Succeed(uint64(n))
}

// hostWrite performs the positional write step.
func hostWrite(subsystem string, req *dsio.Request) {
	n, errno := hostio.Pwrite(req.FD, req.HostSrc[:req.Size], req.Offset)
	if errno != 0 {
		reject(subsystem, "pwrite", "positional write failed", errno, req)
		return
	}
	req.Succeed(uint64(n))
}
