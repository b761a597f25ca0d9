// Package main exposes the dsio runtime to embedding processes as a C
// ABI (build with -buildmode=c-shared). Backends and queues cross the
// boundary as opaque handles; requests cross as the plain-C mirror of
// the Request value with integer enums.
package main

/*
#include <stdint.h>
#include <stddef.h>

typedef struct dsio_request {
	int32_t  fd;
	int64_t  offset;
	uint64_t size;
	void*    host_dst;
	void*    host_src;
	void*    gpu_buffer;
	uint64_t gpu_offset;
	int32_t  op;          // 0=read 1=write
	int32_t  dst_mem;     // 0=host 1=gpu
	int32_t  src_mem;     // 0=host 1=gpu
	int32_t  compression; // 0=none 1=demo-transform 2=stubbed
	int32_t  status;      // 0=pending 1=ok 2=io-error
	int32_t  errno_value;
	uint64_t bytes_transferred;
} dsio_request;

typedef struct dsio_gpu_config {
	void*    instance;
	void*    physical_device;
	void*    device;
	void*    queue;
	void*    command_pool;
	uint32_t queue_family;
	int32_t  workers;
} dsio_gpu_config;

typedef void (*dsio_completion_fn)(dsio_request* request, void* user_data);

static void dsio_call_completion(dsio_completion_fn fn, dsio_request* r, void* u) {
	if (fn) {
		fn(r, u);
	}
}
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"

	dsio "github.com/behrlich/go-dsio"
	"github.com/behrlich/go-dsio/backend"
)

// cQueue wraps a queue handed across the C boundary. Completed requests
// carry the caller's record pointer in their tag, so results can be
// written back to caller memory before the callback fires.
type cQueue struct {
	q *dsio.Queue
}

func goRequest(creq *C.dsio_request) dsio.Request {
	req := dsio.Request{
		FD:          int(creq.fd),
		Offset:      int64(creq.offset),
		Size:        uint64(creq.size),
		GPUBuffer:   creq.gpu_buffer,
		GPUOffset:   uint64(creq.gpu_offset),
		Op:          dsio.Op(creq.op),
		DstMem:      dsio.Memory(creq.dst_mem),
		SrcMem:      dsio.Memory(creq.src_mem),
		Compression: dsio.Compression(creq.compression),
		Status:      dsio.Status(creq.status),
		Tag:         uintptr(unsafe.Pointer(creq)),
	}
	if creq.host_dst != nil && creq.size > 0 {
		req.HostDst = unsafe.Slice((*byte)(creq.host_dst), creq.size)
	}
	if creq.host_src != nil && creq.size > 0 {
		req.HostSrc = unsafe.Slice((*byte)(creq.host_src), creq.size)
	}
	return req
}

// writeBack copies the result fields into the caller's record.
func writeBack(done *dsio.Request) *C.dsio_request {
	creq := (*C.dsio_request)(unsafe.Pointer(done.Tag))
	if creq == nil {
		return nil
	}
	creq.status = C.int32_t(done.Status)
	creq.errno_value = C.int32_t(done.ErrnoValue)
	creq.bytes_transferred = C.uint64_t(done.BytesTransferred)
	return creq
}

//export dsio_backend_make_cpu
func dsio_backend_make_cpu(workerCount C.int32_t) C.uintptr_t {
	b := backend.NewCPU(backend.CPUConfig{Workers: int(workerCount)})
	return C.uintptr_t(cgo.NewHandle(dsio.Backend(b)))
}

//export dsio_backend_make_ring
func dsio_backend_make_ring(entries C.uint32_t) C.uintptr_t {
	b := backend.NewRing(backend.RingConfig{Entries: uint32(entries)})
	return C.uintptr_t(cgo.NewHandle(dsio.Backend(b)))
}

//export dsio_backend_make_gpu
func dsio_backend_make_gpu(cfg *C.dsio_gpu_config) C.uintptr_t {
	var gc backend.GPUConfig
	if cfg != nil {
		gc = backend.GPUConfig{
			Instance:       cfg.instance,
			PhysicalDevice: cfg.physical_device,
			Device:         cfg.device,
			Queue:          cfg.queue,
			CommandPool:    cfg.command_pool,
			QueueFamily:    uint32(cfg.queue_family),
			Workers:        int(cfg.workers),
		}
	}
	b := backend.NewGPU(gc)
	return C.uintptr_t(cgo.NewHandle(dsio.Backend(b)))
}

//export dsio_backend_release
func dsio_backend_release(h C.uintptr_t) {
	handle := cgo.Handle(h)
	if b, ok := handle.Value().(dsio.Backend); ok {
		_ = b.Close()
	}
	handle.Delete()
}

//export dsio_queue_create
func dsio_queue_create(bh C.uintptr_t) C.uintptr_t {
	b, ok := cgo.Handle(bh).Value().(dsio.Backend)
	if !ok {
		return 0
	}
	return C.uintptr_t(cgo.NewHandle(&cQueue{q: dsio.NewQueue(b)}))
}

//export dsio_queue_release
func dsio_queue_release(h C.uintptr_t) {
	cgo.Handle(h).Delete()
}

//export dsio_queue_enqueue
func dsio_queue_enqueue(h C.uintptr_t, creq *C.dsio_request) {
	cq, ok := cgo.Handle(h).Value().(*cQueue)
	if !ok || creq == nil {
		return
	}
	cq.q.Enqueue(goRequest(creq))
}

//export dsio_queue_submit_all
func dsio_queue_submit_all(h C.uintptr_t, fn C.dsio_completion_fn, userData unsafe.Pointer) {
	cq, ok := cgo.Handle(h).Value().(*cQueue)
	if !ok {
		return
	}
	cq.q.SubmitAll(func(done dsio.Request) {
		creq := writeBack(&done)
		if creq != nil {
			C.dsio_call_completion(fn, creq, userData)
		}
	})
}

//export dsio_queue_wait_all
func dsio_queue_wait_all(h C.uintptr_t) {
	if cq, ok := cgo.Handle(h).Value().(*cQueue); ok {
		cq.q.WaitAll()
	}
}

//export dsio_queue_in_flight
func dsio_queue_in_flight(h C.uintptr_t) C.size_t {
	if cq, ok := cgo.Handle(h).Value().(*cQueue); ok {
		return C.size_t(cq.q.InFlight())
	}
	return 0
}

//export dsio_queue_total_completed
func dsio_queue_total_completed(h C.uintptr_t) C.size_t {
	if cq, ok := cgo.Handle(h).Value().(*cQueue); ok {
		return C.size_t(cq.q.TotalCompleted())
	}
	return 0
}

//export dsio_queue_total_failed
func dsio_queue_total_failed(h C.uintptr_t) C.size_t {
	if cq, ok := cgo.Handle(h).Value().(*cQueue); ok {
		return C.size_t(cq.q.TotalFailed())
	}
	return 0
}

//export dsio_queue_total_bytes_transferred
func dsio_queue_total_bytes_transferred(h C.uintptr_t) C.size_t {
	if cq, ok := cgo.Handle(h).Value().(*cQueue); ok {
		return C.size_t(cq.q.TotalBytesTransferred())
	}
	return 0
}

func main() {}
