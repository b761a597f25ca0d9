package vkstage

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// StagingBuffer is a transient host-visible, host-coherent buffer the
// backend allocates per transfer and destroys at completion. It is the
// only device memory this package ever owns.
type StagingBuffer struct {
	ctx  *Context
	buf  vk.Buffer
	mem  vk.DeviceMemory
	size uint64
}

// NewStagingSrc allocates a staging buffer usable as a copy source
// (file → GPU uploads).
func (c *Context) NewStagingSrc(size uint64) (*StagingBuffer, error) {
	return c.newStaging(size, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
}

// NewStagingDst allocates a staging buffer usable as a copy destination
// (GPU → file downloads).
func (c *Context) NewStagingDst(size uint64) (*StagingBuffer, error) {
	return c.newStaging(size, vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
}

// NewTransferBuffer allocates a buffer usable as both copy source and
// copy destination. Round-trip tests use it to stand in for an
// externally-owned device buffer.
func (c *Context) NewTransferBuffer(size uint64) (*StagingBuffer, error) {
	return c.newStaging(size, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit))
}

// newStaging creates a buffer of exactly size bytes and binds it to a
// host-visible, host-coherent allocation. Allocation and mapping are
// intentionally outside the context mutex.
func (c *Context) newStaging(size uint64, usage vk.BufferUsageFlags) (*StagingBuffer, error) {
	if c == nil || c.device == nil {
		return nil, ErrNotInitialized
	}

	var buf vk.Buffer
	if ret := vk.CreateBuffer(c.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf); ret != vk.Success {
		return nil, vkErr("vkCreateBuffer", ret)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(c.device, buf, &reqs)
	reqs.Deref()

	memType, ok := c.findMemoryType(reqs.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if !ok {
		vk.DestroyBuffer(c.device, buf, nil)
		return nil, ErrNoHostVisibleMemory
	}

	var mem vk.DeviceMemory
	if ret := vk.AllocateMemory(c.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: memType,
	}, nil, &mem); ret != vk.Success {
		vk.DestroyBuffer(c.device, buf, nil)
		return nil, ErrNoHostVisibleMemory
	}

	if ret := vk.BindBufferMemory(c.device, buf, mem, 0); ret != vk.Success {
		vk.FreeMemory(c.device, mem, nil)
		vk.DestroyBuffer(c.device, buf, nil)
		return nil, vkErr("vkBindBufferMemory", ret)
	}

	return &StagingBuffer{ctx: c, buf: buf, mem: mem, size: size}, nil
}

// Handle returns the VkBuffer for use as a copy operand.
func (s *StagingBuffer) Handle() unsafe.Pointer {
	return unsafe.Pointer(s.buf)
}

// Map exposes the staging memory as a byte slice. The slice is valid
// until Unmap or Destroy.
func (s *StagingBuffer) Map() ([]byte, error) {
	var ptr unsafe.Pointer
	if ret := vk.MapMemory(s.ctx.device, s.mem, 0, vk.DeviceSize(s.size), 0, &ptr); ret != vk.Success {
		return nil, vkErr("vkMapMemory", ret)
	}
	return unsafe.Slice((*byte)(ptr), s.size), nil
}

// Unmap releases the host mapping. The memory is host-coherent, so no
// explicit flush precedes it.
func (s *StagingBuffer) Unmap() {
	vk.UnmapMemory(s.ctx.device, s.mem)
}

// Destroy releases the buffer and its allocation.
func (s *StagingBuffer) Destroy() {
	vk.DestroyBuffer(s.ctx.device, s.buf, nil)
	vk.FreeMemory(s.ctx.device, s.mem, nil)
}
