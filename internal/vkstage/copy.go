package vkstage

import (
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// fenceTimeout bounds every host-side fence wait. A timed-out copy is
// an I/O failure for that request; it does not tear the context down.
const fenceTimeout = time.Second

// Copy records a one-shot command buffer with a single buffer-copy
// region, submits it with a fence, and blocks until the fence signals
// or the bounded wait expires. Transient objects are destroyed before
// return on every path.
//
// The whole sequence runs under the context mutex: the device queue and
// command pool are externally synchronized objects.
func (c *Context) Copy(src, dst unsafe.Pointer, srcOff, dstOff, size uint64) error {
	if c == nil || c.device == nil {
		return ErrNotInitialized
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cmdBufs := make([]vk.CommandBuffer, 1)
	if ret := vk.AllocateCommandBuffers(c.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        c.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cmdBufs); ret != vk.Success {
		return vkErr("vkAllocateCommandBuffers", ret)
	}
	defer vk.FreeCommandBuffers(c.device, c.commandPool, 1, cmdBufs)
	cmd := cmdBufs[0]

	if ret := vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}); ret != vk.Success {
		return vkErr("vkBeginCommandBuffer", ret)
	}

	vk.CmdCopyBuffer(cmd, vk.Buffer(src), vk.Buffer(dst), 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOff),
		DstOffset: vk.DeviceSize(dstOff),
		Size:      vk.DeviceSize(size),
	}})

	if ret := vk.EndCommandBuffer(cmd); ret != vk.Success {
		return vkErr("vkEndCommandBuffer", ret)
	}

	var fence vk.Fence
	if ret := vk.CreateFence(c.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &fence); ret != vk.Success {
		return vkErr("vkCreateFence", ret)
	}
	defer vk.DestroyFence(c.device, fence, nil)

	if ret := vk.QueueSubmit(c.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cmdBufs,
	}}, fence); ret != vk.Success {
		return vkErr("vkQueueSubmit", ret)
	}

	switch ret := vk.WaitForFences(c.device, 1, []vk.Fence{fence}, vk.True, uint64(fenceTimeout.Nanoseconds())); ret {
	case vk.Success:
		return nil
	case vk.Timeout:
		return ErrFenceTimeout
	default:
		return vkErr("vkWaitForFences", ret)
	}
}
