// Package vkstage owns the Vulkan plumbing behind the GPU-staging
// backend: a borrowed-or-created device context, transient staging
// buffers, and one-shot fenced copies between staging and device
// buffers.
package vkstage

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/behrlich/go-dsio/internal/diag"
)

// Sentinel failures the backend maps onto errnos.
var (
	// ErrNoHostVisibleMemory means no memory type satisfied both the
	// buffer's requirement bitmask and the host-visible+coherent
	// property bits.
	ErrNoHostVisibleMemory = errors.New("vkstage: no host-visible coherent memory type")

	// ErrFenceTimeout means the copy fence did not signal within the
	// bounded wait.
	ErrFenceTimeout = errors.New("vkstage: fence wait timed out")

	// ErrNotInitialized means the context has no usable device.
	ErrNotInitialized = errors.New("vkstage: device not initialized")
)

func vkErr(op string, ret vk.Result) error {
	return fmt.Errorf("vkstage: %s failed: result %d", op, int32(ret))
}

var (
	loadOnce sync.Once
	loadErr  error
)

// loadVulkan resolves the loader entry points once per process.
func loadVulkan() error {
	loadOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loadErr = fmt.Errorf("vkstage: loader unavailable: %w", err)
			return
		}
		loadErr = vk.Init()
	})
	return loadErr
}

// Config carries the externally-owned handles, or all-nil to request
// internal creation of a minimal device. A non-nil Device marks every
// supplied handle as borrowed.
type Config struct {
	Instance       unsafe.Pointer // VkInstance
	PhysicalDevice unsafe.Pointer // VkPhysicalDevice
	Device         unsafe.Pointer // VkDevice
	Queue          unsafe.Pointer // VkQueue
	CommandPool    unsafe.Pointer // VkCommandPool
	QueueFamily    uint32
}

// Context is the device context the staging pipeline runs against. It
// records, per handle, whether it owns it; Close destroys only owned
// handles, never borrowed ones.
type Context struct {
	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	queue          vk.Queue
	queueFamily    uint32
	commandPool    vk.CommandPool

	ownsInstance bool
	ownsDevice   bool
	ownsPool     bool

	memProps vk.PhysicalDeviceMemoryProperties

	// mu serializes command-buffer lifecycle, queue submission, fence
	// waits and context teardown. The device queue is externally
	// synchronized; staging allocation and mapping stay outside it.
	mu sync.Mutex
}

// New builds a context from cfg. With a nil Device it creates a minimal
// instance, device, transfer queue and command pool of its own.
func New(cfg Config) (*Context, error) {
	if err := loadVulkan(); err != nil {
		return nil, err
	}

	c := &Context{queueFamily: cfg.QueueFamily}

	if cfg.Device != nil {
		c.instance = vk.Instance(cfg.Instance)
		c.physicalDevice = vk.PhysicalDevice(cfg.PhysicalDevice)
		c.device = vk.Device(cfg.Device)
		c.queue = vk.Queue(cfg.Queue)
		c.commandPool = vk.CommandPool(cfg.CommandPool)

		if c.physicalDevice == nil {
			return nil, ErrNotInitialized
		}
		if c.queue == nil {
			var q vk.Queue
			vk.GetDeviceQueue(c.device, c.queueFamily, 0, &q)
			c.queue = q
		}
		var zeroPool vk.CommandPool
		if c.commandPool == zeroPool {
			pool, err := newCommandPool(c.device, c.queueFamily)
			if err != nil {
				return nil, err
			}
			c.commandPool = pool
			c.ownsPool = true
		}
	} else {
		if err := c.createOwned(); err != nil {
			c.Close()
			return nil, err
		}
	}

	vk.GetPhysicalDeviceMemoryProperties(c.physicalDevice, &c.memProps)
	c.memProps.Deref()

	diag.Event("gpu", "device_create", "vulkan context ready",
		"owns_device", c.ownsDevice, "queue_family", c.queueFamily)
	return c, nil
}

// createOwned brings up a minimal instance, device, queue and pool.
func (c *Context) createOwned() error {
	appInfo := vk.ApplicationInfo{
		SType:            vk.StructureTypeApplicationInfo,
		PApplicationName: "go-dsio\x00",
		PEngineName:      "go-dsio\x00",
		ApiVersion:       vk.MakeVersion(1, 1, 0),
	}
	var instance vk.Instance
	if ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}, nil, &instance); ret != vk.Success {
		return vkErr("vkCreateInstance", ret)
	}
	c.instance = instance
	c.ownsInstance = true

	if err := vk.InitInstance(instance); err != nil {
		return fmt.Errorf("vkstage: instance init: %w", err)
	}

	var count uint32
	if ret := vk.EnumeratePhysicalDevices(c.instance, &count, nil); ret != vk.Success || count == 0 {
		return ErrNotInitialized
	}
	phys := make([]vk.PhysicalDevice, count)
	if ret := vk.EnumeratePhysicalDevices(c.instance, &count, phys); ret != vk.Success {
		return vkErr("vkEnumeratePhysicalDevices", ret)
	}
	c.physicalDevice = phys[0]

	family, ok := transferQueueFamily(c.physicalDevice)
	if !ok {
		return ErrNotInitialized
	}
	c.queueFamily = family

	priorities := []float32{1.0}
	var device vk.Device
	if ret := vk.CreateDevice(c.physicalDevice, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: priorities,
		}},
	}, nil, &device); ret != vk.Success {
		return vkErr("vkCreateDevice", ret)
	}
	c.device = device
	c.ownsDevice = true

	var queue vk.Queue
	vk.GetDeviceQueue(c.device, family, 0, &queue)
	c.queue = queue

	pool, err := newCommandPool(c.device, family)
	if err != nil {
		return err
	}
	c.commandPool = pool
	c.ownsPool = true
	return nil
}

// transferQueueFamily picks the first family capable of transfer work.
// Graphics and compute families implicitly support transfer.
func transferQueueFamily(pd vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	if count == 0 {
		return 0, false
	}
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)
	want := vk.QueueFlags(vk.QueueTransferBit | vk.QueueGraphicsBit | vk.QueueComputeBit)
	for i := range families {
		families[i].Deref()
		if families[i].QueueFlags&want != 0 {
			return uint32(i), true
		}
	}
	return 0, false
}

func newCommandPool(device vk.Device, family uint32) (vk.CommandPool, error) {
	var pool vk.CommandPool
	if ret := vk.CreateCommandPool(device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}, nil, &pool); ret != vk.Success {
		return pool, vkErr("vkCreateCommandPool", ret)
	}
	return pool, nil
}

// findMemoryType intersects the requirement bitmask with the wanted
// property bits.
func (c *Context) findMemoryType(typeBits uint32, props vk.MemoryPropertyFlags) (uint32, bool) {
	for i := uint32(0); i < c.memProps.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		c.memProps.MemoryTypes[i].Deref()
		if c.memProps.MemoryTypes[i].PropertyFlags&props == props {
			return i, true
		}
	}
	return 0, false
}

// Close drains all device work, then destroys only the handles the
// context owns, in reverse creation order. Borrowed handles are left
// untouched.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		vk.DeviceWaitIdle(c.device)
	}
	var zeroPool vk.CommandPool
	if c.ownsPool && c.commandPool != zeroPool {
		vk.DestroyCommandPool(c.device, c.commandPool, nil)
		c.commandPool = zeroPool
	}
	if c.ownsDevice && c.device != nil {
		vk.DestroyDevice(c.device, nil)
		c.device = nil
	}
	if c.ownsInstance && c.instance != nil {
		vk.DestroyInstance(c.instance, nil)
		c.instance = nil
	}
}
