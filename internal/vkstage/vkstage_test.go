package vkstage

import (
	"bytes"
	"testing"
	"unsafe"
)

// newContext creates an owned context or skips when no Vulkan
// implementation is reachable.
func newContext(t *testing.T) *Context {
	t.Helper()
	c, err := New(Config{})
	if err != nil {
		t.Skipf("no vulkan implementation available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNewBorrowedDeviceNeedsPhysicalDevice(t *testing.T) {
	var dummy int
	_, err := New(Config{Device: unsafe.Pointer(&dummy)})
	if err == nil {
		t.Fatal("New with borrowed device and no physical device succeeded")
	}
}

func TestStagingMapRoundTrip(t *testing.T) {
	c := newContext(t)

	stg, err := c.NewStagingSrc(128)
	if err != nil {
		t.Fatalf("NewStagingSrc: %v", err)
	}
	defer stg.Destroy()

	data, err := stg.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if len(data) != 128 {
		t.Fatalf("mapping length = %d, want exactly the requested size", len(data))
	}
	copy(data, "staging contents")
	stg.Unmap()

	data, err = stg.Map()
	if err != nil {
		t.Fatalf("remap: %v", err)
	}
	defer stg.Unmap()
	if !bytes.Equal(data[:16], []byte("staging contents")) {
		t.Errorf("remapped contents = %q", data[:16])
	}
}

func TestCopyBetweenBuffers(t *testing.T) {
	c := newContext(t)

	src, err := c.NewTransferBuffer(64)
	if err != nil {
		t.Fatalf("src alloc: %v", err)
	}
	defer src.Destroy()
	dst, err := c.NewTransferBuffer(64)
	if err != nil {
		t.Fatalf("dst alloc: %v", err)
	}
	defer dst.Destroy()

	data, err := src.Map()
	if err != nil {
		t.Fatalf("map src: %v", err)
	}
	copy(data, "device copy payload")
	src.Unmap()

	if err := c.Copy(src.Handle(), dst.Handle(), 0, 8, 32); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	out, err := dst.Map()
	if err != nil {
		t.Fatalf("map dst: %v", err)
	}
	defer dst.Unmap()
	if !bytes.Equal(out[8:8+18], []byte("device copy payload"[:18])) {
		t.Errorf("copied region = %q", out[8:8+18])
	}
}

func TestCopyOnNilContextFails(t *testing.T) {
	var c *Context
	if err := c.Copy(nil, nil, 0, 0, 16); err != ErrNotInitialized {
		t.Errorf("Copy on nil context = %v, want ErrNotInitialized", err)
	}
}
