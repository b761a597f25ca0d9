//go:build !linux

package backend

import (
	"syscall"

	dsio "github.com/behrlich/go-dsio"
)

// Ring is unavailable off Linux. The constructor yields a permanently
// failed backend so callers see the same completion-path behavior as a
// failed ring setup.
type Ring struct {
	initErr error
}

// NewRing returns a permanently failed ring backend.
func NewRing(cfg RingConfig) *Ring {
	return &Ring{
		initErr: dsio.NewError(subsystemRing, "ring_setup", dsio.ErrCodeRingUnavailable, "io_uring requires linux"),
	}
}

// InitErr returns the reason ring setup is unavailable.
func (r *Ring) InitErr() error {
	return r.initErr
}

// Submit completes every request immediately with IoError(EINVAL).
func (r *Ring) Submit(req dsio.Request, complete dsio.CompletionFunc) {
	reject(subsystemRing, "submit", "ring unavailable", syscall.EINVAL, &req)
	complete(req)
}

// Close is a no-op; nothing was created.
func (r *Ring) Close() error {
	return nil
}

// Compile-time interface check
var _ dsio.Backend = (*Ring)(nil)
