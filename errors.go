package dsio

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured runtime error with context and errno
// mapping. Per-request I/O failures are reported through the request's
// result fields instead; Error covers constructor and lifecycle
// failures (ring setup, device bring-up, teardown).
type Error struct {
	Op        string        // Operation that failed (e.g., "ring_setup", "device_create")
	Subsystem string        // Originating subsystem ("cpu", "ring", "gpu", "queue")
	Code      ErrorCode     // High-level error category
	Errno     syscall.Errno // Underlying errno (0 if not applicable)
	Msg       string        // Human-readable message
	Inner     error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	ctx := ""
	if e.Subsystem != "" {
		ctx += fmt.Sprintf(" subsystem=%s", e.Subsystem)
	}
	if e.Op != "" {
		ctx += fmt.Sprintf(" op=%s", e.Op)
	}
	if e.Errno != 0 {
		ctx += fmt.Sprintf(" errno=%d", int(e.Errno))
	}

	if ctx != "" {
		return fmt.Sprintf("dsio: %s (%s)", msg, ctx[1:])
	}
	return fmt.Sprintf("dsio: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches errors by category so callers can compare against an
// Error carrying only a Code.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeNotSupported       ErrorCode = "operation not supported"
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeRingUnavailable    ErrorCode = "completion ring unavailable"
	ErrCodeDeviceUnavailable  ErrorCode = "device unavailable"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeTimeout            ErrorCode = "timeout"
)

// NewError creates a new structured error
func NewError(subsystem, op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:        op,
		Subsystem: subsystem,
		Code:      code,
		Msg:       msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(subsystem, op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:        op,
		Subsystem: subsystem,
		Code:      code,
		Errno:     errno,
		Msg:       errno.Error(),
	}
}

// WrapError wraps an existing error with runtime context
func WrapError(subsystem, op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// Already structured: keep the category, update the provenance.
	if de, ok := inner.(*Error); ok {
		return &Error{
			Op:        op,
			Subsystem: subsystem,
			Code:      de.Code,
			Errno:     de.Errno,
			Msg:       de.Msg,
			Inner:     de.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:        op,
			Subsystem: subsystem,
			Code:      mapErrnoToCode(errno),
			Errno:     errno,
			Msg:       errno.Error(),
			Inner:     inner,
		}
	}

	return &Error{
		Op:        op,
		Subsystem: subsystem,
		Code:      ErrCodeIOError,
		Msg:       inner.Error(),
		Inner:     inner,
	}
}

// mapErrnoToCode maps syscall errno to runtime error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINVAL, syscall.EBADF, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeNotSupported
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.ENODEV, syscall.ENOENT:
		return ErrCodeDeviceUnavailable
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Errno == errno
	}
	return false
}
