// Package hostio wraps positional host file I/O. Reads and writes take
// an explicit offset and never move the file position, so concurrent
// workers can share one descriptor.
package hostio

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// Pread reads len(buf) bytes from fd at off. Returns the byte count and
// a zero errno on success. Partial reads are not errors.
func Pread(fd int, buf []byte, off int64) (int, syscall.Errno) {
	for {
		n, err := unix.Pread(fd, buf, off)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, AsErrno(err)
		}
		return n, 0
	}
}

// Pwrite writes len(buf) bytes to fd at off.
func Pwrite(fd int, buf []byte, off int64) (int, syscall.Errno) {
	for {
		n, err := unix.Pwrite(fd, buf, off)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, AsErrno(err)
		}
		return n, 0
	}
}

// AsErrno extracts the errno from an error chain, defaulting to EIO for
// errors that carry none.
func AsErrno(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
