package dsio

// CompletionFunc is invoked by a backend exactly once per accepted
// request, on a backend-owned goroutine, with the final status, errno
// and byte count filled in.
type CompletionFunc func(Request)

// Backend is the execution contract shared by all backends. Submit
// returns without blocking on I/O and eventually fires the completion
// exactly once. Close flushes or fails pending work such that no
// completion fires after it returns.
type Backend interface {
	Submit(req Request, complete CompletionFunc)
	Close() error
}
