package loader

import "fmt"

// StatusError is a non-2xx backend reply.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Detail)
}

// ConnectivityError means the backend stayed unreachable for the whole
// retry budget. Cached state must be left untouched by the caller.
type ConnectivityError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("backend unreachable: %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}
