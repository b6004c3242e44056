package runtime

import (
	"errors"
	"fmt"
)

// ErrAlreadyExists is returned by AddNetwork when a function name collides
// with a currently registered network.
var ErrAlreadyExists = errors.New("network already registered")

// ErrNetworkNotFound is delivered through the run callback when a run
// targets an unknown or removed network.
var ErrNetworkNotFound = errors.New("network not found")

// CompilationError wraps a failure reported by the compiler during network
// registration. The underlying error propagates verbatim.
type CompilationError struct {
	Err error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compilation failed: %v", e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// DeviceError reports a fragment failure during execution, carrying the
// device-reported detail.
type DeviceError struct {
	Device   string
	Fragment string
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %q: fragment %q: %v", e.Device, e.Fragment, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
