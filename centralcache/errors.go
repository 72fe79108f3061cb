package centralcache

import "errors"

// ErrCorruptState is raised when a block handed to ReturnRange cannot be
// resolved to a span it could plausibly belong to. This only happens on
// caller misuse (double-free, wrong size class) and is treated as a fatal
// assertion rather than a recoverable error.
var ErrCorruptState = errors.New("centralcache: block does not resolve to a known span")

func panicCorruptState(addr uintptr) {
	panic(&corruptStateError{addr: addr})
}

type corruptStateError struct {
	addr uintptr
}

func (e *corruptStateError) Error() string { return ErrCorruptState.Error() }

func (e *corruptStateError) Unwrap() error { return ErrCorruptState }
