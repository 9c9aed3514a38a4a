package rhi

import "errors"

// Common rhi errors.
//
// Fallible operations return one of these sentinels (possibly wrapped with
// additional context via fmt.Errorf and %w) immediately on first failure.
// Compound operations such as recursive finalization propagate the first
// error encountered and abandon remaining work; callers must assume a failed
// compound call left the object graph partially mutated.
var (
	// ErrInvalidArgument is returned when an offset or index is outside the
	// declared binding range of a shader object layout.
	ErrInvalidArgument = errors.New("rhi: invalid argument")

	// ErrInvalidOperation is returned when an operation is not permitted in
	// the object's current state, e.g. mutating a finalized shader object.
	ErrInvalidOperation = errors.New("rhi: invalid operation")

	// ErrFinalized is returned when mutating or re-finalizing a shader
	// object that has already been finalized.
	ErrFinalized = errors.New("rhi: shader object is finalized")

	// ErrNotImplemented is returned for known structural limitations, such
	// as an existential value whose ordinary data does not fit in the
	// reserved payload region of its binding.
	ErrNotImplemented = errors.New("rhi: not implemented")

	// ErrNotAvailable is returned when an operation is unsupported on the
	// current backend or configuration.
	ErrNotAvailable = errors.New("rhi: not available")
)
