package capability

import "errors"

// Domain-specific errors for capability model operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownProperty is returned when a property name is not declared.
	ErrUnknownProperty = errors.New("capability: unknown property")

	// ErrUnknownCommand is returned when a command name is not declared.
	ErrUnknownCommand = errors.New("capability: unknown command")

	// ErrPropertyReadOnly is returned on a write to a property without a setter.
	ErrPropertyReadOnly = errors.New("capability: property is read-only")

	// ErrInvalidParam is returned when a command call fails parameter
	// validation. The call is rejected before any device code runs.
	ErrInvalidParam = errors.New("capability: invalid parameter")

	// ErrOutOfRange is returned when a property write violates the declared
	// min/max constraint.
	ErrOutOfRange = errors.New("capability: value out of range")
)
