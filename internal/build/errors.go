package build

import (
	"errors"
	"fmt"
)

// Kind classifies a per-device build failure.
type Kind string

// Build error kinds.
const (
	// KindImport: the target type identifier is not registered.
	KindImport Kind = "import"

	// KindInstantiation: the factory returned an error.
	KindInstantiation Kind = "instantiation"

	// KindDependency: a referenced device failed to build.
	KindDependency Kind = "dependency"

	// KindCircular: the device participates in a reference cycle.
	KindCircular Kind = "circular"
)

// Error describes why one device failed to build.
type Error struct {
	UID     string
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("build %s (%s): %s", e.UID, e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrDuplicateTarget is returned when registering a target identifier twice.
var ErrDuplicateTarget = errors.New("build: target already registered")
