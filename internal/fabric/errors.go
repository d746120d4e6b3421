package fabric

import "errors"

// Sentinel errors for fabric operations.
var (
	// ErrClosed is returned when an operation is attempted on a closed
	// adapter or service.
	ErrClosed = errors.New("fabric: closed")

	// ErrConnectionFailed indicates the initial dial or handshake failed.
	ErrConnectionFailed = errors.New("fabric: connection failed")

	// ErrFrameTooLarge indicates an incoming frame exceeds maxFrameSize.
	ErrFrameTooLarge = errors.New("fabric: frame too large")

	// ErrBadMessage indicates a wire message could not be decoded.
	ErrBadMessage = errors.New("fabric: malformed message")

	// ErrRemote indicates the remote service reported a failure for an
	// operation that has no structured reply to carry it.
	ErrRemote = errors.New("fabric: remote error")
)
