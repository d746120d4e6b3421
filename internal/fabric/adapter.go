package fabric

import (
	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/control"
)

// PropsCallback receives one property-change batch.
type PropsCallback func(resp control.PropsResponse)

// StreamCallback receives one frame of a named byte-stream, verbatim.
type StreamCallback func(payload []byte)

// Adapter is the uniform access surface over one device, local or remote.
//
// The returned responses carry device-level failures (unknown command,
// constraint violation) as tagged error replies; the error return is
// reserved for transport failures that prevented the call entirely.
type Adapter interface {
	// UID returns the device identifier this adapter addresses.
	UID() string

	// RunCommand invokes a named command on the device.
	RunCommand(name string, args []any, kwargs map[string]any) (control.CommandResponse, error)

	// GetProps reads the named properties; no names means all.
	GetProps(names ...string) (control.PropsResponse, error)

	// SetProps writes a batch of property values atomically.
	SetProps(kv map[string]any) (control.PropsResponse, error)

	// Interface fetches the device's capability snapshot.
	Interface() (capability.Interface, error)

	// OnPropsChanged registers a callback for property-change batches.
	OnPropsChanged(cb PropsCallback) error

	// Subscribe registers a callback for a named byte-stream.
	Subscribe(stream string, cb StreamCallback) error

	// Unsubscribe removes all callbacks for a named byte-stream.
	Unsubscribe(stream string) error

	// Close releases the adapter's resources. Registered callbacks stop
	// firing before Close returns.
	Close() error
}

// Logger defines the logging interface used by fabric components.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
