package telemetry

import (
	"fmt"

	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/handle"
)

// pointWriter is the storage surface the Sink needs. Satisfied by *Client.
type pointWriter interface {
	WriteProperty(uid, property string, value float64)
}

// Logger defines the logging interface used by the Sink.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Sink records the numeric slice of every property-change batch.
// Non-numeric values are skipped; history is for trends, not state.
type Sink struct {
	writer pointWriter
	logger Logger
}

// NewSink creates a Sink writing through the given client.
func NewSink(client *Client, logger Logger) *Sink {
	return newSink(client, logger)
}

func newSink(writer pointWriter, logger Logger) *Sink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sink{writer: writer, logger: logger}
}

// Attach subscribes the sink to every handle's property changes.
func (s *Sink) Attach(handles map[string]*handle.Handle) error {
	for uid, h := range handles {
		if err := h.OnPropsChanged(func(props map[string]any) {
			s.record(uid, props)
		}); err != nil {
			return fmt.Errorf("telemetry: attaching to %q: %w", uid, err)
		}
	}
	return nil
}

// record writes every numeric property of one batch.
func (s *Sink) record(uid string, props map[string]any) {
	for name, value := range props {
		f, ok := capability.AsFloat(value)
		if !ok {
			continue
		}
		s.writer.WriteProperty(uid, name, f)
	}
}
