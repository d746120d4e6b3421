package mirror

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openrig/rigcore/internal/handle"
)

// publisher is the broker surface the Mirror needs. Satisfied by *Client.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the Mirror.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// stateMessage is the JSON body published on rigcore/state/{uid}.
type stateMessage struct {
	UID       string         `json:"uid"`
	Props     map[string]any `json:"props"`
	Timestamp string         `json:"timestamp"`
}

// Mirror forwards property-change batches from device handles to the
// broker. Publishing is best-effort: a broker outage costs mirrored state,
// never device operations.
type Mirror struct {
	pub    publisher
	qos    byte
	logger Logger
}

// New creates a Mirror over a connected client.
func New(client *Client, qos byte, logger Logger) *Mirror {
	return newMirror(client, qos, logger)
}

func newMirror(pub publisher, qos byte, logger Logger) *Mirror {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Mirror{pub: pub, qos: qos, logger: logger}
}

// Attach subscribes the mirror to every handle's property changes and
// publishes each device's current state once, so the broker starts with a
// complete retained snapshot.
func (m *Mirror) Attach(handles map[string]*handle.Handle) error {
	for uid, h := range handles {
		if err := h.OnPropsChanged(func(props map[string]any) {
			m.publishState(uid, props)
		}); err != nil {
			return fmt.Errorf("mirror: attaching to %q: %w", uid, err)
		}

		props, err := h.Props()
		if err != nil {
			m.logger.Warn("initial state read failed", "uid", uid, "error", err)
			continue
		}
		m.publishState(uid, props)
	}
	return nil
}

// publishState publishes one retained state message.
func (m *Mirror) publishState(uid string, props map[string]any) {
	payload, err := json.Marshal(stateMessage{
		UID:       uid,
		Props:     props,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		m.logger.Warn("encoding state failed", "uid", uid, "error", err)
		return
	}

	if err := m.pub.Publish(StateTopic(uid), payload, m.qos, true); err != nil {
		m.logger.Warn("mirroring state failed", "uid", uid, "error", err)
		return
	}
	m.logger.Debug("state mirrored", "uid", uid, "props", len(props))
}
