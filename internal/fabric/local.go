package fabric

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/control"
)

// Ensure LocalAdapter implements Adapter.
var _ Adapter = (*LocalAdapter)(nil)

// LocalAdapter addresses a device hosted in the same process.
//
// Calls go straight into the Controller; no serialization, no sockets. The
// adapter installs itself as the controller's publish sink so change
// notifications reach local subscribers with the same callback semantics a
// NetAdapter provides.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type LocalAdapter struct {
	ctrl *control.Controller

	mu       sync.RWMutex
	propsCbs []PropsCallback
	streams  map[string][]StreamCallback
	closed   bool

	logger Logger
}

// NewLocalAdapter wraps a controller and takes over its publish sink.
func NewLocalAdapter(ctrl *control.Controller) *LocalAdapter {
	a := &LocalAdapter{
		ctrl:    ctrl,
		streams: make(map[string][]StreamCallback),
		logger:  noopLogger{},
	}
	ctrl.SetPublisher(a.dispatch)
	return a
}

// SetLogger sets the logger for the adapter.
func (a *LocalAdapter) SetLogger(logger Logger) {
	a.logger = logger
}

// UID returns the device identifier.
func (a *LocalAdapter) UID() string {
	return a.ctrl.UID()
}

// Device returns the concrete device instance. Only local adapters can
// offer this; remote devices are reachable through their capabilities only.
func (a *LocalAdapter) Device() capability.Device {
	return a.ctrl.Device()
}

// RunCommand invokes a named command on the device.
func (a *LocalAdapter) RunCommand(name string, args []any, kwargs map[string]any) (control.CommandResponse, error) {
	if a.isClosed() {
		return control.CommandResponse{}, ErrClosed
	}
	return a.ctrl.RunCommand(name, args, kwargs), nil
}

// GetProps reads the named properties; no names means all.
func (a *LocalAdapter) GetProps(names ...string) (control.PropsResponse, error) {
	if a.isClosed() {
		return control.PropsResponse{}, ErrClosed
	}
	return a.ctrl.GetProps(names), nil
}

// SetProps writes a batch of property values.
func (a *LocalAdapter) SetProps(kv map[string]any) (control.PropsResponse, error) {
	if a.isClosed() {
		return control.PropsResponse{}, ErrClosed
	}
	return a.ctrl.SetProps(kv), nil
}

// Interface returns the device's capability snapshot.
func (a *LocalAdapter) Interface() (capability.Interface, error) {
	if a.isClosed() {
		return capability.Interface{}, ErrClosed
	}
	return a.ctrl.Interface(), nil
}

// OnPropsChanged registers a callback for property-change batches.
func (a *LocalAdapter) OnPropsChanged(cb PropsCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.propsCbs = append(a.propsCbs, cb)
	return nil
}

// Subscribe registers a callback for a named byte-stream.
func (a *LocalAdapter) Subscribe(stream string, cb StreamCallback) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.streams[stream] = append(a.streams[stream], cb)
	return nil
}

// Unsubscribe removes all callbacks for a named byte-stream.
func (a *LocalAdapter) Unsubscribe(stream string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.streams, stream)
	return nil
}

// Close detaches the adapter from the controller. Callbacks stop firing
// before Close returns.
func (a *LocalAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.propsCbs = nil
	a.streams = nil
	a.mu.Unlock()

	a.ctrl.SetPublisher(nil)
	return nil
}

func (a *LocalAdapter) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// dispatch is the controller's publish sink: it routes property batches to
// props callbacks and everything else to stream subscribers. Callback
// panics are contained per callback.
func (a *LocalAdapter) dispatch(topic string, payload []byte) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return
	}

	uid := a.ctrl.UID()
	if topic == control.PropsTopic(uid) {
		cbs := make([]PropsCallback, len(a.propsCbs))
		copy(cbs, a.propsCbs)
		a.mu.RUnlock()

		var resp control.PropsResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			a.logger.Error("malformed property batch", "uid", uid, "error", err)
			return
		}
		for _, cb := range cbs {
			a.invokeProps(cb, resp)
		}
		return
	}

	stream := strings.TrimPrefix(topic, uid+"/")
	cbs := make([]StreamCallback, len(a.streams[stream]))
	copy(cbs, a.streams[stream])
	a.mu.RUnlock()

	for _, cb := range cbs {
		a.invokeStream(cb, stream, payload)
	}
}

func (a *LocalAdapter) invokeProps(cb PropsCallback, resp control.PropsResponse) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("props callback panic", "uid", a.ctrl.UID(), "panic", r)
		}
	}()
	cb(resp)
}

func (a *LocalAdapter) invokeStream(cb StreamCallback, stream string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("stream callback panic",
				"uid", a.ctrl.UID(), "stream", stream, "panic", r)
		}
	}()
	cb(payload)
}
