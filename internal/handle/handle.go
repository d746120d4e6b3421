// Package handle gives callers one call shape over a device, local or
// remote. A Handle pairs a device uid with the fabric.Adapter that reaches
// it; every operation is a thin translation onto the adapter, so code
// written against a Handle never knows where the device lives.
package handle

import (
	"context"
	"errors"
	"fmt"

	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/control"
	"github.com/openrig/rigcore/internal/fabric"
)

// ErrOperationFailed is returned when the device reported a failure for an
// otherwise-delivered operation. The wrapped message carries the device's
// own error text.
var ErrOperationFailed = errors.New("handle: operation failed")

// Handle addresses one device through an adapter.
//
// Thread Safety:
//   - All methods are safe for concurrent use; concurrency limits come
//     from the underlying adapter.
type Handle struct {
	uid     string
	adapter fabric.Adapter
}

// New wraps an adapter in a Handle.
func New(adapter fabric.Adapter) *Handle {
	return &Handle{uid: adapter.UID(), adapter: adapter}
}

// UID returns the device identifier.
func (h *Handle) UID() string {
	return h.uid
}

// Adapter exposes the underlying adapter, for callers that need the
// adapter-level reply types.
func (h *Handle) Adapter() fabric.Adapter {
	return h.adapter
}

// Get reads one property value.
func (h *Handle) Get(name string) (any, error) {
	resp, err := h.adapter.GetProps(name)
	if err != nil {
		return nil, fmt.Errorf("%s: get %q: %w", h.uid, name, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %s: get %q: %s", ErrOperationFailed, h.uid, name, resp.Error)
	}
	return resp.Props[name], nil
}

// Set writes one property value.
func (h *Handle) Set(name string, value any) error {
	resp, err := h.adapter.SetProps(map[string]any{name: value})
	if err != nil {
		return fmt.Errorf("%s: set %q: %w", h.uid, name, err)
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %s: set %q: %s", ErrOperationFailed, h.uid, name, resp.Error)
	}
	return nil
}

// Props reads the named properties; no names means all.
func (h *Handle) Props(names ...string) (map[string]any, error) {
	resp, err := h.adapter.GetProps(names...)
	if err != nil {
		return nil, fmt.Errorf("%s: props: %w", h.uid, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %s: props: %s", ErrOperationFailed, h.uid, resp.Error)
	}
	return resp.Props, nil
}

// SetProps writes a batch of property values atomically.
func (h *Handle) SetProps(kv map[string]any) error {
	resp, err := h.adapter.SetProps(kv)
	if err != nil {
		return fmt.Errorf("%s: set props: %w", h.uid, err)
	}
	if !resp.OK() {
		return fmt.Errorf("%w: %s: set props: %s", ErrOperationFailed, h.uid, resp.Error)
	}
	return nil
}

// Call invokes a named command with positional arguments.
func (h *Handle) Call(cmd string, args ...any) (any, error) {
	return h.CallKw(cmd, args, nil)
}

// CallKw invokes a named command with positional and keyword arguments.
func (h *Handle) CallKw(cmd string, args []any, kwargs map[string]any) (any, error) {
	resp, err := h.adapter.RunCommand(cmd, args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("%s: call %q: %w", h.uid, cmd, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: %s: call %q: %s", ErrOperationFailed, h.uid, cmd, resp.Error)
	}
	return resp.Value, nil
}

// Interface fetches the device's capability snapshot.
func (h *Handle) Interface() (capability.Interface, error) {
	iface, err := h.adapter.Interface()
	if err != nil {
		return capability.Interface{}, fmt.Errorf("%s: interface: %w", h.uid, err)
	}
	return iface, nil
}

// OnPropsChanged registers a callback receiving each property-change
// batch as a plain map. Failed batches are skipped.
func (h *Handle) OnPropsChanged(cb func(props map[string]any)) error {
	return h.adapter.OnPropsChanged(func(resp control.PropsResponse) {
		if !resp.OK() {
			return
		}
		cb(resp.Props)
	})
}

// Subscribe registers a callback for a named byte-stream.
func (h *Handle) Subscribe(stream string, cb func(payload []byte)) error {
	return h.adapter.Subscribe(stream, cb)
}

// Unsubscribe removes all callbacks for a named byte-stream.
func (h *Handle) Unsubscribe(stream string) error {
	return h.adapter.Unsubscribe(stream)
}

// Start runs the device's startup routine if it declares one. Only a
// locally adapted device can be started through its handle; remote devices
// are started by the node hosting them, so Start is a no-op there.
func (h *Handle) Start(ctx context.Context) error {
	local, ok := h.adapter.(*fabric.LocalAdapter)
	if !ok {
		return nil
	}
	starter, ok := local.Device().(capability.Starter)
	if !ok {
		return nil
	}
	if err := starter.Start(ctx); err != nil {
		return fmt.Errorf("%s: start: %w", h.uid, err)
	}
	return nil
}

// Close releases the adapter and, for a locally adapted device, the device
// itself.
func (h *Handle) Close() error {
	err := h.adapter.Close()

	if local, ok := h.adapter.(*fabric.LocalAdapter); ok {
		if closer, ok := local.Device().(capability.Closer); ok {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("%s: close device: %w", h.uid, cerr)
			}
		}
	}
	return err
}
