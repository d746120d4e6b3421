package control

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openrig/rigcore/internal/capability"
)

// PublishFunc delivers one topic/payload pair to subscribers. Delivery is
// best-effort; the controller never blocks on it.
type PublishFunc func(topic string, payload []byte)

// Logger defines the logging interface used by the Controller.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Controller executes commands and property access against one concrete
// device and publishes change notifications.
//
// Thread Safety:
//   - All methods are safe for concurrent use; property writes are
//     serialized per controller.
type Controller struct {
	device capability.Device
	desc   *capability.Descriptor

	publish   PublishFunc
	publishMu sync.RWMutex

	// setMu serializes SetProps so a change batch is published atomically.
	setMu sync.Mutex

	logger Logger
}

// New creates a Controller for the given device.
func New(device capability.Device) *Controller {
	c := &Controller{
		device: device,
		desc:   device.Descriptor(),
		logger: noopLogger{},
	}

	// Devices that produce byte-streams push them through the controller's
	// publish path.
	if src, ok := device.(capability.StreamSource); ok {
		src.SetEmitter(c.EmitStream)
	}

	return c
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
}

// SetPublisher installs the publish callback used for property-change
// batches and byte-streams. A nil publisher silently drops notifications.
func (c *Controller) SetPublisher(publish PublishFunc) {
	c.publishMu.Lock()
	c.publish = publish
	c.publishMu.Unlock()
}

// UID returns the wrapped device's identifier.
func (c *Controller) UID() string {
	return c.device.UID()
}

// Device returns the wrapped device.
func (c *Controller) Device() capability.Device {
	return c.device
}

// Interface returns the serializable capability snapshot of the device.
func (c *Controller) Interface() capability.Interface {
	return capability.Snapshot(c.device.UID(), c.desc)
}

// RunCommand validates, binds and executes a named command.
//
// Invalid parameters fail closed with an error reply before any device code
// runs. The handler receives the canonical bound forms — one positional slot
// per declared parameter and every bound parameter by name, with defaults
// applied — regardless of how the caller passed the values. A panic inside
// the command handler is captured into an error reply rather than crashing
// the hosting service.
func (c *Controller) RunCommand(name string, args []any, kwargs map[string]any) (resp CommandResponse) {
	cmd, ok := c.desc.Commands[name]
	if !ok {
		return CommandError("%s: unknown command %q", c.device.UID(), name)
	}

	boundArgs, boundKwargs, err := capability.BindCall(cmd, args, kwargs)
	if err != nil {
		return CommandError("%s: %v", c.device.UID(), err)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("command handler panic",
				"uid", c.device.UID(), "command", name, "panic", r)
			resp = CommandError("%s: command %q panicked: %v", c.device.UID(), name, r)
		}
	}()

	value, err := cmd.Run(boundArgs, boundKwargs)
	if err != nil {
		return CommandError("%s: command %q: %v", c.device.UID(), name, err)
	}

	return CommandOK(value)
}

// GetProps reads the named properties. An empty name list reads every
// declared property.
func (c *Controller) GetProps(names []string) PropsResponse {
	if len(names) == 0 {
		names = c.desc.PropertyNames()
	}

	props := make(map[string]any, len(names))
	for _, name := range names {
		prop, ok := c.desc.Properties[name]
		if !ok {
			return PropsError("%s: unknown property %q", c.device.UID(), name)
		}
		value, err := prop.Get()
		if err != nil {
			return PropsError("%s: reading %q: %v", c.device.UID(), name, err)
		}
		props[name] = value
	}

	return PropsOK(props)
}

// SetProps writes a batch of property values.
//
// The whole batch is validated before any write is applied, so an invalid
// batch has no partial side effects. On success the written values are read
// back and published as one change batch on {uid}/properties.
func (c *Controller) SetProps(kv map[string]any) PropsResponse {
	c.setMu.Lock()
	defer c.setMu.Unlock()

	// Validate the whole batch first.
	for name, value := range kv {
		prop, ok := c.desc.Properties[name]
		if !ok {
			return PropsError("%s: unknown property %q", c.device.UID(), name)
		}
		if !prop.Writable() {
			return PropsError("%s: property %q is read-only", c.device.UID(), name)
		}
		if err := capability.CheckConstraint(prop, value); err != nil {
			return PropsError("%s: property %q: %v", c.device.UID(), name, err)
		}
	}

	// Apply.
	for name, value := range kv {
		if err := c.desc.Properties[name].Set(value); err != nil {
			return PropsError("%s: writing %q: %v", c.device.UID(), name, err)
		}
	}

	// Read back actual values for the change batch; a device may clamp or
	// quantize what was written.
	changed := make(map[string]any, len(kv))
	for name := range kv {
		value, err := c.desc.Properties[name].Get()
		if err != nil {
			c.logger.Warn("readback after write failed",
				"uid", c.device.UID(), "property", name, "error", err)
			value = kv[name]
		}
		changed[name] = value
	}

	c.publishProps(changed)
	return PropsOK(changed)
}

// EmitStream publishes one frame of a named byte-stream under
// {uid}/{stream}. The payload is delivered verbatim.
func (c *Controller) EmitStream(stream string, data []byte) {
	c.publishMu.RLock()
	publish := c.publish
	c.publishMu.RUnlock()

	if publish == nil {
		return
	}
	publish(StreamTopic(c.device.UID(), stream), data)
}

// publishProps emits one property-change batch.
func (c *Controller) publishProps(props map[string]any) {
	c.publishMu.RLock()
	publish := c.publish
	c.publishMu.RUnlock()

	if publish == nil {
		return
	}

	payload, err := json.Marshal(PropsOK(props))
	if err != nil {
		c.logger.Error("encoding property batch failed",
			"uid", c.device.UID(), "error", err)
		return
	}
	publish(PropsTopic(c.device.UID()), payload)
}

// Validate checks that the controller's device declares a usable descriptor.
func (c *Controller) Validate() error {
	if c.device.UID() == "" {
		return fmt.Errorf("control: device has empty uid")
	}
	if c.desc == nil {
		return fmt.Errorf("control: device %q has nil descriptor", c.device.UID())
	}
	for name, prop := range c.desc.Properties {
		if prop.Get == nil {
			return fmt.Errorf("control: device %q property %q has no getter", c.device.UID(), name)
		}
	}
	for name, cmd := range c.desc.Commands {
		if cmd.Run == nil {
			return fmt.Errorf("control: device %q command %q has no handler", c.device.UID(), name)
		}
	}
	return nil
}
