package capability

import (
	"context"
	"sort"
)

// Device is the contract every device implementation exposes.
//
// A device declares its capabilities through a static Descriptor; it never
// deals with transports, serialization, or remote callers.
type Device interface {
	// UID returns the unique identifier assigned at construction.
	UID() string

	// Descriptor returns the device's static capability tables.
	// The returned descriptor must not change after construction.
	Descriptor() *Descriptor
}

// Starter is implemented by devices that need explicit startup
// (opening a shutter, homing a stage, arming a sensor).
type Starter interface {
	Start(ctx context.Context) error
}

// Closer is implemented by devices that hold releasable resources.
type Closer interface {
	Close() error
}

// StreamEmitter pushes one frame of a named byte-stream to subscribers.
// The payload is opaque to the fabric; only the device and its consumers
// agree on its encoding.
type StreamEmitter func(stream string, data []byte)

// StreamSource is implemented by devices that produce continuous named
// byte-streams (e.g. sensor frames). The controller installs the emitter
// after construction; until then the device must drop frames silently.
type StreamSource interface {
	SetEmitter(emit StreamEmitter)
}

// Descriptor holds a device's static capability tables.
type Descriptor struct {
	Properties map[string]*Property
	Commands   map[string]*Command
}

// NewDescriptor returns an empty Descriptor ready for registration.
func NewDescriptor() *Descriptor {
	return &Descriptor{
		Properties: make(map[string]*Property),
		Commands:   make(map[string]*Command),
	}
}

// AddProperty registers a property under the given name.
func (d *Descriptor) AddProperty(name string, p *Property) *Descriptor {
	d.Properties[name] = p
	return d
}

// AddCommand registers a command under the given name.
func (d *Descriptor) AddCommand(name string, c *Command) *Descriptor {
	d.Commands[name] = c
	return d
}

// PropertyNames returns the sorted names of all declared properties.
func (d *Descriptor) PropertyNames() []string {
	names := make([]string, 0, len(d.Properties))
	for name := range d.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Property describes one readable (and optionally writable) device property.
type Property struct {
	Label       string
	Description string
	Units       string

	// Min, Max and Step are optional numeric constraints. Min and Max are
	// enforced on writes; Step is advisory metadata for callers.
	Min  *float64
	Max  *float64
	Step *float64

	// Streamable marks properties whose values are also published as a
	// continuous byte-stream under {uid}/{name}.
	Streamable bool

	// Get reads the current value. Required.
	Get func() (any, error)

	// Set writes a new value. Nil for read-only properties.
	Set func(value any) error
}

// Writable reports whether the property accepts writes.
func (p *Property) Writable() bool {
	return p.Set != nil
}

// Command describes one named device operation.
type Command struct {
	Label       string
	Description string

	// Params is the declared parameter schema, validated before Run is
	// invoked. Positional args bind to Params in order; kwargs by name.
	Params []ParamSpec

	// Run executes the command. It is only called after validation passed.
	Run func(args []any, kwargs map[string]any) (any, error)
}

// ParamType constrains the accepted value kind of a command parameter.
type ParamType string

// Parameter types.
const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "bool"
	ParamAny    ParamType = "any"
)

// ParamSpec declares one command parameter.
type ParamSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`
}

// Float returns a pointer to v, for concise constraint literals.
func Float(v float64) *float64 {
	return &v
}
