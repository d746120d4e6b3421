// Package capability defines the contract a device implementation exposes to
// Rig Core: introspectable properties (with optional numeric constraints) and
// commands (with validated parameters).
//
// A device describes itself through a static Descriptor built once at
// construction time: property name → (getter, setter, constraints) and
// command name → (parameter schema, handler). No runtime reflection is used.
//
// The Interface type is a pure, serializable snapshot of a Descriptor, used
// so a remote caller can discover capabilities without compile-time knowledge
// of the device type.
//
// # Key Types
//
//   - Device: the minimal contract every device implements
//   - Descriptor: static property/command tables
//   - Interface: wire-serializable capability snapshot
//
// # Usage
//
//	desc := capability.NewDescriptor()
//	desc.AddProperty("power_mw", &capability.Property{
//	    Label: "Power",
//	    Units: "mW",
//	    Min:   capability.Float(0),
//	    Max:   capability.Float(250),
//	    Get:   func() (any, error) { return laser.power, nil },
//	    Set:   func(v any) error { return laser.setPower(v) },
//	})
package capability
