package capability

// Interface is a serializable snapshot of a device's declared commands and
// properties. It carries no behaviour: a remote caller uses it to discover
// what a device can do without compile-time knowledge of the device type.
type Interface struct {
	UID        string                  `json:"uid"`
	Properties map[string]PropertyInfo `json:"properties"`
	Commands   map[string]CommandInfo  `json:"commands"`
}

// PropertyInfo describes one property in an Interface snapshot.
type PropertyInfo struct {
	Label       string   `json:"label,omitempty"`
	Description string   `json:"description,omitempty"`
	Units       string   `json:"units,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Step        *float64 `json:"step,omitempty"`
	ReadOnly    bool     `json:"read_only,omitempty"`
	Streamable  bool     `json:"streamable,omitempty"`
}

// CommandInfo describes one command in an Interface snapshot.
type CommandInfo struct {
	Label       string      `json:"label,omitempty"`
	Description string      `json:"description,omitempty"`
	Params      []ParamSpec `json:"params,omitempty"`
}

// Snapshot builds the serializable Interface for a device descriptor.
func Snapshot(uid string, d *Descriptor) Interface {
	iface := Interface{
		UID:        uid,
		Properties: make(map[string]PropertyInfo, len(d.Properties)),
		Commands:   make(map[string]CommandInfo, len(d.Commands)),
	}

	for name, p := range d.Properties {
		iface.Properties[name] = PropertyInfo{
			Label:       p.Label,
			Description: p.Description,
			Units:       p.Units,
			Min:         p.Min,
			Max:         p.Max,
			Step:        p.Step,
			ReadOnly:    !p.Writable(),
			Streamable:  p.Streamable,
		}
	}

	for name, c := range d.Commands {
		iface.Commands[name] = CommandInfo{
			Label:       c.Label,
			Description: c.Description,
			Params:      c.Params,
		}
	}

	return iface
}
