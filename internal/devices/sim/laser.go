package sim

import (
	"fmt"
	"sync"

	"github.com/openrig/rigcore/internal/capability"
)

// maxLaserPower is the simulated power ceiling in mW.
const maxLaserPower = 500

// Laser is a simulated laser source with an emission gate and a power
// setpoint. Power can only be raised while emission is off, mirroring how
// interlocked sources usually behave.
type Laser struct {
	uid  string
	desc *capability.Descriptor

	mu       sync.Mutex
	power    float64
	emitting bool
	pulses   int
}

// NewLaser builds a Laser. Init key: "power" (mW, default 0).
func NewLaser(init map[string]any) (capability.Device, error) {
	l := &Laser{}
	l.uid, _ = init["uid"].(string)

	if v, ok := init["power"]; ok {
		f, ok := capability.AsFloat(v)
		if !ok || f < 0 || f > maxLaserPower {
			return nil, fmt.Errorf("laser power %v out of range [0, %d]", v, maxLaserPower)
		}
		l.power = f
	}

	l.desc = capability.NewDescriptor()
	l.desc.AddProperty("power", &capability.Property{
		Label: "Power setpoint",
		Units: "mW",
		Min:   capability.Float(0),
		Max:   capability.Float(maxLaserPower),
		Step:  capability.Float(0.5),
		Get: func() (any, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			return l.power, nil
		},
		Set: func(v any) error {
			f, ok := capability.AsFloat(v)
			if !ok {
				return fmt.Errorf("power must be numeric")
			}
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.emitting && f > l.power {
				return fmt.Errorf("cannot raise power while emitting")
			}
			l.power = f
			return nil
		},
	})
	l.desc.AddProperty("emission", &capability.Property{
		Label: "Emission",
		Get: func() (any, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			return l.emitting, nil
		},
	})

	l.desc.AddCommand("on", &capability.Command{
		Label: "Enable emission",
		Run: func(args []any, kwargs map[string]any) (any, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.emitting = true
			return true, nil
		},
	})
	l.desc.AddCommand("off", &capability.Command{
		Label: "Disable emission",
		Run: func(args []any, kwargs map[string]any) (any, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.emitting = false
			return false, nil
		},
	})
	l.desc.AddCommand("pulse", &capability.Command{
		Label: "Fire one pulse",
		Params: []capability.ParamSpec{
			{Name: "width_us", Type: capability.ParamNumber, Required: false, Default: 100},
		},
		Run: func(args []any, kwargs map[string]any) (any, error) {
			width, _ := capability.AsFloat(kwargs["width_us"])
			l.mu.Lock()
			defer l.mu.Unlock()
			if !l.emitting {
				return nil, fmt.Errorf("emission is off")
			}
			l.pulses++
			return map[string]any{"count": l.pulses, "width_us": width}, nil
		},
	})

	return l, nil
}

// UID returns the device identifier.
func (l *Laser) UID() string { return l.uid }

// Descriptor returns the capability tables.
func (l *Laser) Descriptor() *capability.Descriptor { return l.desc }
