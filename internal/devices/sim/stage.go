package sim

import (
	"fmt"
	"sync"

	"github.com/openrig/rigcore/internal/capability"
)

// defaultTravel is the stage travel range in mm when none is configured.
const defaultTravel = 100

// Stage is a simulated single-axis motion stage. Moves complete
// instantly; the point is the capability surface, not the physics.
type Stage struct {
	uid  string
	desc *capability.Descriptor

	mu       sync.Mutex
	position float64
	velocity float64
	travel   float64

	// mount is an optional device this stage is mounted on, wired in
	// through a build reference.
	mount capability.Device
}

// NewStage builds a Stage. Init keys: "travel" (mm, symmetric range,
// default 100), "mount" (optional device reference).
func NewStage(init map[string]any) (capability.Device, error) {
	s := &Stage{
		travel:   defaultTravel,
		velocity: 5,
	}
	s.uid, _ = init["uid"].(string)

	if v, ok := init["travel"]; ok {
		f, ok := capability.AsFloat(v)
		if !ok || f <= 0 {
			return nil, fmt.Errorf("stage travel %v must be a positive number", v)
		}
		s.travel = f
	}
	if v, ok := init["mount"]; ok {
		dev, ok := v.(capability.Device)
		if !ok {
			return nil, fmt.Errorf("stage mount is %T, want a device reference", v)
		}
		s.mount = dev
	}

	s.desc = capability.NewDescriptor()
	s.desc.AddProperty("position", &capability.Property{
		Label: "Position",
		Units: "mm",
		Min:   capability.Float(-s.travel),
		Max:   capability.Float(s.travel),
		Get: func() (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.position, nil
		},
		Set: func(v any) error {
			f, ok := capability.AsFloat(v)
			if !ok {
				return fmt.Errorf("position must be numeric")
			}
			s.mu.Lock()
			s.position = f
			s.mu.Unlock()
			return nil
		},
	})
	s.desc.AddProperty("velocity", &capability.Property{
		Label: "Velocity",
		Units: "mm/s",
		Min:   capability.Float(0.1),
		Max:   capability.Float(50),
		Get: func() (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.velocity, nil
		},
		Set: func(v any) error {
			f, ok := capability.AsFloat(v)
			if !ok {
				return fmt.Errorf("velocity must be numeric")
			}
			s.mu.Lock()
			s.velocity = f
			s.mu.Unlock()
			return nil
		},
	})
	s.desc.AddProperty("mount", &capability.Property{
		Label: "Mounted on",
		Get: func() (any, error) {
			if s.mount == nil {
				return "", nil
			}
			return s.mount.UID(), nil
		},
	})

	s.desc.AddCommand("home", &capability.Command{
		Label: "Home",
		Run: func(args []any, kwargs map[string]any) (any, error) {
			s.mu.Lock()
			s.position = 0
			s.mu.Unlock()
			return 0.0, nil
		},
	})
	s.desc.AddCommand("move_by", &capability.Command{
		Label: "Relative move",
		Params: []capability.ParamSpec{
			{Name: "distance", Type: capability.ParamNumber, Required: true},
		},
		Run: func(args []any, kwargs map[string]any) (any, error) {
			distance, _ := capability.AsFloat(args[0])
			s.mu.Lock()
			defer s.mu.Unlock()
			target := s.position + distance
			if target < -s.travel || target > s.travel {
				return nil, fmt.Errorf("target %.2f outside travel range ±%.0f", target, s.travel)
			}
			s.position = target
			return s.position, nil
		},
	})

	return s, nil
}

// UID returns the device identifier.
func (s *Stage) UID() string { return s.uid }

// Descriptor returns the capability tables.
func (s *Stage) Descriptor() *capability.Descriptor { return s.desc }
