package sim

import "github.com/openrig/rigcore/internal/build"

// Register adds all simulated device factories to the registry.
func Register(reg *build.Registry) error {
	for target, factory := range map[string]build.Factory{
		"sim.sensor": NewSensor,
		"sim.stage":  NewStage,
		"sim.laser":  NewLaser,
	} {
		if err := reg.Register(target, factory); err != nil {
			return err
		}
	}
	return nil
}
