package telemetry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/control"
	"github.com/openrig/rigcore/internal/fabric"
	"github.com/openrig/rigcore/internal/handle"
	"github.com/openrig/rigcore/internal/infrastructure/config"
)

// fakeWriter records written points.
type fakeWriter struct {
	mu     sync.Mutex
	points []point
}

type point struct {
	uid      string
	property string
	value    float64
}

func (w *fakeWriter) WriteProperty(uid, property string, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, point{uid, property, value})
}

// mixedDevice has one numeric and one string property, both writable.
type mixedDevice struct {
	uid   string
	desc  *capability.Descriptor
	level float64
	label string
}

func newMixedDevice(uid string) *mixedDevice {
	d := &mixedDevice{uid: uid, label: "idle"}
	d.desc = capability.NewDescriptor()
	d.desc.AddProperty("level", &capability.Property{
		Get: func() (any, error) { return d.level, nil },
		Set: func(v any) error {
			f, ok := capability.AsFloat(v)
			if !ok {
				return fmt.Errorf("level must be numeric")
			}
			d.level = f
			return nil
		},
	})
	d.desc.AddProperty("label", &capability.Property{
		Get: func() (any, error) { return d.label, nil },
		Set: func(v any) error {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("label must be a string")
			}
			d.label = s
			return nil
		},
	})
	return d
}

func (d *mixedDevice) UID() string                        { return d.uid }
func (d *mixedDevice) Descriptor() *capability.Descriptor { return d.desc }

func TestSinkRecordsNumericProperties(t *testing.T) {
	writer := &fakeWriter{}
	sink := newSink(writer, nil)

	h := handle.New(fabric.NewLocalAdapter(control.New(newMixedDevice("daq0"))))
	if err := sink.Attach(map[string]*handle.Handle{"daq0": h}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := h.Set("level", 3.25); err != nil {
		t.Fatalf("Set: %v", err)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.points) != 1 {
		t.Fatalf("points = %d, want 1", len(writer.points))
	}
	p := writer.points[0]
	if p.uid != "daq0" || p.property != "level" || p.value != 3.25 {
		t.Errorf("point = %+v", p)
	}
}

func TestSinkSkipsNonNumeric(t *testing.T) {
	writer := &fakeWriter{}
	sink := newSink(writer, nil)

	h := handle.New(fabric.NewLocalAdapter(control.New(newMixedDevice("daq0"))))
	if err := sink.Attach(map[string]*handle.Handle{"daq0": h}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := h.Set("label", "acquiring"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.points) != 0 {
		t.Errorf("points = %v, want none for a string property", writer.points)
	}
}

func TestConnectDisabled(t *testing.T) {
	// Check the sentinel; never dials anything.
	if _, err := Connect(config.TelemetryConfig{Enabled: false}); err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}
