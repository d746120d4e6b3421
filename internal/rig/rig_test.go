package rig

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openrig/rigcore/internal/build"
	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/fabric"
	"github.com/openrig/rigcore/internal/infrastructure/config"
)

// benchDevice is a minimal device with one writable property and a
// lifecycle flag.
type benchDevice struct {
	uid     string
	desc    *capability.Descriptor
	value   float64
	started bool
	closed  bool
}

func newBenchDevice(init map[string]any) (capability.Device, error) {
	d := &benchDevice{}
	d.uid, _ = init["uid"].(string)
	d.desc = capability.NewDescriptor()
	d.desc.AddProperty("value", &capability.Property{
		Get: func() (any, error) { return d.value, nil },
		Set: func(v any) error {
			f, ok := capability.AsFloat(v)
			if !ok {
				return fmt.Errorf("value must be numeric")
			}
			d.value = f
			return nil
		},
	})
	return d, nil
}

func (d *benchDevice) UID() string                        { return d.uid }
func (d *benchDevice) Descriptor() *capability.Descriptor { return d.desc }
func (d *benchDevice) Start(context.Context) error        { d.started = true; return nil }
func (d *benchDevice) Close() error                       { d.closed = true; return nil }

func testRegistry(t *testing.T) *build.Registry {
	t.Helper()
	reg := build.NewRegistry()
	if err := reg.Register("test.bench", newBenchDevice); err != nil {
		t.Fatalf("registering bench: %v", err)
	}
	return reg
}

func localOnlyConfig() *config.Config {
	cfg := config.Default()
	cfg.Devices = map[string]config.DeviceSpec{
		"daq0": {Target: "test.bench"},
	}
	return cfg
}

func TestRigLocalOnly(t *testing.T) {
	r := New(localOnlyConfig(), testRegistry(t), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h, ok := r.Handle("daq0")
	if !ok {
		t.Fatal("no handle for local device")
	}
	if err := h.Set("value", 2.5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := h.Get("value")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 2.5 {
		t.Errorf("value = %v, want 2.5", got)
	}

	dev, ok := r.GetDevice("daq0")
	if !ok {
		t.Fatal("no concrete device for local build")
	}
	bench := dev.(*benchDevice)
	if !bench.started {
		t.Error("device Start not invoked")
	}

	r.Stop()
	if !bench.closed {
		t.Error("device Close not invoked on Stop")
	}
	if _, err := h.Get("value"); err == nil {
		t.Error("handle still usable after Stop")
	}
	if len(r.Handles()) != 0 {
		t.Error("handles remain after Stop")
	}
}

func TestRigBuildFailureNotFatal(t *testing.T) {
	cfg := config.Default()
	cfg.Devices = map[string]config.DeviceSpec{
		"good": {Target: "test.bench"},
		"bad":  {Target: "no.such.target"},
	}

	r := New(cfg, testRegistry(t), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if _, ok := r.Handle("good"); !ok {
		t.Error("good device missing despite unrelated failure")
	}
	if _, ok := r.Handle("bad"); ok {
		t.Error("handle exists for failed build")
	}
}

func TestRigDoubleStart(t *testing.T) {
	r := New(localOnlyConfig(), testRegistry(t), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if err := r.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestRigWithLocalNode(t *testing.T) {
	cfg := config.Default()
	cfg.Devices = map[string]config.DeviceSpec{
		"daq0":    {Target: "test.bench"},
		"sensor0": {Target: "test.bench"},
	}
	cfg.Nodes = []config.NodeConfig{{
		Name:        "bench",
		Hostname:    "localhost",
		ReqEndpoint: "127.0.0.1:0",
		PubEndpoint: "127.0.0.1:0",
		Devices:     []string{"sensor0"},
	}}

	r := New(cfg, testRegistry(t), nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// daq0 is purely local, sensor0 comes through the node; both answer
	// through the same handle shape.
	for _, uid := range []string{"daq0", "sensor0"} {
		h, ok := r.Handle(uid)
		if !ok {
			t.Fatalf("no handle for %q", uid)
		}
		if err := h.Set("value", 1); err != nil {
			t.Fatalf("Set on %q: %v", uid, err)
		}
	}

	// The node device was built in this process, so it has a concrete
	// instance too.
	if _, ok := r.GetDevice("sensor0"); !ok {
		t.Error("node-hosted local device has no concrete instance")
	}

	r.Stop()
	if h, _ := r.Handle("sensor0"); h != nil {
		t.Error("handle remains after Stop")
	}
}

func TestRigInjectedNetctxSurvivesStop(t *testing.T) {
	nctx := fabric.NewNetctx()
	t.Cleanup(func() { nctx.Terminate() })

	cfg := config.Default()
	cfg.Devices = map[string]config.DeviceSpec{
		"sensor0": {Target: "test.bench"},
	}
	cfg.Nodes = []config.NodeConfig{{
		Name:        "bench",
		Hostname:    "localhost",
		ReqEndpoint: "127.0.0.1:0",
		PubEndpoint: "127.0.0.1:0",
		Devices:     []string{"sensor0"},
	}}

	r := New(cfg, testRegistry(t), nil)
	r.SetNetctx(nctx)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()

	// The injected context is not owned by the rig; it must still work.
	svc := fabric.NewService(nctx, nil)
	if err := svc.Start("127.0.0.1:0", "127.0.0.1:0"); err != nil {
		t.Fatalf("injected netctx unusable after rig Stop: %v", err)
	}
	svc.Close()
}

func TestRigPostStartHook(t *testing.T) {
	r := New(localOnlyConfig(), testRegistry(t), nil)

	var sawHandles int
	r.OnStarted(func(ctx context.Context, r *Rig) error {
		sawHandles = len(r.Handles())
		return nil
	})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	if sawHandles != 1 {
		t.Errorf("hook saw %d handles, want 1", sawHandles)
	}
}

func TestRigPostStartHookErrorFailsStart(t *testing.T) {
	r := New(localOnlyConfig(), testRegistry(t), nil)

	hookErr := errors.New("calibration failed")
	r.OnStarted(func(context.Context, *Rig) error { return hookErr })

	if err := r.Start(context.Background()); !errors.Is(err, hookErr) {
		t.Fatalf("Start err = %v, want wrapped hook error", err)
	}
	r.Stop()
}
