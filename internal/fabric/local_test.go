package fabric

import (
	"errors"
	"sync"
	"testing"

	"github.com/openrig/rigcore/internal/control"
)

func TestLocalAdapterCallThrough(t *testing.T) {
	dev := newEchoDevice("laser0")
	a := NewLocalAdapter(control.New(dev))

	resp, err := a.RunCommand("pulse", []any{3.0}, nil)
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("pulse failed: %s", resp.Error)
	}

	props, err := a.GetProps()
	if err != nil {
		t.Fatalf("GetProps: %v", err)
	}
	if !props.OK() {
		t.Fatalf("get failed: %s", props.Error)
	}
	if props.Props["power"] != 0.0 {
		t.Errorf("power = %v, want 0", props.Props["power"])
	}

	iface, err := a.Interface()
	if err != nil {
		t.Fatalf("Interface: %v", err)
	}
	if iface.UID != "laser0" {
		t.Errorf("uid = %q", iface.UID)
	}
}

func TestLocalAdapterDevice(t *testing.T) {
	dev := newEchoDevice("laser0")
	a := NewLocalAdapter(control.New(dev))

	if a.Device() != dev {
		t.Error("Device() is not the wrapped instance")
	}
}

func TestLocalAdapterPropsCallback(t *testing.T) {
	a := NewLocalAdapter(control.New(newEchoDevice("laser0")))

	var mu sync.Mutex
	var got []control.PropsResponse
	if err := a.OnPropsChanged(func(resp control.PropsResponse) {
		mu.Lock()
		got = append(got, resp)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("OnPropsChanged: %v", err)
	}

	if _, err := a.SetProps(map[string]any{"power": 7}); err != nil {
		t.Fatalf("SetProps: %v", err)
	}

	// Local dispatch is synchronous.
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("callbacks fired %d times, want 1", len(got))
	}
	if got[0].Props["power"] != 7.0 {
		t.Errorf("batch power = %v, want 7", got[0].Props["power"])
	}
}

func TestLocalAdapterPanickingCallbackIsolated(t *testing.T) {
	a := NewLocalAdapter(control.New(newEchoDevice("laser0")))

	var fired bool
	if err := a.OnPropsChanged(func(control.PropsResponse) {
		panic("bad callback")
	}); err != nil {
		t.Fatalf("OnPropsChanged: %v", err)
	}
	if err := a.OnPropsChanged(func(control.PropsResponse) {
		fired = true
	}); err != nil {
		t.Fatalf("OnPropsChanged: %v", err)
	}

	if _, err := a.SetProps(map[string]any{"power": 1}); err != nil {
		t.Fatalf("SetProps: %v", err)
	}
	if !fired {
		t.Error("second callback did not fire after first panicked")
	}
}

func TestLocalAdapterStreamSubscribe(t *testing.T) {
	dev := newEchoDevice("cam0")
	a := NewLocalAdapter(control.New(dev))

	var frames [][]byte
	if err := a.Subscribe("frames", func(payload []byte) {
		frames = append(frames, payload)
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	dev.emit("frames", []byte{1, 2, 3})
	if len(frames) != 1 || string(frames[0]) != "\x01\x02\x03" {
		t.Fatalf("frames = %v", frames)
	}

	if err := a.Unsubscribe("frames"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	dev.emit("frames", []byte{4})
	if len(frames) != 1 {
		t.Errorf("frame delivered after unsubscribe")
	}
}

func TestLocalAdapterClose(t *testing.T) {
	dev := newEchoDevice("laser0")
	a := NewLocalAdapter(control.New(dev))

	var fired bool
	if err := a.OnPropsChanged(func(control.PropsResponse) { fired = true }); err != nil {
		t.Fatalf("OnPropsChanged: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := a.GetProps(); !errors.Is(err, ErrClosed) {
		t.Errorf("GetProps after close: %v, want ErrClosed", err)
	}
	if err := a.OnPropsChanged(func(control.PropsResponse) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("OnPropsChanged after close: %v, want ErrClosed", err)
	}

	// The device can still be driven directly; the closed adapter must not
	// observe it.
	dev.power = 3
	if fired {
		t.Error("callback fired after close")
	}
}
