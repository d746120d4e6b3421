package control

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/openrig/rigcore/internal/capability"
)

// testDevice is a hand-built device with one writable clamped property, one
// read-only property, and two commands (one well-behaved, one that panics).
type testDevice struct {
	uid   string
	desc  *capability.Descriptor
	emit  capability.StreamEmitter
	level float64
	moves int
}

func newTestDevice(uid string) *testDevice {
	d := &testDevice{uid: uid}
	d.desc = capability.NewDescriptor()

	d.desc.AddProperty("level", &capability.Property{
		Min: capability.Float(0),
		Max: capability.Float(100),
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
	d.desc.AddProperty("serial", &capability.Property{
		Get: func() (any, error) { return "SN-001", nil },
	})

	d.desc.AddCommand("move", &capability.Command{
		Params: []capability.ParamSpec{
			{Name: "distance", Type: capability.ParamNumber, Required: true},
		},
		Run: func(args []any, kwargs map[string]any) (any, error) {
			distance, _ := capability.AsFloat(args[0])
			d.moves++
			return distance, nil
		},
	})
	d.desc.AddCommand("selfdestruct", &capability.Command{
		Run: func(args []any, kwargs map[string]any) (any, error) {
			panic("boom")
		},
	})

	return d
}

func (d *testDevice) UID() string                          { return d.uid }
func (d *testDevice) Descriptor() *capability.Descriptor   { return d.desc }
func (d *testDevice) SetEmitter(emit capability.StreamEmitter) { d.emit = emit }

// capturePublisher records every publish call in order.
type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
}

func (p *capturePublisher) publish(topic string, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, payload)
}

func TestRunCommand(t *testing.T) {
	c := New(newTestDevice("stage0"))

	resp := c.RunCommand("move", []any{5.0}, nil)
	if !resp.OK() {
		t.Fatalf("move failed: %s", resp.Error)
	}
	if resp.Value != 5.0 {
		t.Errorf("value = %v, want 5", resp.Value)
	}
}

func TestRunCommandKeywordBinding(t *testing.T) {
	dev := newTestDevice("stage0")
	c := New(dev)

	// A keyword-only call reaches the handler in positional form.
	resp := c.RunCommand("move", nil, map[string]any{"distance": 5.0})
	if !resp.OK() {
		t.Fatalf("keyword move failed: %s", resp.Error)
	}
	if resp.Value != 5.0 {
		t.Errorf("value = %v, want 5", resp.Value)
	}
	if dev.moves != 1 {
		t.Errorf("moves = %d, want 1", dev.moves)
	}
}

func TestRunCommandUnknown(t *testing.T) {
	c := New(newTestDevice("stage0"))

	resp := c.RunCommand("warp", nil, nil)
	if resp.OK() {
		t.Fatal("unknown command reported ok")
	}
	if !strings.Contains(resp.Error, "warp") {
		t.Errorf("error %q does not name the command", resp.Error)
	}
}

func TestRunCommandInvalidParamsFailClosed(t *testing.T) {
	dev := newTestDevice("stage0")
	c := New(dev)

	// Missing the required distance arg: handler must not run.
	resp := c.RunCommand("move", nil, nil)
	if resp.OK() {
		t.Fatal("invalid call reported ok")
	}
	if dev.moves != 0 {
		t.Errorf("handler ran %d times despite invalid params", dev.moves)
	}

	// Wrong type for a number param.
	resp = c.RunCommand("move", []any{"far"}, nil)
	if resp.OK() {
		t.Fatal("type-mismatched call reported ok")
	}
	if dev.moves != 0 {
		t.Errorf("handler ran despite type mismatch")
	}
}

func TestRunCommandPanicRecovered(t *testing.T) {
	c := New(newTestDevice("stage0"))

	resp := c.RunCommand("selfdestruct", nil, nil)
	if resp.OK() {
		t.Fatal("panicking command reported ok")
	}
	if !strings.Contains(resp.Error, "boom") {
		t.Errorf("error %q lost the panic value", resp.Error)
	}
}

func TestGetPropsAll(t *testing.T) {
	c := New(newTestDevice("stage0"))

	resp := c.GetProps(nil)
	if !resp.OK() {
		t.Fatalf("get failed: %s", resp.Error)
	}
	if len(resp.Props) != 2 {
		t.Fatalf("props = %v, want level and serial", resp.Props)
	}
	if resp.Props["serial"] != "SN-001" {
		t.Errorf("serial = %v", resp.Props["serial"])
	}
}

func TestGetPropsUnknown(t *testing.T) {
	c := New(newTestDevice("stage0"))

	resp := c.GetProps([]string{"level", "ghost"})
	if resp.OK() {
		t.Fatal("unknown property reported ok")
	}
}

func TestSetPropsPublishesBatch(t *testing.T) {
	pub := &capturePublisher{}
	c := New(newTestDevice("stage0"))
	c.SetPublisher(pub.publish)

	resp := c.SetProps(map[string]any{"level": 40})
	if !resp.OK() {
		t.Fatalf("set failed: %s", resp.Error)
	}

	if len(pub.topics) != 1 || pub.topics[0] != "stage0/properties" {
		t.Fatalf("topics = %v, want one stage0/properties", pub.topics)
	}

	var batch PropsResponse
	if err := json.Unmarshal(pub.bodies[0], &batch); err != nil {
		t.Fatalf("decoding batch: %v", err)
	}
	if !batch.OK() {
		t.Fatalf("published batch has status %s", batch.Status)
	}
	if got, ok := batch.Props["level"].(float64); !ok || got != 40 {
		t.Errorf("published level = %v, want 40", batch.Props["level"])
	}
}

func TestSetPropsFailClosed(t *testing.T) {
	pub := &capturePublisher{}
	dev := newTestDevice("stage0")
	c := New(dev)
	c.SetPublisher(pub.publish)

	// The batch includes one valid write and one out-of-range write: nothing
	// is applied and nothing is published.
	resp := c.SetProps(map[string]any{"level": 900})
	if resp.OK() {
		t.Fatal("out-of-range write reported ok")
	}
	if dev.level != 0 {
		t.Errorf("level = %v, want untouched 0", dev.level)
	}

	resp = c.SetProps(map[string]any{"level": 10, "serial": "SN-999"})
	if resp.OK() {
		t.Fatal("read-only write reported ok")
	}
	if dev.level != 0 {
		t.Errorf("level = %v after mixed invalid batch, want 0", dev.level)
	}

	resp = c.SetProps(map[string]any{"level": 10, "ghost": 1})
	if resp.OK() {
		t.Fatal("unknown property write reported ok")
	}
	if dev.level != 0 {
		t.Errorf("level = %v after unknown-property batch, want 0", dev.level)
	}

	if len(pub.topics) != 0 {
		t.Errorf("published %v despite failed writes", pub.topics)
	}
}

func TestSetPropsWithoutPublisher(t *testing.T) {
	c := New(newTestDevice("stage0"))

	// No publisher installed: the write still succeeds.
	resp := c.SetProps(map[string]any{"level": 5})
	if !resp.OK() {
		t.Fatalf("set failed without publisher: %s", resp.Error)
	}
}

func TestStreamEmitterInstalled(t *testing.T) {
	pub := &capturePublisher{}
	dev := newTestDevice("cam0")
	c := New(dev)
	c.SetPublisher(pub.publish)

	if dev.emit == nil {
		t.Fatal("controller did not install the stream emitter")
	}

	dev.emit("frames", []byte{0xde, 0xad})
	if len(pub.topics) != 1 || pub.topics[0] != "cam0/frames" {
		t.Fatalf("topics = %v, want cam0/frames", pub.topics)
	}
	if string(pub.bodies[0]) != "\xde\xad" {
		t.Errorf("frame payload altered: %x", pub.bodies[0])
	}

	// Frames before a publisher exists are dropped, not a panic.
	c.SetPublisher(nil)
	dev.emit("frames", []byte{1})
	_ = c
}

func TestInterfaceSnapshot(t *testing.T) {
	c := New(newTestDevice("stage0"))

	iface := c.Interface()
	if iface.UID != "stage0" {
		t.Errorf("uid = %q", iface.UID)
	}
	if !iface.Properties["serial"].ReadOnly {
		t.Error("serial not marked read-only")
	}
	if len(iface.Commands["move"].Params) != 1 {
		t.Errorf("move params = %v", iface.Commands["move"].Params)
	}
}

func TestValidate(t *testing.T) {
	if err := New(newTestDevice("stage0")).Validate(); err != nil {
		t.Fatalf("valid device rejected: %v", err)
	}

	bad := newTestDevice("")
	if err := New(bad).Validate(); err == nil {
		t.Error("empty uid accepted")
	}
}
