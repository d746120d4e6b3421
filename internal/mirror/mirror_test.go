package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/control"
	"github.com/openrig/rigcore/internal/fabric"
	"github.com/openrig/rigcore/internal/handle"
	"github.com/openrig/rigcore/internal/infrastructure/config"
)

// fakeBroker records publishes; optionally fails them.
type fakeBroker struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	retained []bool
	fail     bool
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return ErrNotConnected
	}
	b.topics = append(b.topics, topic)
	b.payloads = append(b.payloads, payload)
	b.retained = append(b.retained, retained)
	return nil
}

// gaugeDevice is a single writable-property device.
type gaugeDevice struct {
	uid   string
	desc  *capability.Descriptor
	value float64
}

func newGaugeDevice(uid string) *gaugeDevice {
	d := &gaugeDevice{uid: uid}
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
	return d
}

func (d *gaugeDevice) UID() string                        { return d.uid }
func (d *gaugeDevice) Descriptor() *capability.Descriptor { return d.desc }

func newGaugeHandle(uid string) *handle.Handle {
	return handle.New(fabric.NewLocalAdapter(control.New(newGaugeDevice(uid))))
}

func TestTopics(t *testing.T) {
	if got := StateTopic("laser0"); got != "rigcore/state/laser0" {
		t.Errorf("StateTopic = %q", got)
	}
	if got := StatusTopic(); got != "rigcore/system/status" {
		t.Errorf("StatusTopic = %q", got)
	}
}

func TestMirrorPublishesInitialSnapshot(t *testing.T) {
	broker := &fakeBroker{}
	m := newMirror(broker, 1, nil)

	h := newGaugeHandle("gauge0")
	if err := m.Attach(map[string]*handle.Handle{"gauge0": h}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	if len(broker.topics) != 1 {
		t.Fatalf("publishes = %d, want the initial snapshot", len(broker.topics))
	}
	if broker.topics[0] != "rigcore/state/gauge0" {
		t.Errorf("topic = %q", broker.topics[0])
	}
	if !broker.retained[0] {
		t.Error("state not published retained")
	}
}

func TestMirrorForwardsChanges(t *testing.T) {
	broker := &fakeBroker{}
	m := newMirror(broker, 1, nil)

	h := newGaugeHandle("gauge0")
	if err := m.Attach(map[string]*handle.Handle{"gauge0": h}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if err := h.Set("value", 42); err != nil {
		t.Fatalf("Set: %v", err)
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	// Initial snapshot plus one change batch.
	if len(broker.topics) != 2 {
		t.Fatalf("publishes = %d, want 2", len(broker.topics))
	}

	var msg stateMessage
	if err := json.Unmarshal(broker.payloads[1], &msg); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if msg.UID != "gauge0" {
		t.Errorf("uid = %q", msg.UID)
	}
	if msg.Props["value"] != 42.0 {
		t.Errorf("value = %v, want 42", msg.Props["value"])
	}
	if msg.Timestamp == "" {
		t.Error("state has no timestamp")
	}
}

func TestMirrorBrokerFailureIsContained(t *testing.T) {
	broker := &fakeBroker{fail: true}
	m := newMirror(broker, 1, nil)

	h := newGaugeHandle("gauge0")
	if err := m.Attach(map[string]*handle.Handle{"gauge0": h}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	// The device write must succeed even though every publish fails.
	if err := h.Set("value", 7); err != nil {
		t.Fatalf("Set with failing broker: %v", err)
	}
	got, err := h.Get("value")
	if err != nil || got != 7.0 {
		t.Errorf("value = %v (%v), want 7", got, err)
	}
}

func TestClientPublishValidation(t *testing.T) {
	c := &Client{}

	if err := c.Publish("t", nil, 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3: %v, want ErrInvalidQoS", err)
	}
	if err := c.Publish("t", make([]byte, maxPayloadSize+1), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize payload: %v, want ErrPublishFailed", err)
	}
}

func TestStatusPayload(t *testing.T) {
	online := statusPayload("online", "rigcore", "")
	if !json.Valid([]byte(online)) {
		t.Fatalf("online payload is not valid JSON: %s", online)
	}
	if strings.Contains(online, "reason") {
		t.Error("online payload carries a reason")
	}

	offline := statusPayload("offline", "rigcore", "unexpected_disconnect")
	if !json.Valid([]byte(offline)) {
		t.Fatalf("offline payload is not valid JSON: %s", offline)
	}
	if !strings.Contains(offline, "unexpected_disconnect") {
		t.Error("offline payload lost the reason")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MirrorConfig{
		Broker: config.MirrorBrokerConfig{Host: "broker.lab", Port: 8883, TLS: true, ClientID: "rig-7"},
		Auth:   config.MirrorAuthConfig{Username: "rig", Password: "secret"},
		QoS:    1,
		Reconnect: config.MirrorReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.lab:8883" {
		t.Errorf("servers = %v", opts.Servers)
	}
	if opts.ClientID != "rig-7" {
		t.Errorf("client id = %q", opts.ClientID)
	}
	if opts.Username != "rig" {
		t.Errorf("username = %q", opts.Username)
	}
	if opts.TLSConfig == nil {
		t.Error("TLS requested but no TLS config set")
	}
}
