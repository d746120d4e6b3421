package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/openrig/rigcore/internal/capability"
)

// Sensor rate limits in Hz.
const (
	minSensorRate = 0.1
	maxSensorRate = 1000
)

// Sensor is a simulated measurement device. It exposes its latest reading
// as a property and, once started, pushes JSON-encoded samples on the
// "frames" stream at the configured rate.
type Sensor struct {
	uid  string
	desc *capability.Descriptor

	mu        sync.Mutex
	emitter   capability.StreamEmitter
	rate      float64
	amplitude float64
	reading   float64
	running   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// sensorSample is the frame payload.
type sensorSample struct {
	Timestamp int64   `json:"ts"`
	Value     float64 `json:"value"`
}

// NewSensor builds a Sensor. Init keys: "rate" (Hz, default 10) and
// "amplitude" (default 1).
func NewSensor(init map[string]any) (capability.Device, error) {
	s := &Sensor{
		rate:      10,
		amplitude: 1,
	}
	s.uid, _ = init["uid"].(string)

	if v, ok := init["rate"]; ok {
		f, ok := capability.AsFloat(v)
		if !ok || f < minSensorRate || f > maxSensorRate {
			return nil, fmt.Errorf("sensor rate %v out of range [%v, %v]", v, minSensorRate, maxSensorRate)
		}
		s.rate = f
	}
	if v, ok := init["amplitude"]; ok {
		f, ok := capability.AsFloat(v)
		if !ok {
			return nil, fmt.Errorf("sensor amplitude %v is not numeric", v)
		}
		s.amplitude = f
	}

	s.desc = capability.NewDescriptor()
	s.desc.AddProperty("rate", &capability.Property{
		Label: "Sample rate",
		Units: "Hz",
		Min:   capability.Float(minSensorRate),
		Max:   capability.Float(maxSensorRate),
		Get: func() (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.rate, nil
		},
		Set: func(v any) error {
			f, ok := capability.AsFloat(v)
			if !ok {
				return fmt.Errorf("rate must be numeric")
			}
			s.mu.Lock()
			s.rate = f
			s.mu.Unlock()
			return nil
		},
	})
	s.desc.AddProperty("reading", &capability.Property{
		Label:      "Latest reading",
		Streamable: true,
		Get: func() (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.reading, nil
		},
	})

	return s, nil
}

// UID returns the device identifier.
func (s *Sensor) UID() string { return s.uid }

// Descriptor returns the capability tables.
func (s *Sensor) Descriptor() *capability.Descriptor { return s.desc }

// SetEmitter installs the stream emitter. Frames produced before this are
// dropped.
func (s *Sensor) SetEmitter(emit capability.StreamEmitter) {
	s.mu.Lock()
	s.emitter = emit
	s.mu.Unlock()
}

// Start begins sampling. Samples are published on the "frames" stream
// until Close.
func (s *Sensor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sensor %s already running", s.uid)
	}
	s.running = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.wg.Add(1)
	go s.sampleLoop(runCtx)
	return nil
}

// Close stops sampling.
func (s *Sensor) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	return nil
}

// sampleLoop produces a sine wave at the configured rate. The ticker is
// rebuilt when the rate changes.
func (s *Sensor) sampleLoop(ctx context.Context) {
	defer s.wg.Done()

	start := time.Now()
	for {
		s.mu.Lock()
		rate := s.rate
		amplitude := s.amplitude
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(float64(time.Second) / rate)):
		}

		elapsed := time.Since(start).Seconds()
		value := amplitude * math.Sin(2*math.Pi*elapsed)

		s.mu.Lock()
		s.reading = value
		emitter := s.emitter
		s.mu.Unlock()

		if emitter != nil {
			payload, err := json.Marshal(sensorSample{
				Timestamp: time.Now().UnixMilli(),
				Value:     value,
			})
			if err != nil {
				continue
			}
			emitter("frames", payload)
		}
	}
}
