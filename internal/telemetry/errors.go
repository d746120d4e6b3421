package telemetry

import "errors"

// Sentinel errors for telemetry operations.
var (
	// ErrDisabled is returned when connecting with telemetry disabled in
	// configuration.
	ErrDisabled = errors.New("telemetry: disabled in configuration")

	// ErrConnectionFailed is returned when the InfluxDB server cannot be
	// reached or reports unhealthy.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrNotConnected is returned for operations on a closed client.
	ErrNotConnected = errors.New("telemetry: not connected")
)
