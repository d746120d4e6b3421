package control

import "fmt"

// Status tags a reply as success or error.
type Status string

// Reply statuses.
const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// CommandResponse is the tagged reply to a command invocation.
type CommandResponse struct {
	Status Status `json:"status"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the command succeeded.
func (r CommandResponse) OK() bool {
	return r.Status == StatusOK
}

// CommandOK builds a success reply carrying the command's return value.
func CommandOK(value any) CommandResponse {
	return CommandResponse{Status: StatusOK, Value: value}
}

// CommandError builds an error reply.
func CommandError(format string, args ...any) CommandResponse {
	return CommandResponse{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// PropsResponse is the tagged reply to a property read or write, and the
// body published on the {uid}/properties topic for every change batch.
type PropsResponse struct {
	Status Status         `json:"status"`
	Props  map[string]any `json:"props,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// OK reports whether the property operation succeeded.
func (r PropsResponse) OK() bool {
	return r.Status == StatusOK
}

// PropsOK builds a success reply carrying property values.
func PropsOK(props map[string]any) PropsResponse {
	return PropsResponse{Status: StatusOK, Props: props}
}

// PropsError builds an error reply.
func PropsError(format string, args ...any) PropsResponse {
	return PropsResponse{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// PropsTopic returns the publish topic carrying property-change batches
// for a device.
//
// Example: laser0/properties
func PropsTopic(uid string) string {
	return uid + "/properties"
}

// StreamTopic returns the publish topic carrying a device's named opaque
// byte-stream.
//
// Example: cam0/frames
func StreamTopic(uid, stream string) string {
	return uid + "/" + stream
}
