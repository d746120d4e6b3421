// Package control provides the server-side device controller.
//
// A Controller wraps exactly one capability.Device: it validates and executes
// commands, reads and writes properties, and serves the device's Interface
// snapshot. Property-change batches and named byte-streams are emitted
// through a publish callback; the Controller is transport-agnostic and never
// touches sockets directly.
//
// The reply types (CommandResponse, PropsResponse) double as the wire reply
// bodies used by the fabric.
package control
