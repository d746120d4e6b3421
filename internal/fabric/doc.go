// Package fabric carries device operations across process boundaries.
//
// An Adapter gives callers one uniform surface over a device regardless of
// where it lives: LocalAdapter calls straight into a co-located Controller,
// NetAdapter speaks a length-prefixed TCP protocol to a remote Service
// hosting the device. The Service is the server counterpart: it binds a
// request/reply listener for attribute access and a publish listener that
// fans property-change batches and byte-streams out to subscribers.
//
// A Netctx owns the shared dial and keep-alive policy and tracks every
// adapter and service created through it, so Terminate closes the whole
// fabric in one call.
package fabric
