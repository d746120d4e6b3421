// Package api exposes the rig over HTTP: device discovery, property
// reads and writes, command invocation and a WebSocket feed of
// property-change batches.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
