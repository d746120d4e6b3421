// Package telemetry records numeric device properties to InfluxDB.
//
// A Sink subscribes to property-change batches on device handles and
// writes every numeric value as a point. Writes go through the
// non-blocking batched write API, so a slow or absent InfluxDB never
// stalls device operations.
package telemetry
