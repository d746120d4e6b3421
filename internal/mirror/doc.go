// Package mirror republishes device state to an external MQTT broker.
//
// The fabric's own publish path stays self-contained; the mirror is a
// best-effort egress for dashboards and third-party consumers. Each
// property-change batch goes out retained on rigcore/state/{uid}, and an
// online/offline status with a Last Will lives on rigcore/system/status.
// Mirror failures never affect device operations.
package mirror
