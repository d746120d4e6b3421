// Package sim provides simulated devices: a streaming sensor, a motion
// stage and a laser. They exercise the full capability surface without
// hardware, which makes the binary runnable out of the box and gives the
// rest of the system realistic devices to test against.
//
// Register adds every simulated device type to a build registry under the
// sim.* target names.
package sim
