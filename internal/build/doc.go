// Package build instantiates typed device objects from declarative specs,
// resolving references between them and isolating per-object failures.
//
// A GroupSpec maps device uids to build configs. Init values may reference
// other devices in the same spec using the explicit Ref marker (or its
// config-file form "ref:<uid>"); the builder constructs dependencies first
// and substitutes the built object in place of the marker. Bare strings are
// always literals, never references.
//
// Failures never abort the whole build: each failed uid is recorded with a
// structured Error (import, instantiation, dependency or circular) and every
// unaffected device is still built.
//
// # Usage
//
//	reg := build.NewRegistry()
//	reg.Register("sim.laser", sim.NewLaser)
//
//	builder := build.New(reg)
//	built, errs := builder.Build(spec)
//
// The builder's working sets are local to one Build call; a Builder must not
// be invoked concurrently with the same spec from multiple goroutines.
package build
