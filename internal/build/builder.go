package build

import (
	"fmt"
	"strings"

	"github.com/openrig/rigcore/internal/capability"
)

// Ref marks an init value as a reference to another uid in the same spec.
// The builder substitutes the built device in its place. In YAML configs the
// string form "ref:<uid>" decodes to the same marker; any other string is a
// literal.
type Ref string

// refPrefix is the config-file spelling of a reference marker.
const refPrefix = "ref:"

// Config declares how to build one device: the registered target type, the
// constructor init map, and post-construction property defaults.
// Immutable once created.
type Config struct {
	Target   string
	Init     map[string]any
	Defaults map[string]any
}

// GroupSpec maps device uids to build configs. Uids are unique by map
// invariant.
type GroupSpec map[string]Config

// Logger defines the logging interface used by the Builder.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Builder constructs device graphs from GroupSpecs using a factory registry.
//
// Build never raises for per-object failures; it accumulates them. The
// working sets of one Build call are owned exclusively by that call, so a
// Builder needs no internal locking but must not be invoked concurrently
// on the same spec.
type Builder struct {
	registry *Registry
	logger   Logger
}

// New creates a Builder backed by the given factory registry.
func New(registry *Registry) *Builder {
	return &Builder{
		registry: registry,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the builder.
func (b *Builder) SetLogger(logger Logger) {
	b.logger = logger
}

// Build instantiates every device in the spec, resolving references first.
//
// Returns the built devices and a map of per-uid errors. A spec with one bad
// entry still yields every good device; dependents of a failed device are
// recorded with KindDependency, members of a reference cycle with
// KindCircular. Neither map is ever nil.
func (b *Builder) Build(spec GroupSpec) (map[string]capability.Device, map[string]*Error) {
	run := &buildRun{
		builder:  b,
		spec:     spec,
		built:    make(map[string]capability.Device),
		errs:     make(map[string]*Error),
		building: make(map[string]bool),
	}

	for uid := range spec {
		run.resolve(uid)
	}

	return run.built, run.errs
}

// buildRun holds the working sets of one Build invocation.
type buildRun struct {
	builder *Builder
	spec    GroupSpec
	built   map[string]capability.Device
	errs    map[string]*Error

	// building marks uids currently mid-construction so a reference cycle
	// is detected instead of recursing forever.
	building map[string]bool
}

// resolve builds one uid, constructing its dependencies first.
// Returns the build error, or nil on success.
func (r *buildRun) resolve(uid string) *Error {
	if _, ok := r.built[uid]; ok {
		return nil
	}
	if err, ok := r.errs[uid]; ok {
		return err
	}

	if r.building[uid] {
		return r.fail(&Error{
			UID:     uid,
			Kind:    KindCircular,
			Message: "circular reference detected",
		})
	}
	r.building[uid] = true
	defer delete(r.building, uid)

	cfg := r.spec[uid]

	// Dependencies first.
	for _, dep := range findRefs(cfg.Init) {
		if _, ok := r.spec[dep]; !ok {
			return r.fail(&Error{
				UID:     uid,
				Kind:    KindDependency,
				Message: fmt.Sprintf("references unknown uid %q", dep),
			})
		}

		if depErr := r.resolve(dep); depErr != nil {
			// A circular error whose cycle head is still mid-build means this
			// uid is itself part of the cycle; once the head has unwound, the
			// cycle is closed and later dependents are plain dependency errors.
			if depErr.Kind == KindCircular && r.building[cycleHead(depErr)] {
				return r.fail(&Error{
					UID:     uid,
					Kind:    KindCircular,
					Message: fmt.Sprintf("circular reference through %q", dep),
					Cause:   depErr,
				})
			}
			return r.fail(&Error{
				UID:     uid,
				Kind:    KindDependency,
				Message: fmt.Sprintf("dependency %q failed: %s", dep, depErr.Message),
				Cause:   depErr,
			})
		}
	}

	factory, ok := r.builder.registry.Lookup(cfg.Target)
	if !ok {
		return r.fail(&Error{
			UID:     uid,
			Kind:    KindImport,
			Message: fmt.Sprintf("unknown target type %q", cfg.Target),
		})
	}

	init := r.substitute(cfg.Init)
	// Constructors always know their own id without the spec repeating it.
	if _, ok := init["uid"]; !ok {
		init["uid"] = uid
	}

	device, err := factory(init)
	if err != nil {
		return r.fail(&Error{
			UID:     uid,
			Kind:    KindInstantiation,
			Message: err.Error(),
			Cause:   err,
		})
	}

	r.applyDefaults(uid, device, cfg.Defaults)

	r.built[uid] = device
	r.builder.logger.Debug("device built", "uid", uid, "target", cfg.Target)
	return nil
}

// cycleHead walks a chain of circular errors to the uid where the cycle was
// first detected.
func cycleHead(e *Error) string {
	for {
		cause, ok := e.Cause.(*Error)
		if !ok || cause.Kind != KindCircular {
			return e.UID
		}
		e = cause
	}
}

// fail records an error for its uid and returns it. The first error recorded
// for a uid wins; later classifications of the same uid do not overwrite it.
func (r *buildRun) fail(err *Error) *Error {
	if existing, ok := r.errs[err.UID]; ok {
		return existing
	}
	r.errs[err.UID] = err
	r.builder.logger.Warn("device build failed",
		"uid", err.UID,
		"kind", string(err.Kind),
		"error", err.Message,
	)
	return err
}

// applyDefaults performs best-effort post-construction property writes.
// A failure here is logged only; it never reverts the successful build.
func (r *buildRun) applyDefaults(uid string, device capability.Device, defaults map[string]any) {
	for name, value := range defaults {
		prop, ok := device.Descriptor().Properties[name]
		if !ok {
			r.builder.logger.Warn("default for unknown property ignored",
				"uid", uid, "property", name)
			continue
		}
		if !prop.Writable() {
			r.builder.logger.Warn("default for read-only property ignored",
				"uid", uid, "property", name)
			continue
		}
		if err := capability.CheckConstraint(prop, value); err != nil {
			r.builder.logger.Warn("default violates property constraint",
				"uid", uid, "property", name, "error", err)
			continue
		}
		if err := prop.Set(value); err != nil {
			r.builder.logger.Warn("applying default failed",
				"uid", uid, "property", name, "error", err)
		}
	}
}

// substitute returns a copy of the init map with every reference marker
// replaced by the built device, recursively through maps and lists.
func (r *buildRun) substitute(init map[string]any) map[string]any {
	resolved := make(map[string]any, len(init)+1)
	for k, v := range init {
		resolved[k] = r.substituteValue(v)
	}
	return resolved
}

func (r *buildRun) substituteValue(v any) any {
	if uid, ok := refOf(v); ok {
		return r.built[uid]
	}
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[k] = r.substituteValue(inner)
		}
		return m
	case []any:
		list := make([]any, len(val))
		for i, inner := range val {
			list[i] = r.substituteValue(inner)
		}
		return list
	default:
		return v
	}
}

// findRefs collects every reference marker reachable inside an init map,
// through nested maps and lists.
func findRefs(init map[string]any) []string {
	var refs []string
	for _, v := range init {
		refs = appendRefs(refs, v)
	}
	return refs
}

func appendRefs(refs []string, v any) []string {
	if uid, ok := refOf(v); ok {
		return append(refs, uid)
	}
	switch val := v.(type) {
	case map[string]any:
		for _, inner := range val {
			refs = appendRefs(refs, inner)
		}
	case []any:
		for _, inner := range val {
			refs = appendRefs(refs, inner)
		}
	}
	return refs
}

// refOf reports whether a value is a reference marker, returning the
// referenced uid. Only the Ref type and the "ref:" string form qualify;
// bare strings are literals.
func refOf(v any) (string, bool) {
	switch val := v.(type) {
	case Ref:
		return string(val), true
	case string:
		if strings.HasPrefix(val, refPrefix) {
			return strings.TrimPrefix(val, refPrefix), true
		}
	}
	return "", false
}
