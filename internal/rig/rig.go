// Package rig composes a running system out of the other pieces: it builds
// the purely local devices, brings up the cluster for node-hosted ones, and
// hands the caller one merged map of device handles.
package rig

import (
	"context"
	"fmt"
	"sync"

	"github.com/openrig/rigcore/internal/build"
	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/cluster"
	"github.com/openrig/rigcore/internal/control"
	"github.com/openrig/rigcore/internal/fabric"
	"github.com/openrig/rigcore/internal/handle"
	"github.com/openrig/rigcore/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Rig.
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

// Hook runs after the rig has started, with every handle in place.
type Hook func(ctx context.Context, r *Rig) error

// Rig is the composition root of one running system.
//
// Devices not claimed by any node are built in-process and reached through
// local adapters; node-hosted devices come up through the cluster manager.
// Either way the caller sees one uniform handle per device.
type Rig struct {
	cfg      *config.Config
	registry *build.Registry
	logger   Logger

	// nctx is created lazily when nodes are configured, unless one was
	// injected. ownsNetctx records who is responsible for terminating it.
	nctx       *fabric.Netctx
	ownsNetctx bool

	postStart Hook

	mu       sync.Mutex
	cluster  *cluster.Manager
	handles  map[string]*handle.Handle
	built    map[string]capability.Device
	adapters []*fabric.LocalAdapter
	started  bool
}

// New creates a Rig from configuration and a device factory registry.
func New(cfg *config.Config, registry *build.Registry, logger Logger) *Rig {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Rig{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		handles:  make(map[string]*handle.Handle),
		built:    make(map[string]capability.Device),
	}
}

// SetNetctx injects a shared network context. The rig will use it without
// taking ownership: Stop leaves it running.
func (r *Rig) SetNetctx(nctx *fabric.Netctx) {
	r.nctx = nctx
	r.ownsNetctx = false
}

// OnStarted registers a hook that runs after every device is up. A hook
// error fails Start.
func (r *Rig) OnStarted(hook Hook) {
	r.postStart = hook
}

// Start brings the rig up: local devices first, then the cluster, then the
// post-start hook. Per-device build failures are logged, not fatal; Start
// fails only on structural problems.
func (r *Rig) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("rig: already started")
	}
	r.started = true
	r.mu.Unlock()

	r.startLocalDevices(ctx)

	if len(r.cfg.Nodes) > 0 {
		if err := r.startCluster(ctx); err != nil {
			return err
		}
	}

	r.logger.Info("rig started",
		"id", r.cfg.Rig.ID,
		"devices", len(r.handles),
	)

	if r.postStart != nil {
		if err := r.postStart(ctx, r); err != nil {
			return fmt.Errorf("rig: post-start hook: %w", err)
		}
	}
	return nil
}

// startLocalDevices builds every device no node claims and wires it up
// through a local adapter.
func (r *Rig) startLocalDevices(ctx context.Context) {
	spec := r.localSpec()
	if len(spec) == 0 {
		return
	}

	builder := build.New(r.registry)
	builder.SetLogger(r.logger)
	built, buildErrs := builder.Build(spec)
	for uid, err := range buildErrs {
		r.logger.Error("device build failed",
			"uid", uid, "kind", string(err.Kind), "error", err.Message)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for uid, dev := range built {
		ctrl := control.New(dev)
		ctrl.SetLogger(r.logger)
		adapter := fabric.NewLocalAdapter(ctrl)
		adapter.SetLogger(r.logger)
		h := handle.New(adapter)

		if err := h.Start(ctx); err != nil {
			r.logger.Error("device start failed", "uid", uid, "error", err)
			h.Close()
			continue
		}

		r.built[uid] = dev
		r.adapters = append(r.adapters, adapter)
		r.handles[uid] = h
		r.logger.Debug("local device up", "uid", uid)
	}
}

// startCluster brings node-hosted devices up and merges their handles.
func (r *Rig) startCluster(ctx context.Context) error {
	if r.nctx == nil {
		r.nctx = fabric.NewNetctx()
		r.nctx.DialTimeout = r.cfg.Fabric.GetConnectTimeout()
		r.nctx.RequestTimeout = r.cfg.Fabric.GetRequestTimeout()
		r.nctx.KeepAlive = fabric.KeepAlive{
			Idle:     r.cfg.Fabric.KeepAlive.GetIdle(),
			Interval: r.cfg.Fabric.KeepAlive.GetInterval(),
			Probes:   r.cfg.Fabric.KeepAlive.Probes,
		}
		r.ownsNetctx = true
	}

	mgr := cluster.NewManager(r.nctx, r.registry, r.groupSpec(),
		r.cfg.Nodes, r.cfg.Cluster, r.logger)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("rig: cluster: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cluster = mgr
	for uid, h := range mgr.Handles() {
		if _, exists := r.handles[uid]; exists {
			r.logger.Warn("node device shadows local device", "uid", uid)
			continue
		}
		r.handles[uid] = h
	}
	return nil
}

// Stop tears the rig down: local handles, then the cluster, then the
// network context when this rig owns it.
func (r *Rig) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	handles := r.handles
	r.handles = make(map[string]*handle.Handle)
	mgr := r.cluster
	r.cluster = nil
	r.built = make(map[string]capability.Device)
	r.adapters = nil
	r.mu.Unlock()

	clusterHandles := make(map[string]bool)
	if mgr != nil {
		for uid := range mgr.Handles() {
			clusterHandles[uid] = true
		}
	}

	for uid, h := range handles {
		if clusterHandles[uid] {
			continue // the cluster closes its own
		}
		if err := h.Close(); err != nil {
			r.logger.Warn("closing handle failed", "uid", uid, "error", err)
		}
	}

	if mgr != nil {
		mgr.Stop()
	}

	if r.nctx != nil && r.ownsNetctx {
		if err := r.nctx.Terminate(); err != nil {
			r.logger.Warn("terminating network context failed", "error", err)
		}
		r.nctx = nil
	}

	r.logger.Info("rig stopped")
}

// Handles returns the merged uid-to-handle map. The map is a copy.
func (r *Rig) Handles() map[string]*handle.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*handle.Handle, len(r.handles))
	for uid, h := range r.handles {
		out[uid] = h
	}
	return out
}

// Handle returns the handle for one device.
func (r *Rig) Handle(uid string) (*handle.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[uid]
	return h, ok
}

// GetDevice returns the concrete instance of a device built in this
// process. Remote devices have no concrete instance here.
func (r *Rig) GetDevice(uid string) (capability.Device, bool) {
	r.mu.Lock()
	dev, ok := r.built[uid]
	mgr := r.cluster
	r.mu.Unlock()
	if ok {
		return dev, true
	}
	if mgr != nil {
		return mgr.Device(uid)
	}
	return nil, false
}

// groupSpec converts the configured device table to build specs.
func (r *Rig) groupSpec() build.GroupSpec {
	spec := make(build.GroupSpec, len(r.cfg.Devices))
	for uid, d := range r.cfg.Devices {
		spec[uid] = build.Config{Target: d.Target, Init: d.Init, Defaults: d.Defaults}
	}
	return spec
}

// localSpec returns build specs for devices no node claims.
func (r *Rig) localSpec() build.GroupSpec {
	claimed := make(map[string]bool)
	for _, node := range r.cfg.Nodes {
		for _, uid := range node.Devices {
			claimed[uid] = true
		}
	}

	spec := make(build.GroupSpec)
	for uid, cfg := range r.groupSpec() {
		if !claimed[uid] {
			spec[uid] = cfg
		}
	}
	return spec
}
