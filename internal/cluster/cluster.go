// Package cluster orchestrates device groups spread across machines.
//
// Each configured node names the devices it hosts. Nodes whose hostname
// resolves to this machine are started in-process: their devices are built,
// wrapped in controllers and exposed through a fabric.Service, then reached
// through loopback NetAdapters so every device is addressed uniformly.
// Nodes on other machines are only connected to. The merged handle map is
// the cluster's product.
package cluster

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openrig/rigcore/internal/build"
	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/control"
	"github.com/openrig/rigcore/internal/fabric"
	"github.com/openrig/rigcore/internal/handle"
	"github.com/openrig/rigcore/internal/infrastructure/config"
)

// connectRetryInterval is the pause between connection attempts while
// waiting for a node to answer.
const connectRetryInterval = 250 * time.Millisecond

// Logger defines the logging interface used by the Manager.
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

// Manager starts and stops the nodes of one cluster.
//
// Per-node failures are logged and isolated: a node that cannot be built
// or reached never prevents the others from coming up.
type Manager struct {
	nctx     *fabric.Netctx
	registry *build.Registry
	devices  build.GroupSpec
	nodes    []config.NodeConfig
	cfg      config.ClusterConfig
	logger   Logger

	// machine is this host's name, used for local/remote classification.
	// Overridable for tests.
	machine string

	mu       sync.Mutex
	services []*fabric.Service
	handles  map[string]*handle.Handle
	built    map[string]capability.Device
	started  bool
}

// NewManager creates a cluster manager. devices holds the build specs of
// every device any node may declare; nodes partition (a subset of) those
// uids across machines.
func NewManager(nctx *fabric.Netctx, registry *build.Registry, devices build.GroupSpec, nodes []config.NodeConfig, cfg config.ClusterConfig, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	machine, _ := os.Hostname()
	return &Manager{
		nctx:     nctx,
		registry: registry,
		devices:  devices,
		nodes:    nodes,
		cfg:      cfg,
		logger:   logger,
		machine:  machine,
		handles:  make(map[string]*handle.Handle),
		built:    make(map[string]capability.Device),
	}
}

// Start brings the cluster up: local nodes first in name order, then
// connection and provision waits per node. Returns an error only when no
// node could be started at all while nodes were configured.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("cluster: already started")
	}
	m.started = true
	m.mu.Unlock()

	nodes := make([]config.NodeConfig, len(m.nodes))
	copy(nodes, m.nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })

	var ok int
	for _, node := range nodes {
		var err error
		if isLocal(node.Hostname, m.machine) {
			err = m.startLocalNode(ctx, node)
		} else {
			err = m.connectRemoteNode(ctx, node)
		}
		if err != nil {
			m.logger.Error("node startup failed", "node", node.Name, "error", err)
			continue
		}
		ok++
	}

	if len(nodes) > 0 && ok == 0 {
		return fmt.Errorf("cluster: no node of %d could be started", len(nodes))
	}
	m.logger.Info("cluster started", "nodes_up", ok, "nodes_total", len(nodes))
	return nil
}

// startLocalNode builds the node's devices, hosts them behind a service
// and connects loopback adapters for them.
func (m *Manager) startLocalNode(ctx context.Context, node config.NodeConfig) error {
	spec := make(build.GroupSpec, len(node.Devices))
	for _, uid := range node.Devices {
		cfg, ok := m.devices[uid]
		if !ok {
			m.logger.Warn("node declares unknown device", "node", node.Name, "uid", uid)
			continue
		}
		spec[uid] = cfg
	}

	builder := build.New(m.registry)
	builder.SetLogger(m.logger)
	built, buildErrs := builder.Build(spec)
	for uid, err := range buildErrs {
		m.logger.Error("device build failed", "node", node.Name, "uid", uid,
			"kind", string(err.Kind), "error", err.Message)
	}
	if len(built) == 0 && len(spec) > 0 {
		return fmt.Errorf("no device of %d could be built", len(spec))
	}

	svc := fabric.NewService(m.nctx, m.logger)
	for uid, dev := range built {
		ctrl := control.New(dev)
		ctrl.SetLogger(m.logger)
		svc.Host(ctrl)

		if starter, ok := dev.(capability.Starter); ok {
			if err := starter.Start(ctx); err != nil {
				m.logger.Error("device start failed", "node", node.Name, "uid", uid, "error", err)
			}
		}
	}

	if err := svc.Start(node.ReqEndpoint, node.PubEndpoint); err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	m.mu.Lock()
	m.services = append(m.services, svc)
	for uid, dev := range built {
		m.built[uid] = dev
	}
	m.mu.Unlock()

	// Reach the hosted devices the same way a remote peer would, over the
	// actually bound loopback addresses.
	for uid := range built {
		adapter, err := fabric.Connect(ctx, m.nctx, uid, svc.ReqAddr(), svc.PubAddr(), m.logger)
		if err != nil {
			m.logger.Error("loopback connect failed", "node", node.Name, "uid", uid, "error", err)
			continue
		}
		m.addHandle(handle.New(adapter))
	}

	m.logger.Info("local node up", "node", node.Name,
		"devices", len(built), "req_addr", svc.ReqAddr())
	return m.waitProvisioned(node)
}

// connectRemoteNode connects adapters for every device the node declares,
// waiting up to the connection timeout for the node to answer.
func (m *Manager) connectRemoteNode(ctx context.Context, node config.NodeConfig) error {
	if err := m.waitReachable(ctx, node); err != nil {
		return err
	}

	for _, uid := range node.Devices {
		adapter, err := fabric.Connect(ctx, m.nctx, uid, node.ReqEndpoint, node.PubEndpoint, m.logger)
		if err != nil {
			m.logger.Error("remote connect failed", "node", node.Name, "uid", uid, "error", err)
			continue
		}
		m.addHandle(handle.New(adapter))
	}

	m.logger.Info("remote node connected", "node", node.Name, "devices", len(node.Devices))
	return m.waitProvisioned(node)
}

// waitReachable retries an interface round-trip against the node's first
// device until it answers or the connection timeout expires.
func (m *Manager) waitReachable(ctx context.Context, node config.NodeConfig) error {
	if len(node.Devices) == 0 {
		return fmt.Errorf("node %q declares no devices", node.Name)
	}

	deadline := time.Now().Add(m.cfg.GetConnectionTimeout())
	probe := node.Devices[0]

	var lastErr error
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		adapter, err := fabric.Connect(ctx, m.nctx, probe, node.ReqEndpoint, node.PubEndpoint, m.logger)
		if err == nil {
			_, err = adapter.Interface()
			adapter.Close()
			if err == nil {
				return nil
			}
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectRetryInterval):
		}
	}
	return fmt.Errorf("node %q unreachable within %s: %w",
		node.Name, m.cfg.GetConnectionTimeout(), lastErr)
}

// waitProvisioned waits until every connected device of the node answers
// an interface round-trip, up to the provision timeout. Devices that never
// answer are logged and their handles removed.
func (m *Manager) waitProvisioned(node config.NodeConfig) error {
	deadline := time.Now().Add(m.cfg.GetProvisionTimeout())

	for _, uid := range node.Devices {
		m.mu.Lock()
		h, ok := m.handles[uid]
		m.mu.Unlock()
		if !ok {
			continue
		}

		for {
			if _, err := h.Interface(); err == nil {
				break
			}
			if !time.Now().Before(deadline) {
				m.logger.Error("device not provisioned in time", "node", node.Name, "uid", uid)
				m.mu.Lock()
				delete(m.handles, uid)
				m.mu.Unlock()
				h.Close()
				break
			}
			time.Sleep(connectRetryInterval)
		}
	}
	return nil
}

func (m *Manager) addHandle(h *handle.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[h.UID()] = h
}

// Handles returns the merged uid-to-handle map across all nodes that came
// up. The map is a copy; closing the cluster invalidates the handles.
func (m *Manager) Handles() map[string]*handle.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*handle.Handle, len(m.handles))
	for uid, h := range m.handles {
		out[uid] = h
	}
	return out
}

// Device returns the concrete instance of a device built by a local node.
func (m *Manager) Device(uid string) (capability.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev, ok := m.built[uid]
	return dev, ok
}

// Stop tears the cluster down in reverse order: handles first, then the
// local services. Locally built devices are closed with their service.
func (m *Manager) Stop() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*handle.Handle)
	services := m.services
	m.services = nil
	built := m.built
	m.built = make(map[string]capability.Device)
	m.mu.Unlock()

	for uid, h := range handles {
		if err := h.Close(); err != nil {
			m.logger.Warn("closing handle failed", "uid", uid, "error", err)
		}
	}
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Close(); err != nil {
			m.logger.Warn("closing service failed", "error", err)
		}
	}
	for uid, dev := range built {
		if closer, ok := dev.(capability.Closer); ok {
			if err := closer.Close(); err != nil {
				m.logger.Warn("closing device failed", "uid", uid, "error", err)
			}
		}
	}
	m.logger.Info("cluster stopped")
}

// isLocal reports whether a node hostname addresses this machine.
func isLocal(hostname, machine string) bool {
	if hostname == "" || hostname == "localhost" || hostname == machine {
		return true
	}
	if strings.EqualFold(hostname, machine) {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil && ip.IsLoopback() {
		return true
	}
	return false
}
