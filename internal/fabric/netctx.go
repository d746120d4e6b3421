package fabric

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// Default timeouts and keep-alive policy for the fabric.
const (
	// defaultDialTimeout is the maximum time to wait for a connection.
	defaultDialTimeout = 10 * time.Second

	// defaultRequestTimeout bounds one request/reply round trip.
	defaultRequestTimeout = 5 * time.Second

	// Keep-alive probing detects a dead peer within seconds instead of the
	// kernel's multi-minute defaults.
	defaultKeepAliveIdle     = 5 * time.Second
	defaultKeepAliveInterval = 2 * time.Second
	defaultKeepAliveProbes   = 3
)

// KeepAlive holds the TCP keep-alive probing policy applied to every fabric
// connection.
type KeepAlive struct {
	// Idle is how long a connection may be silent before probing starts.
	Idle time.Duration

	// Interval is the gap between unanswered probes.
	Interval time.Duration

	// Probes is how many unanswered probes mark the peer dead.
	Probes int
}

// Netctx is the shared network context of one fabric.
//
// It carries the dial and keep-alive policy and tracks every adapter and
// service created through it, so the whole fabric tears down with one
// Terminate call. A Netctx may be shared between a Rig and its cluster;
// whoever created it owns its lifetime.
type Netctx struct {
	// DialTimeout is the maximum time to wait when connecting.
	DialTimeout time.Duration

	// RequestTimeout bounds one request/reply round trip.
	RequestTimeout time.Duration

	// KeepAlive is the probing policy for all fabric connections.
	KeepAlive KeepAlive

	mu         sync.Mutex
	tracked    map[io.Closer]struct{}
	terminated bool
}

// NewNetctx creates a network context with default timeouts.
func NewNetctx() *Netctx {
	return &Netctx{
		DialTimeout:    defaultDialTimeout,
		RequestTimeout: defaultRequestTimeout,
		KeepAlive: KeepAlive{
			Idle:     defaultKeepAliveIdle,
			Interval: defaultKeepAliveInterval,
			Probes:   defaultKeepAliveProbes,
		},
		tracked: make(map[io.Closer]struct{}),
	}
}

// dial connects to addr with the context's timeout and keep-alive policy.
func (n *Netctx) dial(ctx context.Context, addr string) (net.Conn, error) {
	n.mu.Lock()
	if n.terminated {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	n.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, n.DialTimeout)
	defer cancel()

	dialer := net.Dialer{
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     n.KeepAlive.Idle,
			Interval: n.KeepAlive.Interval,
			Count:    n.KeepAlive.Probes,
		},
	}

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}
	return conn, nil
}

// listen binds a TCP listener. Keep-alive policy is applied per accepted
// connection by the service.
func (n *Netctx) listen(addr string) (net.Listener, error) {
	n.mu.Lock()
	if n.terminated {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	n.mu.Unlock()

	lc := net.ListenConfig{
		KeepAliveConfig: net.KeepAliveConfig{
			Enable:   true,
			Idle:     n.KeepAlive.Idle,
			Interval: n.KeepAlive.Interval,
			Count:    n.KeepAlive.Probes,
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// track registers a resource for teardown at Terminate.
func (n *Netctx) track(c io.Closer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.terminated {
		return
	}
	n.tracked[c] = struct{}{}
}

// untrack removes a resource that closed itself.
func (n *Netctx) untrack(c io.Closer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.tracked, c)
}

// Terminate closes every adapter and service created through this context.
// Safe to call more than once.
func (n *Netctx) Terminate() error {
	n.mu.Lock()
	if n.terminated {
		n.mu.Unlock()
		return nil
	}
	n.terminated = true
	tracked := make([]io.Closer, 0, len(n.tracked))
	for c := range n.tracked {
		tracked = append(tracked, c)
	}
	n.tracked = nil
	n.mu.Unlock()

	var firstErr error
	for _, c := range tracked {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
