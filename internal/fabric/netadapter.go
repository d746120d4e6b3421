package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/control"
)

// receivePollInterval is how often the receive loop wakes to check for
// shutdown when no publications arrive.
const receivePollInterval = 500 * time.Millisecond

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Ensure NetAdapter implements Adapter.
var _ Adapter = (*NetAdapter)(nil)

// NetAdapter addresses a device hosted by a remote Service.
//
// It holds two TCP connections: a request connection carrying strictly
// alternating request/reply exchanges (one outstanding request at a time,
// guarded by a mutex), and a subscribe connection on which a background
// loop receives [topic, payload] publications for this device.
//
// Thread Safety:
//   - All methods are safe for concurrent use; concurrent requests are
//     serialized on the request connection.
//   - Callbacks are invoked from the receive goroutine; a slow callback
//     delays later publications for this adapter only.
type NetAdapter struct {
	uid  string
	nctx *Netctx
	addr string

	reqMu   sync.Mutex
	reqConn net.Conn

	subConn net.Conn

	cbMu     sync.RWMutex
	propsCbs []PropsCallback
	streams  map[string][]StreamCallback

	done *closeOnce
	wg   sync.WaitGroup

	closeMu sync.Mutex
	closed  bool

	logger Logger
}

// Connect dials a remote Service and returns an adapter for one of its
// devices. reqAddr is the request/reply endpoint, pubAddr the publish
// endpoint. The adapter registers itself with the Netctx for teardown.
func Connect(ctx context.Context, nctx *Netctx, uid, reqAddr, pubAddr string, logger Logger) (*NetAdapter, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	reqConn, err := nctx.dial(ctx, reqAddr)
	if err != nil {
		return nil, err
	}

	subConn, err := nctx.dial(ctx, pubAddr)
	if err != nil {
		reqConn.Close()
		return nil, err
	}

	a := &NetAdapter{
		uid:     uid,
		nctx:    nctx,
		addr:    reqAddr,
		reqConn: reqConn,
		subConn: subConn,
		streams: make(map[string][]StreamCallback),
		done:    newCloseOnce(),
		logger:  logger,
	}

	a.wg.Add(1)
	go a.receiveLoop()

	nctx.track(a)
	return a, nil
}

// UID returns the device identifier this adapter addresses.
func (a *NetAdapter) UID() string {
	return a.uid
}

// RunCommand invokes a named command on the remote device.
func (a *NetAdapter) RunCommand(name string, args []any, kwargs map[string]any) (control.CommandResponse, error) {
	body, err := a.request(kindCommand, AttributeRequest{
		Device:    a.uid,
		Attribute: name,
		Args:      args,
		Kwargs:    kwargs,
	})
	if err != nil {
		return control.CommandResponse{}, err
	}

	var resp control.CommandResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return control.CommandResponse{}, fmt.Errorf("%w: command reply: %w", ErrBadMessage, err)
	}
	return resp, nil
}

// GetProps reads the named properties from the remote device; no names
// means all.
func (a *NetAdapter) GetProps(names ...string) (control.PropsResponse, error) {
	return a.propsRequest(kindGet, AttributeRequest{Device: a.uid, Names: names})
}

// SetProps writes a batch of property values on the remote device.
func (a *NetAdapter) SetProps(kv map[string]any) (control.PropsResponse, error) {
	return a.propsRequest(kindSet, AttributeRequest{Device: a.uid, Kwargs: kv})
}

func (a *NetAdapter) propsRequest(kind string, req AttributeRequest) (control.PropsResponse, error) {
	body, err := a.request(kind, req)
	if err != nil {
		return control.PropsResponse{}, err
	}

	var resp control.PropsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return control.PropsResponse{}, fmt.Errorf("%w: props reply: %w", ErrBadMessage, err)
	}
	return resp, nil
}

// Interface fetches the remote device's capability snapshot.
func (a *NetAdapter) Interface() (capability.Interface, error) {
	body, err := a.request(kindInterface, AttributeRequest{Device: a.uid})
	if err != nil {
		return capability.Interface{}, err
	}

	var resp InterfaceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return capability.Interface{}, fmt.Errorf("%w: interface reply: %w", ErrBadMessage, err)
	}
	if !resp.OK() || resp.Interface == nil {
		return capability.Interface{}, fmt.Errorf("%w: %s", ErrRemote, resp.Error)
	}
	return *resp.Interface, nil
}

// request performs one request/reply exchange. The mutex enforces strict
// alternation: exactly one outstanding request per adapter.
func (a *NetAdapter) request(kind string, req AttributeRequest) ([]byte, error) {
	select {
	case <-a.done.Done():
		return nil, ErrClosed
	default:
	}

	req.ID = uuid.NewString()
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	a.reqMu.Lock()
	defer a.reqMu.Unlock()

	deadline := time.Now().Add(a.nctx.RequestTimeout)

	if err := a.reqConn.SetWriteDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	if err := writeMessage(a.reqConn, kind, payload); err != nil {
		return nil, fmt.Errorf("send %s to %s: %w", kind, a.addr, err)
	}

	if err := a.reqConn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	replyKind, body, err := readMessage(a.reqConn)
	if err != nil {
		return nil, fmt.Errorf("receive %s reply from %s: %w", kind, a.addr, err)
	}
	if replyKind != kind {
		return nil, fmt.Errorf("%w: reply kind %q for %s request", ErrBadMessage, replyKind, kind)
	}

	a.logger.Debug("request completed", "uid", a.uid, "kind", kind, "id", req.ID)
	return body, nil
}

// OnPropsChanged registers a callback for property-change batches.
func (a *NetAdapter) OnPropsChanged(cb PropsCallback) error {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	select {
	case <-a.done.Done():
		return ErrClosed
	default:
	}
	a.propsCbs = append(a.propsCbs, cb)
	return nil
}

// Subscribe registers a callback for a named byte-stream.
func (a *NetAdapter) Subscribe(stream string, cb StreamCallback) error {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	select {
	case <-a.done.Done():
		return ErrClosed
	default:
	}
	a.streams[stream] = append(a.streams[stream], cb)
	return nil
}

// Unsubscribe removes all callbacks for a named byte-stream.
func (a *NetAdapter) Unsubscribe(stream string) error {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	delete(a.streams, stream)
	return nil
}

// Close cancels the receive loop, waits for it to stop, then closes both
// connections. Safe to call more than once.
func (a *NetAdapter) Close() error {
	a.closeMu.Lock()
	if a.closed {
		a.closeMu.Unlock()
		return nil
	}
	a.closed = true
	a.closeMu.Unlock()

	a.done.Close()
	// Unblock a read in progress so the loop observes done promptly.
	a.subConn.SetReadDeadline(time.Now())
	a.wg.Wait()

	a.subConn.Close()
	a.reqConn.Close()
	a.nctx.untrack(a)

	a.logger.Debug("adapter closed", "uid", a.uid)
	return nil
}

// receiveLoop reads [topic, payload] publications from the subscribe
// connection until Close. Publications for other devices sharing the
// endpoint are ignored.
func (a *NetAdapter) receiveLoop() {
	defer a.wg.Done()

	for {
		select {
		case <-a.done.Done():
			return
		default:
		}

		topic, payload, err := readMessagePoll(a.subConn, receivePollInterval, a.nctx.RequestTimeout)
		if err != nil {
			if errors.Is(err, errReadIdle) {
				continue
			}
			select {
			case <-a.done.Done():
			default:
				a.logger.Warn("subscribe connection lost", "uid", a.uid, "error", err)
			}
			return
		}

		a.dispatch(topic, payload)
	}
}

// dispatch routes one publication to the registered callbacks, containing
// panics per callback.
func (a *NetAdapter) dispatch(topic string, payload []byte) {
	if !strings.HasPrefix(topic, a.uid+"/") {
		return
	}

	if topic == control.PropsTopic(a.uid) {
		var resp control.PropsResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			a.logger.Error("malformed property batch", "uid", a.uid, "error", err)
			return
		}

		a.cbMu.RLock()
		cbs := make([]PropsCallback, len(a.propsCbs))
		copy(cbs, a.propsCbs)
		a.cbMu.RUnlock()

		for _, cb := range cbs {
			a.invokeProps(cb, resp)
		}
		return
	}

	stream := strings.TrimPrefix(topic, a.uid+"/")

	a.cbMu.RLock()
	cbs := make([]StreamCallback, len(a.streams[stream]))
	copy(cbs, a.streams[stream])
	a.cbMu.RUnlock()

	for _, cb := range cbs {
		a.invokeStream(cb, stream, payload)
	}
}

func (a *NetAdapter) invokeProps(cb PropsCallback, resp control.PropsResponse) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("props callback panic", "uid", a.uid, "panic", r)
		}
	}()
	cb(resp)
}

func (a *NetAdapter) invokeStream(cb StreamCallback, stream string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("stream callback panic",
				"uid", a.uid, "stream", stream, "panic", r)
		}
	}()
	cb(payload)
}
