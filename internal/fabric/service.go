package fabric

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openrig/rigcore/internal/control"
)

// Queue sizes for the publish fan-out path.
const (
	// publishQueueSize buffers publications between controllers and the
	// fan-out goroutine.
	publishQueueSize = 256

	// subscriberQueueSize is the per-subscriber buffer. A subscriber that
	// falls this far behind starts losing publications rather than slowing
	// everyone else down.
	subscriberQueueSize = 64
)

// publication is one topic/payload pair in flight.
type publication struct {
	topic   string
	payload []byte
}

// subscriber is one connected publish-endpoint client.
type subscriber struct {
	conn    net.Conn
	queue   chan publication
	dropped atomic.Uint64
}

// Service hosts a set of Controllers behind two TCP listeners: a
// request/reply endpoint for attribute access and a publish endpoint that
// fans property-change batches and byte-streams out to subscribers.
//
// Each request connection is served by one goroutine reading strictly
// alternating request/reply exchanges. A single fan-out goroutine preserves
// publication order; slow subscribers lose publications instead of
// blocking the fabric.
type Service struct {
	nctx   *Netctx
	logger Logger

	ctrlMu      sync.RWMutex
	controllers map[string]*control.Controller

	reqLn net.Listener
	pubLn net.Listener

	pubCh chan publication

	subMu sync.Mutex
	subs  map[*subscriber]struct{}

	connMu   sync.Mutex
	reqConns map[net.Conn]struct{}

	done *closeOnce
	wg   sync.WaitGroup

	stateMu sync.Mutex
	started bool
	closed  bool
}

// NewService creates a Service bound to the given network context.
func NewService(nctx *Netctx, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		nctx:        nctx,
		logger:      logger,
		controllers: make(map[string]*control.Controller),
		pubCh:       make(chan publication, publishQueueSize),
		subs:        make(map[*subscriber]struct{}),
		reqConns:    make(map[net.Conn]struct{}),
		done:        newCloseOnce(),
	}
}

// Host adds a controller to the service and takes over its publish sink.
// Must be called before Start.
func (s *Service) Host(ctrl *control.Controller) {
	s.ctrlMu.Lock()
	s.controllers[ctrl.UID()] = ctrl
	s.ctrlMu.Unlock()

	ctrl.SetPublisher(s.publish)
}

// UIDs returns the identifiers of all hosted devices.
func (s *Service) UIDs() []string {
	s.ctrlMu.RLock()
	defer s.ctrlMu.RUnlock()
	uids := make([]string, 0, len(s.controllers))
	for uid := range s.controllers {
		uids = append(uids, uid)
	}
	return uids
}

// Start binds the request and publish listeners and begins serving.
// Use ":0" to bind an ephemeral port; the bound address is available from
// ReqAddr and PubAddr.
func (s *Service) Start(reqAddr, pubAddr string) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.started {
		return fmt.Errorf("fabric: service already started")
	}
	if s.closed {
		return ErrClosed
	}

	reqLn, err := s.nctx.listen(reqAddr)
	if err != nil {
		return fmt.Errorf("request listener: %w", err)
	}
	pubLn, err := s.nctx.listen(pubAddr)
	if err != nil {
		reqLn.Close()
		return fmt.Errorf("publish listener: %w", err)
	}

	s.reqLn = reqLn
	s.pubLn = pubLn
	s.started = true

	s.wg.Add(3)
	go s.acceptRequests()
	go s.acceptSubscribers()
	go s.fanOutLoop()

	s.nctx.track(s)
	s.logger.Info("service started",
		"req_addr", reqLn.Addr().String(),
		"pub_addr", pubLn.Addr().String(),
		"devices", len(s.controllers),
	)
	return nil
}

// ReqAddr returns the bound request/reply address.
func (s *Service) ReqAddr() string {
	return s.reqLn.Addr().String()
}

// PubAddr returns the bound publish address.
func (s *Service) PubAddr() string {
	return s.pubLn.Addr().String()
}

// Close stops serving: listeners and all connections are closed and the
// goroutines drained. Safe to call more than once.
func (s *Service) Close() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.stateMu.Unlock()

	s.done.Close()

	// Detach from controllers so publications stop arriving.
	s.ctrlMu.RLock()
	for _, ctrl := range s.controllers {
		ctrl.SetPublisher(nil)
	}
	s.ctrlMu.RUnlock()

	if started {
		s.reqLn.Close()
		s.pubLn.Close()
	}

	s.connMu.Lock()
	for conn := range s.reqConns {
		conn.Close()
	}
	s.connMu.Unlock()

	s.subMu.Lock()
	for sub := range s.subs {
		sub.conn.Close()
	}
	s.subMu.Unlock()

	s.wg.Wait()
	s.nctx.untrack(s)
	s.logger.Info("service stopped")
	return nil
}

// publish is the sink installed on hosted controllers. It never blocks: a
// full central queue drops the publication.
func (s *Service) publish(topic string, payload []byte) {
	select {
	case s.pubCh <- publication{topic: topic, payload: payload}:
	default:
		s.logger.Warn("publish queue full, dropping", "topic", topic)
	}
}

// acceptRequests accepts request/reply connections.
func (s *Service) acceptRequests() {
	defer s.wg.Done()

	for {
		conn, err := s.reqLn.Accept()
		if err != nil {
			select {
			case <-s.done.Done():
			default:
				s.logger.Error("request accept failed", "error", err)
			}
			return
		}

		s.connMu.Lock()
		s.reqConns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go s.serveRequests(conn)
	}
}

// serveRequests handles one request connection: read a request, write the
// reply, repeat. The peer enforces the same alternation, so there is never
// more than one request in flight per connection.
func (s *Service) serveRequests(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.connMu.Lock()
		delete(s.reqConns, conn)
		s.connMu.Unlock()
	}()

	for {
		select {
		case <-s.done.Done():
			return
		default:
		}

		kind, body, err := readMessagePoll(conn, receivePollInterval, s.nctx.RequestTimeout)
		if err != nil {
			if errors.Is(err, errReadIdle) {
				continue
			}
			select {
			case <-s.done.Done():
			default:
				if !errors.Is(err, net.ErrClosed) {
					s.logger.Debug("request connection closed", "error", err)
				}
			}
			return
		}

		reply, err := s.handleRequest(kind, body)
		if err != nil {
			s.logger.Warn("dropping request connection", "error", err)
			return
		}

		if err := conn.SetWriteDeadline(time.Now().Add(s.nctx.RequestTimeout)); err != nil {
			return
		}
		if err := writeMessage(conn, kind, reply); err != nil {
			s.logger.Warn("writing reply failed", "kind", kind, "error", err)
			return
		}
	}
}

// handleRequest dispatches one decoded request to its controller and
// returns the encoded reply body. A non-nil error means a protocol
// violation; the connection is dropped.
func (s *Service) handleRequest(kind string, body []byte) ([]byte, error) {
	var req AttributeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("%w: request body: %w", ErrBadMessage, err)
	}

	s.ctrlMu.RLock()
	ctrl, ok := s.controllers[req.Device]
	s.ctrlMu.RUnlock()

	switch kind {
	case kindCommand:
		if !ok {
			return json.Marshal(control.CommandError("unknown device %q", req.Device))
		}
		return json.Marshal(ctrl.RunCommand(req.Attribute, req.Args, req.Kwargs))

	case kindGet:
		if !ok {
			return json.Marshal(control.PropsError("unknown device %q", req.Device))
		}
		return json.Marshal(ctrl.GetProps(req.Names))

	case kindSet:
		if !ok {
			return json.Marshal(control.PropsError("unknown device %q", req.Device))
		}
		return json.Marshal(ctrl.SetProps(req.Kwargs))

	case kindInterface:
		if !ok {
			return json.Marshal(InterfaceResponse{
				Status: control.StatusError,
				Error:  fmt.Sprintf("unknown device %q", req.Device),
			})
		}
		iface := ctrl.Interface()
		return json.Marshal(InterfaceResponse{
			Status:    control.StatusOK,
			Interface: &iface,
		})

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrBadMessage, kind)
	}
}

// acceptSubscribers accepts publish-endpoint connections.
func (s *Service) acceptSubscribers() {
	defer s.wg.Done()

	for {
		conn, err := s.pubLn.Accept()
		if err != nil {
			select {
			case <-s.done.Done():
			default:
				s.logger.Error("publish accept failed", "error", err)
			}
			return
		}

		sub := &subscriber{
			conn:  conn,
			queue: make(chan publication, subscriberQueueSize),
		}
		s.subMu.Lock()
		s.subs[sub] = struct{}{}
		s.subMu.Unlock()

		s.wg.Add(1)
		go s.serveSubscriber(sub)
	}
}

// serveSubscriber drains one subscriber's queue onto its connection.
func (s *Service) serveSubscriber(sub *subscriber) {
	defer s.wg.Done()
	defer func() {
		sub.conn.Close()
		s.subMu.Lock()
		delete(s.subs, sub)
		s.subMu.Unlock()
	}()

	for {
		select {
		case <-s.done.Done():
			return
		case pub := <-sub.queue:
			if err := sub.conn.SetWriteDeadline(time.Now().Add(s.nctx.RequestTimeout)); err != nil {
				return
			}
			if err := writeMessage(sub.conn, pub.topic, pub.payload); err != nil {
				s.logger.Debug("subscriber write failed, disconnecting", "error", err)
				return
			}
		}
	}
}

// fanOutLoop moves publications from the central queue to every
// subscriber. One goroutine, so subscribers observe publications in
// publish order. A full subscriber queue drops the publication for that
// subscriber only.
func (s *Service) fanOutLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			return
		case pub := <-s.pubCh:
			s.subMu.Lock()
			subs := make([]*subscriber, 0, len(s.subs))
			for sub := range s.subs {
				subs = append(subs, sub)
			}
			s.subMu.Unlock()

			for _, sub := range subs {
				select {
				case sub.queue <- pub:
				default:
					if n := sub.dropped.Add(1); n == 1 || n%100 == 0 {
						s.logger.Warn("slow subscriber, dropping",
							"topic", pub.topic, "dropped_total", n)
					}
				}
			}
		}
	}
}
