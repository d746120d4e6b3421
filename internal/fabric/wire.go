package fabric

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/openrig/rigcore/internal/capability"
	"github.com/openrig/rigcore/internal/control"
)

// Wire format: every message is two length-prefixed frames. On the request
// connection the frames are [kind, body]; on the publish connection they are
// [topic, payload]. A frame is a uint32 big-endian byte count followed by
// that many bytes.
const (
	// maxFrameSize bounds a single frame. Large enough for a sensor frame,
	// small enough that a corrupt length prefix cannot exhaust memory.
	maxFrameSize = 16 << 20

	// frameHeaderSize is the length prefix width.
	frameHeaderSize = 4
)

// Request kinds. The reply reuses the request's kind.
const (
	kindCommand   = "command"
	kindGet       = "get"
	kindSet       = "set"
	kindInterface = "interface"
)

// AttributeRequest is the JSON body of every request message.
//
// The fields used depend on the kind:
//   - command: Attribute names the command, Args/Kwargs carry parameters.
//   - get: Names lists the properties to read (empty means all).
//   - set: Kwargs carries the property values to write.
//   - interface: only Device is consulted.
type AttributeRequest struct {
	// ID correlates request and reply in logs. Generated per request.
	ID string `json:"id,omitempty"`

	Device    string         `json:"device"`
	Attribute string         `json:"attribute,omitempty"`
	Args      []any          `json:"args,omitempty"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	Names     []string       `json:"names,omitempty"`
}

// InterfaceResponse is the tagged reply body for interface requests.
type InterfaceResponse struct {
	Status    control.Status        `json:"status"`
	Interface *capability.Interface `json:"interface,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// OK reports whether the interface request succeeded.
func (r InterfaceResponse) OK() bool {
	return r.Status == control.StatusOK
}

// writeFrame writes one length-prefixed frame.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame, enforcing the size guard
// before allocating the payload buffer.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	return readFramePayload(r, header)
}

// readFrameLead reads one frame whose first header byte was already
// consumed by the caller.
func readFrameLead(r io.Reader, lead byte) ([]byte, error) {
	var header [frameHeaderSize]byte
	header[0] = lead
	if _, err := io.ReadFull(r, header[1:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	return readFramePayload(r, header)
}

// readFramePayload reads the body of a frame whose header is complete.
func readFramePayload(r io.Reader, header [frameHeaderSize]byte) ([]byte, error) {
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// writeMessage writes one two-frame message.
func writeMessage(w io.Writer, first string, second []byte) error {
	if err := writeFrame(w, []byte(first)); err != nil {
		return err
	}
	return writeFrame(w, second)
}

// readMessage reads one two-frame message.
func readMessage(r io.Reader) (first string, second []byte, err error) {
	head, err := readFrame(r)
	if err != nil {
		return "", nil, err
	}
	body, err := readFrame(r)
	if err != nil {
		return "", nil, fmt.Errorf("%w: message truncated after %q: %w", ErrBadMessage, head, err)
	}
	return string(head), body, nil
}

// errReadIdle reports that no message arrived within the poll window.
// Nothing was consumed from the stream, so the framing is still aligned
// and the caller may poll again.
var errReadIdle = errors.New("fabric: no message within poll window")

// readMessagePoll waits up to poll for the start of a message, then reads
// the whole message under a deadline of wait.
//
// Only the very first byte is read under the poll deadline: a timeout
// there returns errReadIdle with the stream intact. A timeout after any
// byte of the message was consumed would leave the length-prefixed stream
// desynchronized, so from that point on a timeout is an ordinary fatal
// read error and the caller must drop the connection.
func readMessagePoll(conn net.Conn, poll, wait time.Duration) (first string, second []byte, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(poll)); err != nil {
		return "", nil, err
	}

	var lead [1]byte
	if _, err := io.ReadFull(conn, lead[:]); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", nil, errReadIdle
		}
		return "", nil, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return "", nil, err
	}

	head, err := readFrameLead(conn, lead[0])
	if err != nil {
		return "", nil, err
	}
	body, err := readFrame(conn)
	if err != nil {
		return "", nil, fmt.Errorf("%w: message truncated after %q: %w", ErrBadMessage, head, err)
	}
	return string(head), body, nil
}
