package fabric

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payload := []byte(`{"device":"laser0"}`)
	if err := writeFrame(&buf, payload); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
}

func TestFrameEmpty(t *testing.T) {
	var buf bytes.Buffer

	if err := writeFrame(&buf, nil); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	got, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("payload = %v, want empty", got)
	}
}

func TestReadFrameSizeGuard(t *testing.T) {
	// A corrupt length prefix must be rejected before allocation.
	var buf bytes.Buffer
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], maxFrameSize+1)
	buf.Write(header[:])

	if _, err := readFrame(&buf); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestWriteFrameSizeGuard(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, make([]byte, maxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	if err := writeMessage(&buf, kindGet, []byte(`{"device":"d"}`)); err != nil {
		t.Fatalf("writeMessage: %v", err)
	}

	kind, body, err := readMessage(&buf)
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if kind != kindGet {
		t.Errorf("kind = %q, want %q", kind, kindGet)
	}
	if string(body) != `{"device":"d"}` {
		t.Errorf("body = %q", body)
	}
}

func TestReadMessageTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrame(&buf, []byte(kindGet)); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	// Second frame missing entirely.
	if _, _, err := readMessage(&buf); !errors.Is(err, ErrBadMessage) {
		t.Fatalf("err = %v, want ErrBadMessage", err)
	}
}

func TestReadMessagePollIdleKeepsStreamAligned(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Nothing sent: the poll times out without consuming a byte.
	if _, _, err := readMessagePoll(server, 50*time.Millisecond, time.Second); !errors.Is(err, errReadIdle) {
		t.Fatalf("err = %v, want errReadIdle", err)
	}

	// The stream is still aligned, so the next message reads cleanly.
	go func() {
		//nolint:errcheck // Failure surfaces on the reading side.
		writeMessage(client, "probe0/properties", []byte(`{"status":"ok"}`))
	}()

	topic, payload, err := readMessagePoll(server, time.Second, time.Second)
	if err != nil {
		t.Fatalf("readMessagePoll after idle: %v", err)
	}
	if topic != "probe0/properties" || string(payload) != `{"status":"ok"}` {
		t.Errorf("message = %q %q", topic, payload)
	}
}

func TestReadMessagePollMidMessageStallIsFatal(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Half a frame header, then silence. Continuing to poll here would
	// read later bytes as a fresh header, so the error must not be the
	// idle sentinel.
	go func() {
		//nolint:errcheck // Failure surfaces on the reading side.
		client.Write([]byte{0x00, 0x00})
	}()

	_, _, err := readMessagePoll(server, time.Second, 100*time.Millisecond)
	if err == nil {
		t.Fatal("stalled mid-message read reported success")
	}
	if errors.Is(err, errReadIdle) {
		t.Fatalf("stalled mid-message read returned the idle sentinel: %v", err)
	}
}
