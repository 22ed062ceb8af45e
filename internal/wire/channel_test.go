package wire

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vovakirdan/wirebus/internal/proto"
)

// socketPath returns a short path; sun_path is limited to ~104 bytes on some systems.
func socketPath(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "wb")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "hub.sock")
}

// connectedPair dials a throwaway listener and returns the client and server ends.
func connectedPair(t *testing.T, opts Options) (*Channel, *Channel) {
	t.Helper()

	opts.Path = socketPath(t)
	ln, err := net.Listen("unix", opts.Path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client := New(opts)
	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = client.ShutDown() })

	conn, ok := <-accepted
	if !ok {
		t.Fatalf("accept failed")
	}
	server := FromConn(conn, opts)
	t.Cleanup(func() { _ = server.ShutDown() })

	return client, server
}

func receiveAsync(ch *Channel) <-chan result {
	out := make(chan result, 1)
	go func() {
		frame, err := ch.Receive()
		out <- result{frame: frame, err: err}
	}()
	return out
}

type result struct {
	frame proto.Frame
	err   error
}

func mustResult(t *testing.T, ch <-chan result) result {
	t.Helper()

	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("receive did not return")
		return result{}
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	client, server := connectedPair(t, DefaultOptions())

	big := bytes.Repeat([]byte{0xAB}, 256<<10)
	cases := []proto.Frame{
		{ID: 50, Recipient: "B", Payload: []byte("hi")},
		{ID: proto.UserIDBase, Recipient: proto.Broadcast, Payload: big},
		{ID: 7, Recipient: "", Payload: []byte{}},
	}

	go func() {
		for _, f := range cases {
			if err := client.Send(f.ID, f.Payload, f.Recipient); err != nil {
				t.Errorf("send: %v", err)
				return
			}
		}
	}()

	for _, want := range cases {
		got, err := server.Receive()
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if got.ID != want.ID || got.Recipient != want.Recipient || !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("got id=%d recipient=%q len=%d, want id=%d recipient=%q len=%d",
				got.ID, got.Recipient, len(got.Payload), want.ID, want.Recipient, len(want.Payload))
		}
	}
}

func TestReceiveOversizedFrameIsRecoverable(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPayloadSize = 16
	client, server := connectedPair(t, opts)

	// The sender enforces the same limit, so write the oversized frame by hand.
	raw := client.Layout().AppendHeader(proto.Header{ID: 60, Size: 32, Recipient: "x"})
	raw = append(raw, bytes.Repeat([]byte{1}, 32)...)
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()
	if _, err := conn.Write(raw); err != nil {
		t.Fatalf("raw write: %v", err)
	}
	if err := client.Send(61, []byte("ok"), "x"); err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err := server.Receive()
	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Code != ErrCodePayloadTooLarge {
		t.Fatalf("expected payload_too_large, got %v", err)
	}

	frame, err := server.Receive()
	if err != nil {
		t.Fatalf("receive after violation: %v", err)
	}
	if frame.ID != 61 || string(frame.Payload) != "ok" {
		t.Fatalf("unexpected frame after violation: %+v", frame)
	}
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxPayloadSize = 4
	client, _ := connectedPair(t, opts)

	err := client.Send(50, []byte("too long"), "x")
	if !IsProtocolError(err) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	ch := New(DefaultOptions())
	if ch.IsConnected() {
		t.Fatalf("new channel reports connected")
	}
	if err := ch.Send(50, nil, "x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := ch.Receive(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectRefused(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = socketPath(t)
	ch := New(opts)

	if err := ch.Connect(); err == nil {
		t.Fatalf("expected connect error without a listener")
	}
	if ch.IsConnected() {
		t.Fatalf("channel reports connected after refused dial")
	}
}

func TestShutDownUnblocksReceive(t *testing.T) {
	client, _ := connectedPair(t, DefaultOptions())

	pending := receiveAsync(client)
	time.Sleep(20 * time.Millisecond)

	if err := client.ShutDown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	r := mustResult(t, pending)
	if !errors.Is(r.err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", r.err)
	}
	if client.IsConnected() {
		t.Fatalf("channel still connected after shutdown")
	}
	if err := client.ShutDown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	if err := client.Send(50, nil, "x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send after shutdown: %v", err)
	}
}

func TestPeerHangupBetweenFrames(t *testing.T) {
	client, server := connectedPair(t, DefaultOptions())

	pending := receiveAsync(server)
	_ = client.ShutDown()

	r := mustResult(t, pending)
	if !errors.Is(r.err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", r.err)
	}
}

func TestPeerHangupMidFrame(t *testing.T) {
	client, server := connectedPair(t, DefaultOptions())

	header := client.Layout().AppendHeader(proto.Header{ID: 50, Size: 100, Recipient: "x"})
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()
	if _, err := conn.Write(append(header, []byte("short")...)); err != nil {
		t.Fatalf("raw write: %v", err)
	}
	_ = client.ShutDown()

	_, err := server.Receive()
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestReconnectReplacesEndpoint(t *testing.T) {
	client, _ := connectedPair(t, DefaultOptions())

	ln, err := net.Listen("unix", client.opts.Path+"2")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		if conn, err := ln.Accept(); err == nil {
			defer conn.Close()
			_, _ = io.Copy(io.Discard, conn)
		}
	}()

	client.mu.RLock()
	old := client.conn
	client.mu.RUnlock()

	client.opts.Path += "2"
	if err := client.Connect(); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if _, err := old.Write([]byte{0}); err == nil {
		t.Fatalf("previous endpoint is still open")
	}
	if !client.IsConnected() {
		t.Fatalf("not connected after reconnect")
	}
}

func TestNameIsSetOnce(t *testing.T) {
	ch := New(DefaultOptions())
	ch.SetName("alice")
	ch.SetName("mallory")
	if ch.Name() != "alice" {
		t.Fatalf("name = %q", ch.Name())
	}
	if !ch.Equal(ch) || ch.Equal(New(DefaultOptions())) {
		t.Fatalf("equality must follow identity")
	}
}
