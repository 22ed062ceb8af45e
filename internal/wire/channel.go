// Package wire frames messages on top of a connected Unix stream socket.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/vovakirdan/wirebus/internal/proto"
	"github.com/vovakirdan/wirebus/internal/utils"
)

const readBufferSize = 64 << 10

// Options configures framing limits and the hub address used by Connect.
type Options struct {
	Path           string
	MaxPayloadSize uint32
	NameFieldSize  int
}

// DefaultOptions returns the protocol defaults.
func DefaultOptions() Options {
	return Options{
		Path:           proto.DefaultSocketPath,
		MaxPayloadSize: proto.DefaultMaxPayloadSize,
		NameFieldSize:  proto.DefaultNameFieldSize,
	}
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = proto.DefaultSocketPath
	}
	if o.MaxPayloadSize == 0 {
		o.MaxPayloadSize = proto.DefaultMaxPayloadSize
	}
	if o.NameFieldSize == 0 {
		o.NameFieldSize = proto.DefaultNameFieldSize
	}
	return o
}

// Channel is one framed connection between a client and the hub.
//
// A channel tolerates one goroutine sending while another receives. Two concurrent
// senders (or receivers) must be serialized by the caller.
type Channel struct {
	id     string
	opts   Options
	layout proto.Layout

	mu        sync.RWMutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool
	shutDown  bool
	name      string
}

// New returns an unconnected channel; call Connect to reach the hub.
func New(opts Options) *Channel {
	opts = opts.withDefaults()
	return &Channel{
		id:     utils.NewID(),
		opts:   opts,
		layout: proto.Layout{NameFieldSize: opts.NameFieldSize},
	}
}

// FromConn wraps an already connected endpoint, typically one returned by Accept.
func FromConn(conn net.Conn, opts Options) *Channel {
	c := New(opts)
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, readBufferSize)
	c.connected = true
	return c
}

// ID returns the connection id used in logs.
func (c *Channel) ID() string {
	return c.id
}

// Name returns the peer's self-declared name, empty until the handshake.
func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// SetName labels the channel. Only the first non-empty name sticks.
func (c *Channel) SetName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name == "" {
		c.name = name
	}
}

// Equal reports whether both values refer to the same endpoint.
func (c *Channel) Equal(other *Channel) bool {
	return c == other
}

// IsConnected reports the last known connection state without doing I/O.
func (c *Channel) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Layout returns the frame layout in use.
func (c *Channel) Layout() proto.Layout {
	return c.layout
}

func (c *Channel) String() string {
	if name := c.Name(); name != "" {
		return name + "#" + c.id
	}
	return "#" + c.id
}

// Connect dials the hub. Any previous endpoint is closed first.
func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.connected = false

	conn, err := net.Dial("unix", c.opts.Path)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.Path, err)
	}

	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, readBufferSize)
	c.connected = true
	c.shutDown = false
	return nil
}

// Send writes one frame. Header and payload go out in a single vectored write.
func (c *Channel) Send(id uint32, payload []byte, recipient string) error {
	c.mu.RLock()
	conn, live := c.conn, c.connected && !c.shutDown
	c.mu.RUnlock()

	if conn == nil || !live {
		return ErrNotConnected
	}
	if uint64(len(payload)) > uint64(c.opts.MaxPayloadSize) {
		return protocolError(ErrCodePayloadTooLarge,
			fmt.Sprintf("payload of %d bytes exceeds limit of %d", len(payload), c.opts.MaxPayloadSize))
	}

	header := c.layout.AppendHeader(proto.Header{
		ID:        id,
		Size:      uint32(len(payload)),
		Recipient: recipient,
	})
	bufs := net.Buffers{header, payload}
	if _, err := bufs.WriteTo(conn); err != nil {
		return &TransportError{Op: "send " + proto.IDName(id), Err: err}
	}
	return nil
}

// Receive blocks until a whole frame has arrived.
//
// It returns ErrClosed when the peer hangs up between frames or the channel is shut down,
// and *TransportError when the stream breaks mid-frame. An oversized frame is drained
// and reported as *ProtocolError; the channel can keep receiving afterwards.
func (c *Channel) Receive() (proto.Frame, error) {
	c.mu.RLock()
	conn, r := c.conn, c.reader
	c.mu.RUnlock()

	if conn == nil {
		return proto.Frame{}, ErrNotConnected
	}

	buf := make([]byte, c.layout.HeaderSize())
	if _, err := io.ReadFull(r, buf); err != nil {
		return proto.Frame{}, c.readError(conn, "receive header", err, false)
	}
	header := c.layout.ParseHeader(buf)

	if header.Size > c.opts.MaxPayloadSize {
		if _, err := io.CopyN(io.Discard, r, int64(header.Size)); err != nil {
			return proto.Frame{}, c.readError(conn, "discard payload", err, true)
		}
		return proto.Frame{ID: header.ID, Recipient: header.Recipient}, protocolError(ErrCodePayloadTooLarge,
			fmt.Sprintf("%s frame declares %d bytes, limit is %d", proto.IDName(header.ID), header.Size, c.opts.MaxPayloadSize))
	}

	payload := make([]byte, header.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return proto.Frame{}, c.readError(conn, "receive payload", err, true)
	}

	return proto.Frame{ID: header.ID, Recipient: header.Recipient, Payload: payload}, nil
}

// readError classifies a failed read. midFrame is set once the header has been consumed.
func (c *Channel) readError(conn net.Conn, op string, err error, midFrame bool) error {
	c.mu.Lock()
	current := c.conn == conn
	wasShutDown := !current || c.shutDown
	if current {
		c.connected = false
	}
	c.mu.Unlock()

	if wasShutDown || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	if errors.Is(err, io.EOF) {
		if !midFrame {
			return ErrClosed
		}
		err = io.ErrUnexpectedEOF
	}
	return &TransportError{Op: op, Err: err}
}

// ShutDown closes the endpoint. A goroutine blocked in Receive returns ErrClosed.
// It is safe to call more than once and concurrently with Receive.
func (c *Channel) ShutDown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.shutDown {
		return nil
	}
	c.shutDown = true
	c.connected = false

	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close %s: %w", c.id, err)
	}
	return nil
}
