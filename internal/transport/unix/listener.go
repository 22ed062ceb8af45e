// Package unix owns the hub's listening socket and the hello handshake.
package unix

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirebus/internal/proto"
	"github.com/vovakirdan/wirebus/internal/wire"
)

// Options configures the listening socket.
type Options struct {
	// Mode is applied to the socket file; zero leaves the umask default.
	Mode os.FileMode
	// HandshakeTimeout bounds the wait for hello; zero waits forever.
	HandshakeTimeout time.Duration
	// Wire carries the socket path and framing limits.
	Wire wire.Options
}

// Listener accepts client connections on the well-known socket path.
//
// Handshakes run on their own goroutines, so a peer that never sends hello
// holds up neither other connections nor Close.
type Listener struct {
	opts Options
	path string
	ln   *net.UnixListener
	log  *zerolog.Logger

	results   chan accepted
	closed    chan struct{}
	startOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	pending map[net.Conn]struct{}

	closeOnce sync.Once
	closeErr  error
}

type accepted struct {
	ch  *wire.Channel
	err error
}

// Listen removes a stale socket file, binds the path and applies the file mode.
func Listen(opts Options, logger *zerolog.Logger) (*Listener, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.Wire.Path == "" {
		opts.Wire.Path = proto.DefaultSocketPath
	}

	path, err := filepath.Abs(opts.Wire.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve socket path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)

	if opts.Mode != 0 {
		if err := os.Chmod(path, opts.Mode); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to set socket permissions")
		}
	}

	opts.Wire.Path = path
	listenLog := logger.With().Str("component", "listener").Str("path", path).Logger()
	return &Listener{
		opts:    opts,
		path:    path,
		ln:      ln,
		log:     &listenLog,
		results: make(chan accepted),
		closed:  make(chan struct{}),
		pending: make(map[net.Conn]struct{}),
	}, nil
}

// Path returns the absolute socket path.
func (l *Listener) Path() string {
	return l.path
}

// Accept returns the next connection whose peer completed the hello handshake.
// The returned channel is labeled with the name the peer announced. Handshake
// failures come back as *wire.ProtocolError and the connection is already closed.
// After Close it returns net.ErrClosed.
func (l *Listener) Accept() (*wire.Channel, error) {
	l.startOnce.Do(l.start)

	select {
	case r := <-l.results:
		return r.ch, r.err
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *Listener) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return
	}
	l.wg.Add(1)
	go l.acceptLoop()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			if !l.deliver(accepted{err: err}) {
				return
			}
			continue
		}

		if !l.track(conn) {
			_ = conn.Close()
			return
		}
		go func() {
			defer l.wg.Done()

			ch, err := l.handshake(conn)
			l.untrack(conn)
			if err != nil {
				_ = conn.Close()
				l.deliver(accepted{err: err})
				return
			}
			if !l.deliver(accepted{ch: ch}) {
				_ = ch.ShutDown()
			}
		}()
	}
}

// deliver hands r to Accept. It returns false once the listener is closed.
func (l *Listener) deliver(r accepted) bool {
	select {
	case l.results <- r:
		return true
	case <-l.closed:
		return false
	}
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// track registers a connection still in its handshake and counts its goroutine.
// It refuses once the listener is closed.
func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return false
	}
	l.pending[conn] = struct{}{}
	l.wg.Add(1)
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, conn)
}

func (l *Listener) handshake(conn net.Conn) (*wire.Channel, error) {
	if l.opts.HandshakeTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(l.opts.HandshakeTimeout)); err != nil {
			return nil, fmt.Errorf("set handshake deadline: %w", err)
		}
	}

	ch := wire.FromConn(conn, l.opts.Wire)
	frame, err := ch.Receive()
	if err != nil {
		return nil, &wire.ProtocolError{Code: wire.ErrCodeBadHandshake, Message: "read hello: " + err.Error()}
	}
	if frame.ID != proto.IDHello {
		return nil, &wire.ProtocolError{
			Code:    wire.ErrCodeBadHandshake,
			Message: "expected hello, got " + proto.IDName(frame.ID),
		}
	}
	switch frame.Recipient {
	case "":
		return nil, &wire.ProtocolError{Code: wire.ErrCodeBadHandshake, Message: "hello without a client name"}
	case proto.Broadcast:
		return nil, &wire.ProtocolError{Code: wire.ErrCodeBadHandshake, Message: "client name " + proto.Broadcast + " is reserved for broadcast"}
	}

	if l.opts.HandshakeTimeout > 0 {
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, fmt.Errorf("clear handshake deadline: %w", err)
		}
	}

	ch.SetName(frame.Recipient)
	l.log.Debug().Str("conn_id", ch.ID()).Str("client", frame.Recipient).Msg("handshake complete")
	return ch, nil
}

// Close stops accepting, drops connections still in their handshake and removes
// the socket file. It returns once every handshake goroutine has exited.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.closeErr = l.ln.Close()
		if errors.Is(l.closeErr, net.ErrClosed) {
			l.closeErr = nil
		}

		l.mu.Lock()
		pending := l.pending
		l.pending = nil
		l.mu.Unlock()
		for conn := range pending {
			_ = conn.Close()
		}

		l.wg.Wait()
	})
	return l.closeErr
}
