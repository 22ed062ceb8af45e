// Package client connects an application to the hub and keeps it connected.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirebus/internal/proto"
	"github.com/vovakirdan/wirebus/internal/wire"
)

const (
	DefaultReconnectDelay   = time.Second
	DefaultWaitPollInterval = 10 * time.Millisecond
)

// Options configures a Client.
type Options struct {
	Wire             wire.Options
	ReconnectDelay   time.Duration
	WaitPollInterval time.Duration
	// Clock drives reconnect and roster-poll sleeps. Nil means the wall clock.
	Clock clock.Clock
}

// DefaultOptions returns options pointing at the default hub socket.
func DefaultOptions() Options {
	return Options{
		Wire:             wire.DefaultOptions(),
		ReconnectDelay:   DefaultReconnectDelay,
		WaitPollInterval: DefaultWaitPollInterval,
	}
}

// Client is one participant on the bus.
//
// Send may be called from any goroutine. Listen or Run must be driven by a single
// goroutine at a time.
type Client struct {
	opts   Options
	clock  clock.Clock
	ch     *wire.Channel
	roster *Roster
	log    *zerolog.Logger

	state atomic.Int32

	// sendMu serializes writers; the receive path never takes it.
	sendMu sync.Mutex

	// lifeMu orders Connect against Shutdown.
	lifeMu       sync.Mutex
	shuttingDown bool
	name         string
	done         chan struct{}
}

// New creates a disconnected client.
func New(opts Options, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.WaitPollInterval <= 0 {
		opts.WaitPollInterval = DefaultWaitPollInterval
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	clientLog := logger.With().Str("component", "client").Logger()
	return &Client{
		opts:   opts,
		clock:  clk,
		ch:     wire.New(opts.Wire),
		roster: NewRoster(),
		log:    &clientLog,
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// setState moves to next unless the client is already shutting down.
func (c *Client) setState(next State) {
	for {
		cur := c.state.Load()
		if State(cur) == StateShuttingDown {
			return
		}
		if c.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

// Name returns the name used by the last Connect, as the hub knows it.
func (c *Client) Name() string {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.name
}

// Roster returns the sorted names of the peers the hub last reported.
func (c *Client) Roster() []string {
	return c.roster.Names()
}

// HasPeer reports whether name is in the roster. Names longer than the wire
// allows are matched by the prefix the hub keeps.
func (c *Client) HasPeer(name string) bool {
	return c.roster.Has(c.ch.Layout().TruncateName(name))
}

func (c *Client) isShuttingDown() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Connect dials the hub and announces name. A previous connection is replaced.
// The name is cut to what fits the recipient field; Name reports the result.
func (c *Client) Connect(name string) error {
	name = c.ch.Layout().TruncateName(name)
	if name == "" {
		return ErrEmptyName
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.shuttingDown {
		return ErrShuttingDown
	}
	c.name = name
	c.setState(StateConnecting)

	if err := c.ch.Connect(); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.sendMu.Lock()
	err := c.ch.Send(proto.IDHello, nil, name)
	c.sendMu.Unlock()
	if err != nil {
		_ = c.ch.ShutDown()
		c.setState(StateDisconnected)
		return fmt.Errorf("send hello: %w", err)
	}

	c.setState(StateListening)
	c.log.Debug().Str("client", name).Str("conn_id", c.ch.ID()).Msg("connected to hub")
	return nil
}

// Send forwards payload to recipient through the hub. Errors are returned as is; the
// caller decides whether to retry.
func (c *Client) Send(id uint32, payload []byte, recipient string) error {
	if proto.IsReserved(id) {
		return ErrReservedID
	}
	if c.isShuttingDown() {
		return ErrShuttingDown
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.ch.Send(id, payload, recipient)
}

// SendAll broadcasts payload to every other client.
func (c *Client) SendAll(id uint32, payload []byte) error {
	return c.Send(id, payload, proto.Broadcast)
}

// Listen receives on the current connection until it breaks or h returns false.
// Protocol frames update the roster and are not passed to h.
func (c *Client) Listen(h Handler) error {
	for {
		frame, err := c.ch.Receive()
		if err != nil {
			if wire.IsProtocolError(err) {
				c.log.Warn().Err(err).Msg("frame discarded")
				continue
			}
			return err
		}

		if proto.IsReserved(frame.ID) {
			c.handleSystem(frame)
			continue
		}
		if !h.HandleMessage(frame.ID, frame.Payload) {
			return ErrStopped
		}
	}
}

func (c *Client) handleSystem(frame proto.Frame) {
	switch frame.ID {
	case proto.IDRosterUpdate:
		c.roster.Replace(proto.DecodeRoster(frame.Payload))
		c.log.Debug().Strs("roster", c.roster.Names()).Msg("roster updated")
	case proto.IDHello:
		c.roster.Add(announcedName(frame))
	case proto.IDGoodbye:
		c.roster.Remove(announcedName(frame))
	default:
		c.log.Debug().Str("id", proto.IDName(frame.ID)).Msg("ignoring system frame")
	}
}

// announcedName reads the peer name from a hello or goodbye: the recipient field
// when set, otherwise the NUL-terminated payload.
func announcedName(frame proto.Frame) string {
	if frame.Recipient != "" && frame.Recipient != proto.Broadcast {
		return frame.Recipient
	}
	name, _, _ := strings.Cut(string(frame.Payload), "\x00")
	return name
}

// Run connects as name and listens, reconnecting after ReconnectDelay whenever the
// connection ends, until autoReconnect is false, Shutdown is called or ctx is done.
//
// Run returns nil when stopped by Shutdown, ctx or the handler. Without autoReconnect
// it returns the error that ended the only session.
func (c *Client) Run(ctx context.Context, name string, h Handler, autoReconnect bool) error {
	for {
		if c.isShuttingDown() || ctx.Err() != nil {
			return nil
		}

		err := c.session(ctx, name, h)
		c.roster.Clear()
		c.setState(StateDisconnected)

		if c.isShuttingDown() || ctx.Err() != nil {
			return nil
		}
		if !autoReconnect {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}

		c.log.Debug().Err(err).Dur("retry_in", c.opts.ReconnectDelay).Msg("disconnected from hub")
		if !c.sleep(ctx, c.opts.ReconnectDelay) {
			return nil
		}
	}
}

// session runs one connect-and-listen cycle and always leaves the channel closed.
func (c *Client) session(ctx context.Context, name string, h Handler) error {
	if err := c.Connect(name); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = c.ch.ShutDown() })
	defer stop()

	err := c.Listen(h)
	if cerr := c.ch.ShutDown(); cerr != nil {
		c.log.Debug().Err(cerr).Msg("close connection")
	}
	return err
}

// sleep waits d on the client clock. It returns false if interrupted.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := c.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// WaitForClient blocks until name shows up in the roster. Like HasPeer it
// matches over-long names by their truncated form.
func (c *Client) WaitForClient(ctx context.Context, name string) error {
	name = c.ch.Layout().TruncateName(name)
	ticker := c.clock.Ticker(c.opts.WaitPollInterval)
	defer ticker.Stop()

	for {
		if c.roster.Has(name) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-c.done:
			return ErrShuttingDown
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Shutdown stops reconnecting, says goodbye if the connection is idle and closes it.
// A blocked Listen returns. Further calls are no-ops.
func (c *Client) Shutdown() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.shuttingDown {
		return nil
	}
	c.shuttingDown = true
	close(c.done)
	c.setState(StateShuttingDown)

	// A sender blocked on a stalled hub must not hold up shutdown.
	if c.ch.IsConnected() && c.sendMu.TryLock() {
		if err := c.ch.Send(proto.IDGoodbye, nil, c.name); err != nil {
			c.log.Debug().Err(err).Msg("goodbye not sent")
		}
		c.sendMu.Unlock()
	}

	c.roster.Clear()
	return c.ch.ShutDown()
}
