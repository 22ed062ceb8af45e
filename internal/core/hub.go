package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/vovakirdan/wirebus/internal/proto"
	"github.com/vovakirdan/wirebus/internal/wire"
)

const maxAcceptDelay = time.Second

// Acceptor hands the hub connections whose peers already sent hello.
// A *wire.ProtocolError from Accept means one connection was rejected; the hub keeps going.
type Acceptor interface {
	Accept() (*wire.Channel, error)
	Close() error
}

// Options configures a hub.
type Options struct {
	QueueCapacity int
}

// Hub relays frames between connected clients.
//
// One goroutine accepts connections, one receiver goroutine per connection feeds the
// queue, and a single router drains it, so messages are forwarded in arrival order.
type Hub struct {
	registry *Registry
	queue    *Queue
	metrics  *Metrics
	log      *zerolog.Logger

	running   atomic.Bool
	receivers sync.WaitGroup
	router    sync.WaitGroup
}

// NewHub creates a hub with its own registry, queue and metrics.
func NewHub(opts Options, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	hubLog := logger.With().Str("component", "hub").Logger()

	queue := NewQueue(opts.QueueCapacity)
	return &Hub{
		registry: NewRegistry(),
		queue:    queue,
		metrics:  newMetrics(queue),
		log:      &hubLog,
	}
}

// Registry returns the live connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Clients returns the names of the registered clients.
func (h *Hub) Clients() []string {
	return h.registry.Names()
}

// QueueLen returns the number of messages waiting for the router.
func (h *Hub) QueueLen() int {
	return h.queue.Len()
}

// Gatherer exposes the hub metrics.
func (h *Hub) Gatherer() prometheus.Gatherer {
	return h.metrics.Gatherer()
}

// Run starts the router and accepts connections until ctx is cancelled.
// Accept failures are logged and retried; they never end the loop.
// On return every connection is closed and all hub goroutines have exited.
func (h *Hub) Run(ctx context.Context, acceptor Acceptor) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	h.router.Add(1)
	go func() {
		defer h.router.Done()
		h.route()
	}()

	stop := context.AfterFunc(ctx, func() {
		if err := acceptor.Close(); err != nil {
			h.log.Warn().Err(err).Msg("close acceptor")
		}
	})
	defer stop()

	h.log.Info().Int("queue_capacity", h.queue.Cap()).Msg("hub listening")
	h.acceptLoop(ctx, acceptor)

	return h.teardown()
}

func (h *Hub) acceptLoop(ctx context.Context, acceptor Acceptor) {
	var delay time.Duration
	for {
		ch, err := acceptor.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if wire.IsProtocolError(err) {
				h.metrics.rejected.Inc()
				h.log.Warn().Err(err).Msg("connection rejected")
				continue
			}

			delay = nextAcceptDelay(delay)
			h.log.Error().Err(err).Dur("retry_in", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		delay = 0
		h.admit(ch)
	}
}

func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return 5 * time.Millisecond
	}
	if prev *= 2; prev > maxAcceptDelay {
		return maxAcceptDelay
	}
	return prev
}

// admit registers a freshly accepted channel, announces it, and starts its receiver.
func (h *Hub) admit(ch *wire.Channel) {
	h.registry.Add(ch)
	h.metrics.accepted.Inc()
	h.metrics.connections.Inc()

	h.log.Info().
		Str("conn_id", ch.ID()).
		Str("client", ch.Name()).
		Int("clients", h.registry.Len()).
		Msg("client connected")

	h.announce()

	h.receivers.Add(1)
	go h.serve(ch)
}

// announce queues a roster update. The payload is built by the router at delivery time,
// so every update reflects the registry as it is when it goes out.
func (h *Hub) announce() {
	if err := h.queue.Push(rosterUpdate()); err != nil {
		h.log.Debug().Err(err).Msg("roster update not queued")
	}
}

// serve is the receiver goroutine of one connection. It owns the channel and is the
// only place that unregisters it.
func (h *Hub) serve(ch *wire.Channel) {
	defer h.receivers.Done()

	connLog := h.log.With().Str("conn_id", ch.ID()).Str("client", ch.Name()).Logger()

	err := h.receive(ch, &connLog)
	switch {
	case err == nil:
		connLog.Debug().Msg("client said goodbye")
	case errors.Is(err, wire.ErrClosed), errors.Is(err, ErrQueueClosed):
		connLog.Debug().Err(err).Msg("connection closed")
	default:
		connLog.Warn().Err(err).Msg("connection lost")
	}

	if h.registry.Remove(ch) {
		h.metrics.connections.Dec()
		connLog.Info().Int("clients", h.registry.Len()).Msg("client disconnected")
	}
	if err := ch.ShutDown(); err != nil {
		connLog.Debug().Err(err).Msg("shutdown channel")
	}

	h.announce()
}

// receive pumps frames from ch into the queue until the connection ends.
// A goodbye ends it cleanly and returns nil.
func (h *Hub) receive(ch *wire.Channel, connLog *zerolog.Logger) error {
	for {
		frame, err := ch.Receive()
		if err != nil {
			if wire.IsProtocolError(err) {
				h.metrics.protocolErrors.Inc()
				connLog.Warn().Err(err).Msg("frame discarded")
				continue
			}
			return err
		}

		if frame.ID == proto.IDGoodbye {
			return nil
		}
		if proto.IsReserved(frame.ID) {
			connLog.Debug().Str("id", proto.IDName(frame.ID)).Msg("ignoring reserved frame from client")
			continue
		}

		h.metrics.received.Inc()
		if err := h.queue.Push(Message{
			Sender:    ch,
			ID:        frame.ID,
			Payload:   frame.Payload,
			Recipient: frame.Recipient,
		}); err != nil {
			return err
		}
	}
}

// route is the single router goroutine.
func (h *Hub) route() {
	for {
		msg, ok := h.queue.Pop()
		if !ok {
			return
		}
		h.dispatch(msg)
	}
}

// dispatch forwards msg to every matching channel of a fresh snapshot. A failed send
// is logged and skipped; that peer's receiver will notice the broken connection.
func (h *Hub) dispatch(msg Message) {
	peers := h.registry.Snapshot()

	payload := msg.Payload
	mode := routeDirect
	switch {
	case msg.isRosterUpdate():
		payload = proto.EncodeRoster(namesOf(peers))
		mode = routeRoster
	case msg.Recipient == proto.Broadcast:
		mode = routeBroadcast
	}
	h.metrics.routed.WithLabelValues(mode).Inc()

	delivered := 0
	for _, peer := range peers {
		if !msg.addressedTo(peer) {
			continue
		}
		if err := peer.Send(msg.ID, payload, msg.Recipient); err != nil {
			h.metrics.deliveryErrors.Inc()
			h.log.Warn().Err(err).
				Str("conn_id", peer.ID()).
				Str("client", peer.Name()).
				Str("id", proto.IDName(msg.ID)).
				Msg("forward failed")
			continue
		}
		delivered++
	}
	h.metrics.delivered.Add(float64(delivered))

	if delivered == 0 && mode == routeDirect {
		h.metrics.unrouted.Inc()
		h.log.Debug().
			Str("id", proto.IDName(msg.ID)).
			Str("recipient", msg.Recipient).
			Msg("no recipient connected, message dropped")
	}
}

// teardown closes every connection, waits for the receivers, then drains and stops the router.
func (h *Hub) teardown() error {
	var err error
	for _, ch := range h.registry.Snapshot() {
		err = multierr.Append(err, ch.ShutDown())
	}
	h.receivers.Wait()

	h.queue.Close()
	h.router.Wait()

	h.log.Info().Msg("hub stopped")
	return err
}
