package core

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vovakirdan/wirebus/internal/proto"
	unixtransport "github.com/vovakirdan/wirebus/internal/transport/unix"
	"github.com/vovakirdan/wirebus/internal/wire"
)

const testWait = 2 * time.Second

type testHub struct {
	*Hub
	path string

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan error
	stopErr  error
}

func startHub(t testing.TB, opts Options, wireOpts wire.Options) *testHub {
	t.Helper()

	dir, err := os.MkdirTemp("", "wb")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	wireOpts.Path = filepath.Join(dir, "hub.sock")

	ln, err := unixtransport.Listen(unixtransport.Options{Wire: wireOpts}, nil)
	if err != nil {
		_ = os.RemoveAll(dir)
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	th := &testHub{
		Hub:    NewHub(opts, nil),
		path:   ln.Path(),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { th.done <- th.Run(ctx, ln) }()

	t.Cleanup(func() {
		if err := th.stop(); err != nil {
			t.Errorf("hub stop: %v", err)
		}
		_ = os.RemoveAll(dir)
	})
	return th
}

func (th *testHub) stop() error {
	th.stopOnce.Do(func() {
		th.cancel()
		select {
		case th.stopErr = <-th.done:
		case <-time.After(testWait):
			th.stopErr = context.DeadlineExceeded
		}
	})
	return th.stopErr
}

// peer is a raw protocol client with a reader goroutine feeding frames.
type peer struct {
	name   string
	ch     *wire.Channel
	frames chan proto.Frame
}

func connectPeer(t testing.TB, th *testHub, name string) *peer {
	t.Helper()
	return connectPeerWith(t, th, name, wire.DefaultOptions())
}

func connectPeerWith(t testing.TB, th *testHub, name string, opts wire.Options) *peer {
	t.Helper()

	opts.Path = th.path
	ch := wire.New(opts)
	if err := ch.Connect(); err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	if err := ch.Send(proto.IDHello, nil, name); err != nil {
		t.Fatalf("hello %s: %v", name, err)
	}

	p := &peer{name: name, ch: ch, frames: make(chan proto.Frame, 4096)}
	go func() {
		defer close(p.frames)
		for {
			frame, err := ch.Receive()
			if err != nil {
				if wire.IsProtocolError(err) {
					continue
				}
				return
			}
			p.frames <- frame
		}
	}()
	t.Cleanup(func() { _ = ch.ShutDown() })
	return p
}

func (p *peer) send(t testing.TB, id uint32, payload string, recipient string) {
	t.Helper()
	if err := p.ch.Send(id, []byte(payload), recipient); err != nil {
		t.Fatalf("%s send: %v", p.name, err)
	}
}

// nextUser returns the next non-system frame, skipping roster updates.
func (p *peer) nextUser(t testing.TB) proto.Frame {
	t.Helper()

	deadline := time.After(testWait)
	for {
		select {
		case frame, ok := <-p.frames:
			if !ok {
				t.Fatalf("%s: connection closed while waiting for a frame", p.name)
			}
			if proto.IsReserved(frame.ID) {
				continue
			}
			return frame
		case <-deadline:
			t.Fatalf("%s: no frame received", p.name)
			return proto.Frame{}
		}
	}
}

// waitRoster consumes roster updates until one lists exactly want.
func (p *peer) waitRoster(t testing.TB, want ...string) {
	t.Helper()

	want = slices.Clone(want)
	slices.Sort(want)

	var last []string
	deadline := time.After(testWait)
	for {
		select {
		case frame, ok := <-p.frames:
			if !ok {
				t.Fatalf("%s: connection closed while waiting for roster %v", p.name, want)
			}
			if frame.ID != proto.IDRosterUpdate {
				continue
			}
			last = proto.DecodeRoster(frame.Payload)
			slices.Sort(last)
			if slices.Equal(last, want) {
				return
			}
		case <-deadline:
			t.Fatalf("%s: roster never became %v, last seen %v", p.name, want, last)
			return
		}
	}
}

func (p *peer) expectNoUserFrame(t testing.TB, wait time.Duration) {
	t.Helper()

	deadline := time.After(wait)
	for {
		select {
		case frame, ok := <-p.frames:
			if !ok {
				return
			}
			if !proto.IsReserved(frame.ID) {
				t.Fatalf("%s: unexpected frame id=%d recipient=%q payload=%q",
					p.name, frame.ID, frame.Recipient, frame.Payload)
			}
		case <-deadline:
			return
		}
	}
}

// waitClosed blocks until the hub has dropped the peer's connection.
func (p *peer) waitClosed(t testing.TB) {
	t.Helper()

	deadline := time.After(testWait)
	for {
		select {
		case _, ok := <-p.frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("%s: connection still open", p.name)
		}
	}
}

func joinAll(t testing.TB, th *testHub, names ...string) []*peer {
	t.Helper()

	peers := make([]*peer, 0, len(names))
	for _, name := range names {
		peers = append(peers, connectPeer(t, th, name))
	}
	for _, p := range peers {
		p.waitRoster(t, names...)
	}
	return peers
}

func eventually(t testing.TB, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// metricValue reads a counter or gauge without labels from g.
func metricValue(t testing.TB, g prometheus.Gatherer, name string) float64 {
	t.Helper()

	families, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	return 0
}
