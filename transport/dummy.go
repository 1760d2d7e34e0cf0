package transport

import (
	"fmt"
	"sync"

	enc "github.com/named-data/ndnd/std/encoding"
)

// DummyTransport is an in-memory transport for tests. Sent packets
// accumulate in an inspectable queue; inbound packets are injected with
// Feed. A DummyTransport may additionally be attached to a Bus, which
// fans every sent packet out to all other members.
type DummyTransport struct {
	baseTransport
	mut      sync.Mutex
	sentPkts []enc.Buffer
	bus      *Bus
}

func NewDummyTransport() *DummyTransport {
	return &DummyTransport{
		baseTransport: newBaseTransport(true),
	}
}

func (t *DummyTransport) String() string {
	return "dummy-transport"
}

func (t *DummyTransport) Connect() error {
	if t.State() != Closed {
		return fmt.Errorf("transport is already connected")
	}
	if t.onPkt == nil || t.onError == nil {
		return fmt.Errorf("transport callbacks are not set")
	}
	t.setState(Running)
	return nil
}

func (t *DummyTransport) Close() error {
	t.setState(Closed)
	return nil
}

func (t *DummyTransport) Send(pkt enc.Wire) error {
	if s := t.State(); s != Running && s != Paused {
		return fmt.Errorf("transport is not connected")
	}
	t.mut.Lock()
	t.sentPkts = append(t.sentPkts, pkt.Join())
	t.mut.Unlock()

	if t.bus != nil {
		t.bus.broadcast(t, pkt.Join())
	}
	return nil
}

// Feed injects one TLV element as if it arrived from the forwarder.
func (t *DummyTransport) Feed(frame []byte) error {
	if s := t.State(); s != Running && s != Paused {
		return fmt.Errorf("transport is not connected")
	}
	t.deliver(frame)
	return nil
}

// Sent drains and returns the packets sent so far.
func (t *DummyTransport) Sent() []enc.Buffer {
	t.mut.Lock()
	defer t.mut.Unlock()
	pkts := t.sentPkts
	t.sentPkts = nil
	return pkts
}

// Bus is an in-memory broadcast link between DummyTransports: every
// packet sent by one member is fed to all other members.
type Bus struct {
	mut     sync.Mutex
	members []*DummyTransport
}

func NewBus() *Bus {
	return &Bus{}
}

// Attach adds a transport to the bus.
func (b *Bus) Attach(t *DummyTransport) {
	b.mut.Lock()
	defer b.mut.Unlock()
	t.bus = b
	b.members = append(b.members, t)
}

func (b *Bus) broadcast(from *DummyTransport, frame []byte) {
	b.mut.Lock()
	members := make([]*DummyTransport, len(b.members))
	copy(members, b.members)
	b.mut.Unlock()

	for _, m := range members {
		if m == from {
			continue
		}
		if s := m.State(); s == Running || s == Paused {
			m.deliver(frame)
		}
	}
}
