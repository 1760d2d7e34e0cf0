package transport

import (
	"fmt"
	"io"
	"net"

	enc "github.com/named-data/ndnd/std/encoding"
	ndn_io "github.com/named-data/ndnd/std/utils/io"
)

// StreamTransport connects to the forwarder over a stream socket
// (unix or tcp).
type StreamTransport struct {
	baseTransport
	network string
	addr    string
	conn    net.Conn
}

// NewUnixTransport creates a transport over a Unix stream socket.
func NewUnixTransport(addr string) *StreamTransport {
	return NewStreamTransport("unix", addr, true)
}

func NewStreamTransport(network string, addr string, local bool) *StreamTransport {
	return &StreamTransport{
		baseTransport: newBaseTransport(local),
		network:       network,
		addr:          addr,
	}
}

func (t *StreamTransport) String() string {
	return fmt.Sprintf("stream-transport (%s://%s)", t.network, t.addr)
}

func (t *StreamTransport) Connect() error {
	if t.State() != Closed {
		return fmt.Errorf("transport is already connected")
	}
	if t.onPkt == nil || t.onError == nil {
		return fmt.Errorf("transport callbacks are not set")
	}

	t.setState(Connecting)
	c, err := net.Dial(t.network, t.addr)
	if err != nil {
		t.setState(Closed)
		return err
	}

	t.conn = c
	t.setState(Running)
	go t.receive()

	return nil
}

func (t *StreamTransport) Close() error {
	if t.State() == Closed {
		return nil
	}
	t.setState(Closed)
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *StreamTransport) Send(pkt enc.Wire) error {
	if s := t.State(); s != Running && s != Paused {
		return fmt.Errorf("transport is not connected")
	}

	t.sendMut.Lock()
	defer t.sendMut.Unlock()

	_, err := t.conn.Write(pkt.Join())
	return err
}

func (t *StreamTransport) receive() {
	err := ndn_io.ReadTlvStream(t.conn, func(b []byte) bool {
		t.deliver(b)
		return t.State() != Closed
	}, nil)

	if t.State() != Closed {
		t.setState(Closed)
		if err != nil {
			t.onError(err)
		} else {
			t.onError(io.EOF)
		}
	}
}
