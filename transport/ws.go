package transport

import (
	"fmt"

	"github.com/gorilla/websocket"
	enc "github.com/named-data/ndnd/std/encoding"
)

// WebSocketTransport connects to a forwarder's WebSocket listener.
type WebSocketTransport struct {
	baseTransport
	url  string
	conn *websocket.Conn
}

func NewWebSocketTransport(url string, local bool) *WebSocketTransport {
	return &WebSocketTransport{
		baseTransport: newBaseTransport(local),
		url:           url,
	}
}

func (t *WebSocketTransport) String() string {
	return fmt.Sprintf("websocket-transport (%s)", t.url)
}

func (t *WebSocketTransport) Connect() error {
	if t.State() != Closed {
		return fmt.Errorf("transport is already connected")
	}
	if t.onPkt == nil || t.onError == nil {
		return fmt.Errorf("transport callbacks are not set")
	}

	t.setState(Connecting)
	c, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		t.setState(Closed)
		return err
	}

	t.conn = c
	t.setState(Running)
	go t.receive()

	return nil
}

func (t *WebSocketTransport) Close() error {
	if t.State() == Closed {
		return nil
	}
	t.setState(Closed)
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *WebSocketTransport) Send(pkt enc.Wire) error {
	if s := t.State(); s != Running && s != Paused {
		return fmt.Errorf("transport is not connected")
	}

	t.sendMut.Lock()
	defer t.sendMut.Unlock()

	return t.conn.WriteMessage(websocket.BinaryMessage, pkt.Join())
}

func (t *WebSocketTransport) receive() {
	for t.State() != Closed {
		messageType, pkt, err := t.conn.ReadMessage()
		if err != nil {
			if t.State() != Closed {
				t.setState(Closed)
				t.onError(err)
			}
			return
		}

		// A WebSocket message carries exactly one TLV element.
		if messageType != websocket.BinaryMessage {
			continue
		}
		t.deliver(pkt)
	}
}
