// Package transport abstracts the bidirectional byte link between the
// Face and an NDN forwarder. Implementations deliver exactly one TLV
// element per receive callback.
package transport

import enc "github.com/named-data/ndnd/std/encoding"

// State is the connection state of a Transport.
type State int32

const (
	// Closed means no connection is established.
	Closed State = iota
	// Connecting means a connection attempt is in progress.
	Connecting
	// Running means frames flow in both directions.
	Running
	// Paused means the transport holds inbound frames until Resume.
	Paused
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Transport is the capability set the Face requires from a link.
//
// OnPacket and OnError must be set before Connect. The receive callback
// is invoked with a single TLV element per call, from the transport's
// reader goroutine.
type Transport interface {
	// String returns the log identifier.
	String() string
	// IsLocal returns true if the forwarder runs on this host.
	IsLocal() bool
	// State returns the current connection state.
	State() State
	// OnPacket sets the callback for received TLV elements.
	OnPacket(onPkt func(frame []byte))
	// OnError sets the callback for fatal transport errors.
	OnError(onError func(err error))
	// Connect establishes the connection and starts receiving.
	Connect() error
	// Send writes one encoded packet.
	Send(pkt enc.Wire) error
	// Pause suspends delivery of inbound frames; frames received while
	// paused are buffered.
	Pause()
	// Resume delivers any buffered frames and resumes delivery.
	Resume()
	// Close tears the connection down.
	Close() error
}
