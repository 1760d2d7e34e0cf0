// Package appface assembles an application Face over the transport
// chosen by configuration, environment or the caller.
package appface

import (
	"fmt"
	"net/url"

	"github.com/named-data/appface/face"
	"github.com/named-data/appface/transport"
)

// NewFace creates a Face over a caller-supplied transport. A transport
// given here wins over both configuration and environment.
func NewFace(t transport.Transport) *face.Face {
	return face.New(t, nil)
}

// NewUnixFace creates a Face connected to a local forwarder socket.
func NewUnixFace(addr string) *face.Face {
	return face.New(transport.NewUnixTransport(addr), nil)
}

// NewDefaultFace creates a Face over the transport selected by the
// client configuration, with the NDN_CLIENT_TRANSPORT environment
// variable taking precedence.
func NewDefaultFace() (*face.Face, error) {
	config := GetClientConfig()

	uri, err := url.Parse(config.TransportUri)
	if err != nil {
		return nil, fmt.Errorf("invalid transport URI %q: %w", config.TransportUri, err)
	}

	switch uri.Scheme {
	case "unix":
		return NewUnixFace(uri.Path), nil
	case "tcp", "tcp4", "tcp6":
		return face.New(transport.NewStreamTransport(uri.Scheme, uri.Host, false), nil), nil
	case "ws", "wss":
		return face.New(transport.NewWebSocketTransport(config.TransportUri, false), nil), nil
	default:
		return nil, fmt.Errorf("unsupported transport scheme %q", uri.Scheme)
	}
}
