package transport

import (
	"sync"
	"sync/atomic"
)

// baseTransport carries the state machine, callbacks and pause buffering
// shared by all transport implementations.
type baseTransport struct {
	state   atomic.Int32
	local   bool
	onPkt   func(frame []byte)
	onError func(err error)
	sendMut sync.Mutex

	recvMut sync.Mutex
	backlog [][]byte
}

func newBaseTransport(local bool) baseTransport {
	return baseTransport{local: local}
}

func (t *baseTransport) IsLocal() bool {
	return t.local
}

func (t *baseTransport) State() State {
	return State(t.state.Load())
}

func (t *baseTransport) setState(s State) {
	t.state.Store(int32(s))
}

func (t *baseTransport) OnPacket(onPkt func(frame []byte)) {
	t.onPkt = onPkt
}

func (t *baseTransport) OnError(onError func(err error)) {
	t.onError = onError
}

// deliver hands one frame to the receive callback, or buffers it while
// the transport is paused.
func (t *baseTransport) deliver(frame []byte) {
	t.recvMut.Lock()
	if t.State() == Paused {
		held := make([]byte, len(frame))
		copy(held, frame)
		t.backlog = append(t.backlog, held)
		t.recvMut.Unlock()
		return
	}
	t.recvMut.Unlock()
	t.onPkt(frame)
}

func (t *baseTransport) Pause() {
	t.state.CompareAndSwap(int32(Running), int32(Paused))
}

func (t *baseTransport) Resume() {
	if !t.state.CompareAndSwap(int32(Paused), int32(Running)) {
		return
	}
	t.recvMut.Lock()
	held := t.backlog
	t.backlog = nil
	t.recvMut.Unlock()
	for _, frame := range held {
		t.onPkt(frame)
	}
}
