package face

import (
	"time"

	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/ndn"
	mgmt "github.com/named-data/ndnd/std/ndn/mgmt_2022"
	spec "github.com/named-data/ndnd/std/ndn/spec_2022"
	sig "github.com/named-data/ndnd/std/security/signer"
	"github.com/named-data/ndnd/std/types/optional"

	"github.com/named-data/appface/sched"
	"github.com/named-data/appface/transport"
)

// DummyFace is a Face over an in-memory transport with a manual clock,
// for tests. Outgoing packets are decoded into SentInterests, SentData
// and SentNacks; inbound packets are injected with the Receive methods.
// An optional registration responder answers RIB commands with status
// 200, playing the forwarder's role.
type DummyFace struct {
	*Face
	Transport *transport.DummyTransport
	Clock     *sched.ManualClock

	SentInterests []ndn.Interest
	SentData      []ndn.Data
	SentNacks     []Nack

	registrationReply  bool
	registrationFaceId uint64
}

func NewDummyFace() *DummyFace {
	tr := transport.NewDummyTransport()
	clk := sched.NewManualClock()
	return &DummyFace{
		Face:      New(tr, clk),
		Transport: tr,
		Clock:     clk,
	}
}

// EnableRegistrationReply makes the dummy forwarder acknowledge RIB
// commands. faceId fills responses that carry no face id themselves.
func (d *DummyFace) EnableRegistrationReply(faceId uint64) {
	d.registrationReply = true
	d.registrationFaceId = faceId
}

// ReceiveData injects a Data packet as if sent by the forwarder.
func (d *DummyFace) ReceiveData(data *ndn.EncodedData) error {
	return d.Transport.Feed(data.Wire.Join())
}

// ReceiveInterest injects an Interest packet.
func (d *DummyFace) ReceiveInterest(interest *ndn.EncodedInterest) error {
	return d.Transport.Feed(interest.Wire.Join())
}

// ReceiveNack injects a Nack for the given encoded Interest.
func (d *DummyFace) ReceiveNack(reason uint64, interest *ndn.EncodedInterest) error {
	lp := &spec.Packet{
		LpPacket: &spec.LpPacket{
			Nack:     &spec.NetworkNack{Reason: reason},
			Fragment: interest.Wire,
		},
	}
	encoder := spec.PacketEncoder{}
	encoder.Init(lp)
	wire := encoder.Encode(lp)
	if wire == nil {
		return ndn.ErrFailedToEncode
	}
	return d.Transport.Feed(wire.Join())
}

// ProcessEvents advances the clock by dur, then drains the event loop
// until it goes idle, collecting every packet sent along the way.
func (d *DummyFace) ProcessEvents(dur time.Duration) {
	if dur > 0 {
		fired := make(chan struct{})
		ok := d.post(func() {
			d.sched.Advance(d.Clock.Advance(dur))
			close(fired)
		})
		if ok {
			<-fired
		}
	}
	for {
		d.drain()
		if !d.collect() {
			return
		}
	}
}

// drain blocks until the loop has consumed every queued frame and task.
func (d *DummyFace) drain() {
	for {
		idle := make(chan bool, 1)
		if !d.post(func() { idle <- len(d.inQueue) == 0 && len(d.tasks) == 0 }) {
			return
		}
		if <-idle {
			return
		}
	}
}

// collect decodes the packets sent since the last call. It returns true
// when the registration responder injected a reply that the loop still
// has to process.
func (d *DummyFace) collect() bool {
	injected := false
	for _, frame := range d.Transport.Sent() {
		if d.classify(frame) {
			injected = true
		}
	}
	return injected
}

func (d *DummyFace) classify(frame enc.Buffer) bool {
	pkt, _, err := spec.ReadPacket(enc.NewBufferView(frame))
	if err != nil {
		return false
	}

	raw := enc.Wire{frame}
	var nackReason = spec.NackReasonNone
	hasNack := false

	if pkt.LpPacket != nil {
		lpPkt := pkt.LpPacket
		raw = lpPkt.Fragment
		pkt, _, err = spec.ReadPacket(enc.NewWireView(raw))
		if err != nil {
			return false
		}
		if lpPkt.Nack != nil {
			hasNack = true
			nackReason = lpPkt.Nack.Reason
		}
	}

	switch {
	case hasNack && pkt.Interest != nil:
		d.SentNacks = append(d.SentNacks, Nack{
			Reason:   nackReason,
			Interest: pkt.Interest,
			Wire:     raw,
		})
	case pkt.Interest != nil:
		d.SentInterests = append(d.SentInterests, pkt.Interest)
		if d.registrationReply {
			return d.replyRegistration(pkt.Interest)
		}
	case pkt.Data != nil:
		d.SentData = append(d.SentData, pkt.Data)
	}
	return false
}

var ribCommandPrefix = enc.Name{
	enc.LOCALHOST,
	enc.NewGenericComponent("nfd"),
	enc.NewGenericComponent("rib"),
}

// replyRegistration answers a RIB command Interest with status 200.
func (d *DummyFace) replyRegistration(interest ndn.Interest) bool {
	name := interest.Name()
	if len(name) < 5 || !ribCommandPrefix.IsPrefix(name) {
		return false
	}

	args := &mgmt.ControlArgs{}
	switch name[3].String() {
	case "announce":
		// The announced name comes from the announcement object carried
		// in the ApplicationParameters. The face id ought to derive
		// from the incoming packet tag; 555 stands in for it.
		ann, _, err := spec.Spec{}.ReadData(enc.NewWireView(interest.AppParam()))
		if err != nil || len(ann.Name()) < 3 {
			return false
		}
		args.Name = ann.Name()[:len(ann.Name())-3]
		args.FaceId = optional.Some(uint64(555))
		args.Origin = optional.Some(uint64(mgmt.RouteOriginPrefixAnn))
		args.Cost = optional.Some(uint64(2048))
		args.Flags = optional.Some(uint64(mgmt.RouteFlagChildInherit))

	default:
		params, err := mgmt.ParseControlParameters(enc.NewBufferView(name[4].Val), false)
		if err != nil || params.Val == nil {
			return false
		}
		args = params.Val
		if !args.FaceId.IsSet() {
			args.FaceId = optional.Some(d.registrationFaceId)
		}
		if !args.Origin.IsSet() {
			args.Origin = optional.Some(uint64(mgmt.RouteOriginApp))
		}
		if !args.Cost.IsSet() && name[3].String() == "register" {
			args.Cost = optional.Some(uint64(0))
		}
	}

	res := &mgmt.ControlResponse{
		Val: &mgmt.ControlResponseVal{
			StatusCode: 200,
			StatusText: "OK",
			Params:     args,
		},
	}
	data, err := spec.Spec{}.MakeData(name, &ndn.DataConfig{
		ContentType: optional.Some(ndn.ContentTypeBlob),
		Freshness:   optional.Some(1 * time.Second),
	}, res.Encode(), sig.NewSha256Signer())
	if err != nil {
		return false
	}
	return d.Transport.Feed(data.Wire.Join()) == nil
}
