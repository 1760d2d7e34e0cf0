package face

import (
	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/ndn"
	spec "github.com/named-data/ndnd/std/ndn/spec_2022"
	"github.com/named-data/ndnd/std/types/optional"
)

// Tags are the per-packet fields that cross the link as NDNLP headers.
// On send, set fields become header fields; on receive, header fields
// are materialized back into Tags.
type Tags struct {
	// NextHopFaceId asks the forwarder to send through a given face.
	// Meaningful on outgoing Interests only.
	NextHopFaceId optional.Optional[uint64]
	// IncomingFaceId reports the face a packet arrived on. Receive only.
	IncomingFaceId optional.Optional[uint64]
	// CongestionMark carries the congestion level. Any packet type.
	CongestionMark optional.Optional[uint64]
	// CachePolicy instructs caches along the path. Data only.
	CachePolicy optional.Optional[uint64]
}

// Nack pairs an Interest with a rejection reason. Reasons order by
// severity: Congestion < Duplicate < NoRoute.
type Nack struct {
	Reason   uint64
	Interest ndn.Interest
	// Wire is the encoding of the nacked Interest.
	Wire enc.Wire
	Tags Tags
}

// lessSevere reports whether reason a is less severe than b.
// An unset reason compares as most severe.
func lessSevere(a, b uint64) bool {
	if a == spec.NackReasonNone {
		return false
	}
	if b == spec.NackReasonNone {
		return true
	}
	return a < b
}

// finishEncoding wraps wire into an NDNLP packet when lp carries any
// header field, and enforces the packet size limit.
func finishEncoding(lp *spec.LpPacket, wire enc.Wire, kind byte, name enc.Name) (enc.Wire, error) {
	out := wire
	if lp != nil {
		lp.Fragment = wire
		pkt := &spec.Packet{LpPacket: lp}
		encoder := spec.PacketEncoder{}
		encoder.Init(pkt)
		out = encoder.Encode(pkt)
		if out == nil {
			return nil, ndn.ErrFailedToEncode
		}
	}
	if size := int(out.Length()); size > ndn.MaxNDNPacketSize {
		return nil, OversizedPacketError{Kind: kind, Name: name, Size: size}
	}
	return out, nil
}

// encodeInterestLp encodes an outgoing Interest, copying the
// NextHopFaceId and CongestionMark tags into NDNLP headers.
func encodeInterestLp(wire enc.Wire, tags Tags, name enc.Name) (enc.Wire, error) {
	var lp *spec.LpPacket
	if tags.NextHopFaceId.IsSet() || tags.CongestionMark.IsSet() {
		lp = &spec.LpPacket{
			NextHopFaceId:  tags.NextHopFaceId,
			CongestionMark: tags.CongestionMark,
		}
	}
	return finishEncoding(lp, wire, 'I', name)
}

// encodeDataLp encodes an outgoing Data, copying the CachePolicy and
// CongestionMark tags into NDNLP headers.
func encodeDataLp(wire enc.Wire, tags Tags, name enc.Name) (enc.Wire, error) {
	var lp *spec.LpPacket
	if tags.CachePolicy.IsSet() || tags.CongestionMark.IsSet() {
		lp = &spec.LpPacket{
			CongestionMark: tags.CongestionMark,
		}
		if policy, ok := tags.CachePolicy.Get(); ok {
			lp.CachePolicy = &spec.CachePolicy{CachePolicyType: policy}
		}
	}
	return finishEncoding(lp, wire, 'D', name)
}

// encodeNackLp encodes an outgoing Nack. The Nack header is mandatory,
// so the packet is always NDNLP-wrapped.
func encodeNackLp(nack Nack, name enc.Name) (enc.Wire, error) {
	lp := &spec.LpPacket{
		Nack:           &spec.NetworkNack{Reason: nack.Reason},
		CongestionMark: nack.Tags.CongestionMark,
	}
	return finishEncoding(lp, nack.Wire, 'N', name)
}
