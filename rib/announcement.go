package rib

import (
	"time"

	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/ndn"
	spec "github.com/named-data/ndnd/std/ndn/spec_2022"
	"github.com/named-data/ndnd/std/types/optional"
)

// TLV-TYPE of the ExpirationPeriod element inside a prefix announcement.
const typeExpirationPeriod = 0x6D

// Announcement describes a prefix announcement object: a signed Data
// packet named /<prefix>/32=PA/v=<version>/seg=0 whose content carries
// the expiration period, with the validity period in the SignatureInfo.
type Announcement struct {
	Prefix     enc.Name
	Expiration time.Duration
	NotBefore  optional.Optional[time.Time]
	NotAfter   optional.Optional[time.Time]
}

// Encode builds and signs the announcement Data and returns its wire.
func (a Announcement) Encode(signer ndn.Signer, version uint64) (enc.Wire, error) {
	name := a.Prefix.Append(
		enc.NewStringComponent(enc.TypeKeywordNameComponent, "PA"),
		enc.NewVersionComponent(version),
		enc.NewSegmentComponent(0),
	)

	cfg := &ndn.DataConfig{
		ContentType:  optional.Some(ndn.ContentTypePrefixAnnouncement),
		SigNotBefore: a.NotBefore,
		SigNotAfter:  a.NotAfter,
	}

	expiry := enc.Nat(uint64(a.Expiration.Milliseconds())).Bytes()
	content := enc.Wire{appendTLV(nil, typeExpirationPeriod, expiry)}

	data, err := spec.Spec{}.MakeData(name, cfg, content, signer)
	if err != nil {
		return nil, err
	}
	return data.Wire, nil
}

func appendTLV(buf enc.Buffer, typ enc.TLNum, val []byte) enc.Buffer {
	tl := make(enc.Buffer, typ.EncodingLength()+enc.TLNum(len(val)).EncodingLength())
	pos := typ.EncodeInto(tl)
	enc.TLNum(len(val)).EncodeInto(tl[pos:])
	buf = append(buf, tl...)
	return append(buf, val...)
}
