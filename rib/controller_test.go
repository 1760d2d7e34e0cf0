package rib_test

import (
	"testing"
	"time"

	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/ndn"
	mgmt "github.com/named-data/ndnd/std/ndn/mgmt_2022"
	spec "github.com/named-data/ndnd/std/ndn/spec_2022"
	sig "github.com/named-data/ndnd/std/security/signer"
	"github.com/named-data/ndnd/std/types/optional"
	tu "github.com/named-data/ndnd/std/utils/testutils"
	"github.com/stretchr/testify/require"

	"github.com/named-data/appface/rib"
	"github.com/named-data/appface/sched"
)

type expressed struct {
	interest *ndn.EncodedInterest
	callback ndn.ExpressCallbackFunc
}

// fakeSender records command Interests so tests can answer them.
type fakeSender struct {
	exprs []expressed
}

func (s *fakeSender) Express(interest *ndn.EncodedInterest, callback ndn.ExpressCallbackFunc) error {
	s.exprs = append(s.exprs, expressed{interest, callback})
	return nil
}

func makeController(t *testing.T) (*rib.Controller, *fakeSender) {
	tu.SetT(t)
	sender := &fakeSender{}
	return rib.NewController(sender, sched.NewManualClock(), true), sender
}

// replyWith answers the i-th expressed command with a signed
// ControlResponse Data carrying the given status.
func replyWith(t *testing.T, sender *fakeSender, i int, code uint64, text string) {
	res := &mgmt.ControlResponse{
		Val: &mgmt.ControlResponseVal{StatusCode: code, StatusText: text},
	}
	encoded, err := spec.Spec{}.MakeData(sender.exprs[i].interest.FinalName,
		&ndn.DataConfig{ContentType: optional.Some(ndn.ContentTypeBlob)},
		res.Encode(), sig.NewSha256Signer())
	require.NoError(t, err)

	data, sigCovered, err := spec.Spec{}.ReadData(enc.NewWireView(encoded.Wire))
	require.NoError(t, err)

	sender.exprs[i].callback(ndn.ExpressCallbackArgs{
		Result:     ndn.InterestResultData,
		Data:       data,
		RawData:    encoded.Wire,
		SigCovered: sigCovered,
	})
}

func TestCommandSuccess(t *testing.T) {
	ctrl, sender := makeController(t)

	prefix := tu.NoErr(enc.NameFromStr("/Hello/World"))
	okCnt := 0
	ctrl.Start("rib", "register", &mgmt.ControlArgs{Name: prefix}, rib.CommandOptions{},
		func(val *mgmt.ControlResponseVal) {
			okCnt++
			require.Equal(t, uint64(200), val.StatusCode)
		},
		func(err error) { require.FailNow(t, "command failed", "err: %v", err) })

	require.Len(t, sender.exprs, 1)
	name := sender.exprs[0].interest.FinalName
	require.True(t, tu.NoErr(enc.NameFromStr("/localhost/nfd/rib/register")).IsPrefix(name))

	replyWith(t, sender, 0, 200, "OK")
	require.Equal(t, 1, okCnt)
}

func TestCommandFailureSurfaced(t *testing.T) {
	ctrl, sender := makeController(t)

	var failure error
	ctrl.Start("rib", "register", &mgmt.ControlArgs{Name: tu.NoErr(enc.NameFromStr("/A"))},
		rib.CommandOptions{},
		func(val *mgmt.ControlResponseVal) { require.FailNow(t, "must not succeed") },
		func(err error) { failure = err })

	replyWith(t, sender, 0, 403, "authorization rejected")

	var cmdErr rib.CommandFailure
	require.ErrorAs(t, failure, &cmdErr)
	require.Equal(t, uint64(403), cmdErr.Code)
	require.Equal(t, "authorization rejected", cmdErr.Text)
}

func TestCommandTimeoutRetries(t *testing.T) {
	ctrl, sender := makeController(t)

	okCnt := 0
	ctrl.Start("rib", "register", &mgmt.ControlArgs{Name: tu.NoErr(enc.NameFromStr("/A"))},
		rib.CommandOptions{Retries: 2},
		func(val *mgmt.ControlResponseVal) { okCnt++ },
		func(err error) { require.FailNow(t, "command failed", "err: %v", err) })

	require.Len(t, sender.exprs, 1)
	sender.exprs[0].callback(ndn.ExpressCallbackArgs{Result: ndn.InterestResultTimeout})
	require.Len(t, sender.exprs, 2)

	replyWith(t, sender, 1, 200, "OK")
	require.Equal(t, 1, okCnt)
}

func TestCommandTimeoutExhausted(t *testing.T) {
	ctrl, sender := makeController(t)

	var failure error
	ctrl.Start("rib", "unregister", &mgmt.ControlArgs{Name: tu.NoErr(enc.NameFromStr("/A"))},
		rib.CommandOptions{Retries: 1},
		func(val *mgmt.ControlResponseVal) { require.FailNow(t, "must not succeed") },
		func(err error) { failure = err })

	sender.exprs[0].callback(ndn.ExpressCallbackArgs{Result: ndn.InterestResultTimeout})
	require.Len(t, sender.exprs, 2)
	sender.exprs[1].callback(ndn.ExpressCallbackArgs{Result: ndn.InterestResultTimeout})

	require.ErrorIs(t, failure, ndn.ErrDeadlineExceed)
	require.Len(t, sender.exprs, 2)
}

func TestCommandNack(t *testing.T) {
	ctrl, sender := makeController(t)

	var failure error
	ctrl.Start("rib", "register", &mgmt.ControlArgs{Name: tu.NoErr(enc.NameFromStr("/A"))},
		rib.CommandOptions{},
		func(val *mgmt.ControlResponseVal) { require.FailNow(t, "must not succeed") },
		func(err error) { failure = err })

	sender.exprs[0].callback(ndn.ExpressCallbackArgs{
		Result:     ndn.InterestResultNack,
		NackReason: spec.NackReasonNoRoute,
	})
	require.ErrorIs(t, failure, ndn.ErrNetwork)
}

func TestAnnouncementEncode(t *testing.T) {
	tu.SetT(t)

	ann := rib.Announcement{
		Prefix:     tu.NoErr(enc.NameFromStr("/Hello/World")),
		Expiration: 1 * time.Hour,
	}
	wire, err := ann.Encode(sig.NewSha256Signer(), 1234)
	require.NoError(t, err)

	data, _, err := spec.Spec{}.ReadData(enc.NewWireView(wire))
	require.NoError(t, err)

	name := data.Name()
	require.Len(t, name, 5)
	require.True(t, ann.Prefix.IsPrefix(name))
	require.Equal(t, enc.TypeKeywordNameComponent, name[2].Typ)
	require.Equal(t, "PA", string(name[2].Val))
	require.Equal(t, uint64(1234), name[3].NumberVal())
	require.Equal(t, ndn.ContentTypePrefixAnnouncement, data.ContentType().Unwrap())

	// Content is a single ExpirationPeriod TLV in milliseconds.
	content := data.Content().Join()
	require.Equal(t, byte(0x6D), content[0])
}

func TestStartAnnounceCommand(t *testing.T) {
	ctrl, sender := makeController(t)

	okCnt := 0
	ctrl.StartAnnounce(rib.Announcement{
		Prefix:     tu.NoErr(enc.NameFromStr("/Hello")),
		Expiration: time.Minute,
	}, rib.CommandOptions{},
		func(val *mgmt.ControlResponseVal) { okCnt++ },
		func(err error) { require.FailNow(t, "announce failed", "err: %v", err) })

	require.Len(t, sender.exprs, 1)
	interest := sender.exprs[0].interest
	require.True(t, tu.NoErr(enc.NameFromStr("/localhost/nfd/rib/announce")).IsPrefix(interest.FinalName))

	replyWith(t, sender, 0, 200, "OK")
	require.Equal(t, 1, okCnt)
}
