package face

import (
	"testing"
	"time"

	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/ndn"
	spec "github.com/named-data/ndnd/std/ndn/spec_2022"
	sig "github.com/named-data/ndnd/std/security/signer"
	"github.com/named-data/ndnd/std/types/optional"
	tu "github.com/named-data/ndnd/std/utils/testutils"
	"github.com/stretchr/testify/require"

	"github.com/named-data/appface/sched"
)

func makeTestPit(t *testing.T) (*pitTable, *sched.ManualClock) {
	tu.SetT(t)
	clock := sched.NewManualClock()
	return newPitTable(sched.New(clock)), clock
}

func encodeTestInterest(t *testing.T, name string, config *ndn.InterestConfig) *ndn.EncodedInterest {
	interest, err := spec.Spec{}.MakeInterest(tu.NoErr(enc.NameFromStr(name)), config, nil, nil)
	require.NoError(t, err)
	return interest
}

func encodeTestData(t *testing.T, name string) (ndn.Data, enc.Wire) {
	encoded, err := spec.Spec{}.MakeData(tu.NoErr(enc.NameFromStr(name)),
		&ndn.DataConfig{}, enc.Wire{[]byte("content")}, sig.NewSha256Signer())
	require.NoError(t, err)
	data, _, err := spec.Spec{}.ReadData(enc.NewWireView(encoded.Wire))
	require.NoError(t, err)
	return data, encoded.Wire
}

func TestPitCanBePrefixMatching(t *testing.T) {
	pit, _ := makeTestPit(t)

	exact := encodeTestInterest(t, "/not", &ndn.InterestConfig{})
	prefix := encodeTestInterest(t, "/not", &ndn.InterestConfig{CanBePrefix: true})

	exactHit, prefixHit := 0, 0
	pit.put(pit.records.AllocateId(), exact, func(args ndn.ExpressCallbackArgs) {
		exactHit++
	})
	pit.put(pit.records.AllocateId(), prefix, func(args ndn.ExpressCallbackArgs) {
		prefixHit++
		require.Equal(t, ndn.InterestResultData, args.Result)
	})

	data, raw := encodeTestData(t, "/not/important")
	shouldForward := pit.satisfyData(data, raw, nil)

	require.Equal(t, 0, exactHit)
	require.Equal(t, 1, prefixHit)
	require.False(t, shouldForward)
	require.Equal(t, 1, pit.records.Len())
}

func TestPitImplicitDigestMatching(t *testing.T) {
	pit, _ := makeTestPit(t)

	data, raw := encodeTestData(t, "/digest")
	fullName := data.Name().ToFullName(raw)

	wrongDigest := make([]byte, 32)
	wrongName := data.Name().Append(enc.Component{
		Typ: enc.TypeImplicitSha256DigestComponent,
		Val: wrongDigest,
	})

	goodHit, badHit := 0, 0
	good, err := spec.Spec{}.MakeInterest(fullName, &ndn.InterestConfig{}, nil, nil)
	require.NoError(t, err)
	bad, err := spec.Spec{}.MakeInterest(wrongName, &ndn.InterestConfig{}, nil, nil)
	require.NoError(t, err)

	pit.put(pit.records.AllocateId(), good, func(ndn.ExpressCallbackArgs) { goodHit++ })
	pit.put(pit.records.AllocateId(), bad, func(ndn.ExpressCallbackArgs) { badHit++ })

	pit.satisfyData(data, raw, nil)
	require.Equal(t, 1, goodHit)
	require.Equal(t, 0, badHit)
}

func TestPitTimeoutErasesBeforeCallback(t *testing.T) {
	pit, clock := makeTestPit(t)

	interest := encodeTestInterest(t, "/timeout", &ndn.InterestConfig{
		Lifetime: optional.Some(10 * time.Millisecond),
	})

	hit := 0
	pit.put(pit.records.AllocateId(), interest, func(args ndn.ExpressCallbackArgs) {
		hit++
		require.Equal(t, ndn.InterestResultTimeout, args.Result)
		require.Equal(t, 0, pit.records.Len())
	})

	pit.sched.Advance(clock.Advance(5 * time.Millisecond))
	require.Equal(t, 0, hit)
	pit.sched.Advance(clock.Advance(10 * time.Millisecond))
	require.Equal(t, 1, hit)
}

func TestPitEraseCancelsTimer(t *testing.T) {
	pit, clock := makeTestPit(t)

	interest := encodeTestInterest(t, "/cancel", &ndn.InterestConfig{
		Lifetime: optional.Some(10 * time.Millisecond),
	})
	id := pit.records.AllocateId()
	pit.put(id, interest, func(args ndn.ExpressCallbackArgs) {
		require.FailNow(t, "erased record must not fire")
	})

	pit.erase(id)
	require.Equal(t, 0, pit.sched.Len())
	pit.sched.Advance(clock.Advance(time.Second))
}

func TestPitNackAccumulation(t *testing.T) {
	pit, _ := makeTestPit(t)

	interest := encodeTestInterest(t, "/A", &ndn.InterestConfig{
		Lifetime: optional.Some(time.Second),
	})
	parsed, _, err := spec.Spec{}.ReadInterest(enc.NewWireView(interest.Wire))
	require.NoError(t, err)

	_, entry := pit.insert(parsed, interest.Wire)
	entry.recordForwarding()
	entry.recordForwarding()

	// First destination nacks: the record stays, nothing to send yet.
	out := pit.satisfyNack(Nack{Reason: spec.NackReasonNoRoute, Interest: parsed, Wire: interest.Wire})
	require.Nil(t, out)
	require.Equal(t, 1, pit.records.Len())

	// Second destination completes the accumulator; the least severe
	// reason wins.
	out = pit.satisfyNack(Nack{Reason: spec.NackReasonCongestion, Interest: parsed, Wire: interest.Wire})
	require.NotNil(t, out)
	require.Equal(t, spec.NackReasonCongestion, out.Reason)
	require.Equal(t, 0, pit.records.Len())
}

func TestPitAppNackCallback(t *testing.T) {
	pit, _ := makeTestPit(t)

	interest := encodeTestInterest(t, "/B", &ndn.InterestConfig{
		Lifetime: optional.Some(time.Second),
	})
	parsed, _, err := spec.Spec{}.ReadInterest(enc.NewWireView(interest.Wire))
	require.NoError(t, err)

	hit := 0
	entry := pit.put(pit.records.AllocateId(), interest, func(args ndn.ExpressCallbackArgs) {
		hit++
		require.Equal(t, ndn.InterestResultNack, args.Result)
		require.Equal(t, spec.NackReasonDuplicate, args.NackReason)
	})
	entry.recordForwarding()

	out := pit.satisfyNack(Nack{Reason: spec.NackReasonDuplicate, Interest: parsed, Wire: interest.Wire})
	require.Nil(t, out) // app-origin completion produces no outbound Nack
	require.Equal(t, 1, hit)
}

func TestPitClearFiresNoCallbacks(t *testing.T) {
	pit, clock := makeTestPit(t)

	config := &ndn.InterestConfig{Lifetime: optional.Some(10 * time.Millisecond)}
	for _, name := range []string{"/x", "/y"} {
		pit.put(pit.records.AllocateId(), encodeTestInterest(t, name, config),
			func(args ndn.ExpressCallbackArgs) {
				require.FailNow(t, "cleared record must not fire")
			})
	}

	pit.clear()
	require.Equal(t, 0, pit.records.Len())
	require.Equal(t, 0, pit.sched.Len())
	pit.sched.Advance(clock.Advance(time.Second))
}
