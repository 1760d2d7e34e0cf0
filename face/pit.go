package face

import (
	"bytes"
	"crypto/sha256"
	"time"

	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/ndn"
	spec "github.com/named-data/ndnd/std/ndn/spec_2022"

	"github.com/named-data/appface/container"
	"github.com/named-data/appface/sched"
)

// DefaultInterestLifetime applies when an Interest carries no lifetime.
const DefaultInterestLifetime = 4 * time.Second

// origin tells who created a pending-interest record.
type origin int

const (
	// originApp: expressed by this application; awaits Data/Nack/timeout.
	originApp origin = iota
	// originForwarder: received from the forwarder; tracked only to
	// dispatch to local filters and to collect Nacks to send back.
	originForwarder
)

func (o origin) String() string {
	if o == originApp {
		return "app"
	}
	return "forwarder"
}

// pendingInterest is one record of outstanding Interest state.
type pendingInterest struct {
	// name is the Interest name without any implicit digest component.
	name        enc.Name
	impSha256   []byte
	canBePrefix bool
	mustBeFresh bool
	wire        enc.Wire
	origin      origin
	callback    ndn.ExpressCallbackFunc
	timeout     sched.EventId

	// outRecords counts the destinations this Interest was handed to
	// (the forwarder and/or matching local filters). The record is
	// nacked only once every destination has nacked.
	outRecords  int
	nacked      int
	leastSevere *Nack
}

// recordForwarding notes that the Interest reached one more destination.
func (e *pendingInterest) recordForwarding() {
	e.outRecords++
}

// recordNack folds one Nack into the accumulator. It returns the
// accumulated least-severe Nack once all destinations have nacked, and
// nil while some destination is still outstanding.
func (e *pendingInterest) recordNack(nack Nack) *Nack {
	e.nacked++
	if e.leastSevere == nil || lessSevere(nack.Reason, e.leastSevere.Reason) {
		held := nack
		e.leastSevere = &held
	}
	if e.nacked < e.outRecords {
		return nil
	}
	return e.leastSevere
}

// matchesData implements Interest-to-Data matching: prefix (honoring
// CanBePrefix) and the implicit digest when the Interest carries one.
func (e *pendingInterest) matchesData(data ndn.Data, raw enc.Wire) bool {
	dataName := data.Name()
	if !e.name.IsPrefix(dataName) {
		return false
	}
	if len(e.name) < len(dataName) && !e.canBePrefix {
		return false
	}
	if e.impSha256 != nil {
		if len(e.name) != len(dataName) {
			return false
		}
		h := sha256.New()
		for _, buf := range raw {
			h.Write(buf)
		}
		if !bytes.Equal(e.impSha256, h.Sum(nil)) {
			return false
		}
	}
	return true
}

// matchesNack reports whether an incoming Nack rejects this record's
// Interest: same name and same restrictions.
func (e *pendingInterest) matchesNack(nack Nack) bool {
	return e.name.Equal(nack.Interest.Name()) &&
		e.canBePrefix == nack.Interest.CanBePrefix() &&
		e.mustBeFresh == nack.Interest.MustBeFresh()
}

// pitTable correlates outstanding Interests with Data, Nacks and timer
// firings. All methods run on the Face event loop.
type pitTable struct {
	records *container.Table[pendingInterest]
	sched   *sched.Scheduler
}

func newPitTable(s *sched.Scheduler) *pitTable {
	return &pitTable{
		records: container.New[pendingInterest](),
		sched:   s,
	}
}

// put inserts an app-origin record under a pre-allocated id and arms
// its timeout. The timeout erases the record before invoking the
// callback, so the callback may immediately re-express.
func (t *pitTable) put(id container.RecordId, interest *ndn.EncodedInterest,
	callback ndn.ExpressCallbackFunc) *pendingInterest {

	name := interest.FinalName
	var impSha256 []byte
	if last := name.At(-1); last.Typ == enc.TypeImplicitSha256DigestComponent {
		impSha256 = last.Val
		name = name[:len(name)-1]
	}

	entry := t.records.Put(id, pendingInterest{
		name:        name,
		impSha256:   impSha256,
		canBePrefix: interest.Config.CanBePrefix,
		mustBeFresh: interest.Config.MustBeFresh,
		wire:        interest.Wire,
		origin:      originApp,
		callback:    callback,
	})

	lifetime := interest.Config.Lifetime.GetOr(DefaultInterestLifetime)
	entry.timeout = t.sched.Schedule(lifetime, func() {
		if t.records.Get(id) == nil {
			return
		}
		cb := entry.callback
		t.records.Erase(id)
		if cb != nil {
			cb(ndn.ExpressCallbackArgs{
				Result:     ndn.InterestResultTimeout,
				NackReason: spec.NackReasonNone,
			})
		}
	})
	return entry
}

// insert creates a forwarder-origin record: no timeout, no callback.
func (t *pitTable) insert(interest ndn.Interest, wire enc.Wire) (container.RecordId, *pendingInterest) {
	return t.records.Insert(pendingInterest{
		name:        interest.Name(),
		canBePrefix: interest.CanBePrefix(),
		mustBeFresh: interest.MustBeFresh(),
		wire:        wire,
		origin:      originForwarder,
	})
}

// erase drops a record and cancels its timer. No callbacks fire.
func (t *pitTable) erase(id container.RecordId) {
	entry := t.records.Get(id)
	if entry == nil {
		return
	}
	t.sched.Cancel(entry.timeout)
	t.records.Erase(id)
}

// clear drops every record without firing callbacks.
func (t *pitTable) clear() {
	t.records.Range(func(id container.RecordId, entry *pendingInterest) bool {
		t.sched.Cancel(entry.timeout)
		return true
	})
	t.records.Clear()
}

// satisfyData delivers Data to every matching record. App-origin
// matches invoke the express callback after the record is erased.
// The return value tells whether the Data must still go to the
// forwarder: true when it satisfied a forwarder-origin Interest, and
// also when it matched nothing (unsolicited Data is forwarded).
func (t *pitTable) satisfyData(data ndn.Data, raw enc.Wire, sigCovered enc.Wire) bool {
	hasAppMatch, hasForwarderMatch := false, false
	t.records.Range(func(id container.RecordId, entry *pendingInterest) bool {
		if !entry.matchesData(data, raw) {
			return true
		}

		t.sched.Cancel(entry.timeout)
		cb := entry.callback
		org := entry.origin
		t.records.Erase(id)

		if org == originApp {
			hasAppMatch = true
			if cb != nil {
				cb(ndn.ExpressCallbackArgs{
					Result:     ndn.InterestResultData,
					Data:       data,
					RawData:    raw,
					SigCovered: sigCovered,
					NackReason: spec.NackReasonNone,
				})
			}
		} else {
			hasForwarderMatch = true
		}
		return true
	})
	return hasForwarderMatch || !hasAppMatch
}

// satisfyNack folds nack into every matching record's accumulator.
// Completed app-origin records invoke their callback; completed
// forwarder-origin records elect the single least-severe Nack, which is
// returned for transmission (nil when nothing completed).
func (t *pitTable) satisfyNack(nack Nack) *Nack {
	var out *Nack
	t.records.Range(func(id container.RecordId, entry *pendingInterest) bool {
		if !entry.matchesNack(nack) {
			return true
		}

		accumulated := entry.recordNack(nack)
		if accumulated == nil {
			return true
		}

		t.sched.Cancel(entry.timeout)
		cb := entry.callback
		org := entry.origin
		out1 := *accumulated
		out1.Wire = entry.wire
		t.records.Erase(id)

		if org == originApp {
			if cb != nil {
				cb(ndn.ExpressCallbackArgs{
					Result:     ndn.InterestResultNack,
					NackReason: out1.Reason,
				})
			}
		} else if out == nil || lessSevere(out1.Reason, out.Reason) {
			out = &out1
		}
		return true
	})
	return out
}
