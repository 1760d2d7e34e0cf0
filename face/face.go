// Package face implements the application-side NDN Face: it multiplexes
// one application's consumer and producer operations onto a single
// bidirectional transport to an NDN forwarder.
//
// A Face owns three state tables (pending Interests, Interest filters,
// registered prefixes), a timer scheduler and a RIB controller, all
// confined to one event-loop goroutine. Public operations allocate
// their record ids synchronously, post the stateful part onto the loop,
// and return a handle; user callbacks run on the loop.
package face

import (
	"fmt"
	"sync/atomic"
	"time"

	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/log"
	"github.com/named-data/ndnd/std/ndn"
	mgmt "github.com/named-data/ndnd/std/ndn/mgmt_2022"
	spec "github.com/named-data/ndnd/std/ndn/spec_2022"
	"github.com/named-data/ndnd/std/types/optional"

	"github.com/named-data/appface/container"
	"github.com/named-data/appface/rib"
	"github.com/named-data/appface/sched"
	"github.com/named-data/appface/transport"
)

// RegisterOptions carries the knobs of one prefix registration.
type RegisterOptions struct {
	// Flags are the RIB route flags (mgmt_2022.RouteFlag values).
	Flags uint64
	// Origin is the route origin; the forwarder defaults to app.
	Origin optional.Optional[uint64]
	// Command configures the management RPC (signer, timeout, retries).
	Command rib.CommandOptions
}

// registeredPrefix is one RegisteredPrefixTable entry.
type registeredPrefix struct {
	prefix   enc.Name
	options  RegisterOptions
	filterId container.RecordId
}

// Face is the application endpoint to an NDN forwarder.
type Face struct {
	transport transport.Transport
	clock     sched.Clock
	sched     *sched.Scheduler
	ctrl      *rib.Controller

	pit      *pitTable
	filters  *container.Table[filterRecord]
	prefixes *container.Table[registeredPrefix]

	inQueue chan []byte
	tasks   chan func()
	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool
}

// New creates a Face over the given transport. A nil clock selects the
// system clock; tests pass a manual clock to drive timeouts.
func New(t transport.Transport, clock sched.Clock) *Face {
	if t == nil {
		return nil
	}
	if clock == nil {
		clock = sched.SystemClock{}
	}

	f := &Face{
		transport: t,
		clock:     clock,
		sched:     sched.New(clock),
		filters:   container.New[filterRecord](),
		prefixes:  container.New[registeredPrefix](),
		inQueue:   make(chan []byte, 256),
		tasks:     make(chan func(), 512),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	f.pit = newPitTable(f.sched)
	f.ctrl = rib.NewController(ctrlSender{f}, clock, t.IsLocal())

	// Pause the transport when the application holds no pending
	// Interests and no registrations. The check is re-posted through
	// the loop: pausing synchronously from inside a receive dispatch
	// reorders pause/resume while the transport is mid-delivery.
	onEmpty := func() { f.post(f.pauseIfIdle) }
	f.pit.records.OnEmpty = onEmpty
	f.prefixes.OnEmpty = onEmpty

	return f
}

func (f *Face) String() string {
	return fmt.Sprintf("face (%s)", f.transport)
}

// Scheduler exposes the Face's timer queue. Intended for tests driving
// a manual clock; all access must go through Post.
func (f *Face) Scheduler() *sched.Scheduler {
	return f.sched
}

// IsRunning returns true between Start and Stop.
func (f *Face) IsRunning() bool {
	return f.running.Load()
}

// Start connects the transport and starts the event loop.
func (f *Face) Start() error {
	if f.running.Load() {
		return fmt.Errorf("face is already running")
	}

	f.transport.OnPacket(func(frame []byte) {
		// Copy; the transport may reuse its receive buffer.
		frameCopy := make([]byte, len(frame))
		copy(frameCopy, frame)
		select {
		case f.inQueue <- frameCopy:
		case <-f.done:
		}
	})
	f.transport.OnError(func(err error) {
		log.Error(f, "Transport failed", "err", err)
		f.Stop()
	})

	if err := f.transport.Connect(); err != nil {
		return err
	}

	f.running.Store(true)
	go f.loop()
	return nil
}

// Stop shuts the Face down: all table entries are dropped without
// firing user callbacks, registered prefixes are left for the
// forwarder to expire, and the transport is closed.
func (f *Face) Stop() error {
	if !f.running.Load() {
		return fmt.Errorf("face is not running")
	}
	select {
	case f.stop <- struct{}{}:
	case <-f.done:
	}
	return nil
}

// Post runs task on the event loop. Tasks posted after Stop are
// silently dropped.
func (f *Face) Post(task func()) {
	f.post(task)
}

func (f *Face) post(task func()) bool {
	// Checked first: once the loop has ended, the select below could
	// still pick the buffered-send case at random.
	if !f.running.Load() {
		return false
	}
	select {
	case f.tasks <- task:
		return true
	case <-f.done:
		return false
	default:
	}
	// Queue full: hand off without blocking the caller, which may be
	// the loop goroutine itself.
	go func() {
		select {
		case f.tasks <- task:
		case <-f.done:
		}
	}()
	return true
}

func (f *Face) loop() {
	defer close(f.done)
	defer f.running.Store(false)
	defer f.transport.Close()

	const idle = time.Hour
	wake := time.NewTimer(idle)
	defer wake.Stop()

	for {
		if deadline, ok := f.sched.NextDeadline(); ok {
			wake.Reset(max(deadline.Sub(f.clock.Now()), 0))
		} else {
			wake.Reset(idle)
		}

		select {
		case frame := <-f.inQueue:
			f.onFrame(frame)
		case task := <-f.tasks:
			task()
		case <-wake.C:
			f.sched.Advance(f.clock.Now())
		case <-f.stop:
			f.shutdown()
			return
		}
	}
}

func (f *Face) shutdown() {
	f.pit.clear()
	f.filters.Clear()
	f.prefixes.Clear()
}

// ensureConnected reconnects a closed transport and, when wantResume is
// set, resumes a paused one.
func (f *Face) ensureConnected(wantResume bool) {
	if f.transport.State() == transport.Closed {
		if err := f.transport.Connect(); err != nil {
			log.Error(f, "Failed to connect transport", "err", err)
			return
		}
	}
	if wantResume {
		f.transport.Resume()
	}
}

func (f *Face) pauseIfIdle() {
	if f.pit.records.IsEmpty() && f.prefixes.IsEmpty() {
		f.transport.Pause()
	}
}

// ---- consumer ----

// Express sends an Interest and registers callback for its outcome
// (Data, Nack or timeout). The NextHopFaceId tag is taken from the
// Interest configuration.
func (f *Face) Express(interest *ndn.EncodedInterest, callback ndn.ExpressCallbackFunc) (PendingInterestHandle, error) {
	var tags Tags
	if interest != nil && interest.Config != nil {
		tags.NextHopFaceId = interest.Config.NextHopId
	}
	return f.ExpressWithTags(interest, tags, callback)
}

// ExpressWithTags is Express with explicit NDNLP tags.
func (f *Face) ExpressWithTags(interest *ndn.EncodedInterest, tags Tags, callback ndn.ExpressCallbackFunc) (PendingInterestHandle, error) {
	if interest == nil || interest.Config == nil || len(interest.FinalName) == 0 {
		return PendingInterestHandle{}, ndn.ErrInvalidValue{Item: "interest", Value: interest}
	}
	lpWire, err := encodeInterestLp(interest.Wire, tags, interest.FinalName)
	if err != nil {
		return PendingInterestHandle{}, err
	}
	if !f.running.Load() {
		return PendingInterestHandle{}, ErrFaceClosed
	}

	id := f.pit.records.AllocateId()
	f.post(func() { f.express(id, interest, lpWire, callback) })
	return PendingInterestHandle{face: f, id: id}, nil
}

func (f *Face) express(id container.RecordId, interest *ndn.EncodedInterest,
	lpWire enc.Wire, callback ndn.ExpressCallbackFunc) {

	log.Debug(f, "<I", "name", interest.FinalName)
	f.ensureConnected(true)

	entry := f.pit.put(id, interest, callback)
	entry.recordForwarding() // the forwarder is the first destination

	if err := f.transport.Send(lpWire); err != nil {
		log.Error(f, "Failed to send Interest", "err", err, "name", interest.FinalName)
	}

	// Loopback to local filters, strictly after the wire send.
	parsed, sigCovered, err := spec.Spec{}.ReadInterest(enc.NewWireView(interest.Wire))
	if err != nil {
		log.Error(f, "[BUG] cannot re-parse expressed Interest", "err", err)
		return
	}
	f.dispatch(entry, parsed, interest.Wire, sigCovered, Tags{})
}

// RemoveAllPendingInterests drops every pending Interest without firing
// callbacks.
func (f *Face) RemoveAllPendingInterests() {
	f.post(func() { f.pit.clear() })
}

// NPendingInterests reports the number of pending Interest records.
func (f *Face) NPendingInterests() int {
	res := make(chan int, 1)
	if !f.post(func() { res <- f.pit.records.Len() }) {
		return 0
	}
	select {
	case n := <-res:
		return n
	case <-f.done:
		return 0
	}
}

// ---- producer ----

// Put publishes a Data packet. Data that satisfies only Interests
// expressed by this application stays local; Data that satisfies a
// forwarder Interest, or no Interest at all, goes out on the wire.
func (f *Face) Put(data *ndn.EncodedData) error {
	return f.PutWithTags(data, Tags{})
}

// PutWithTags is Put with explicit NDNLP tags.
func (f *Face) PutWithTags(data *ndn.EncodedData, tags Tags) error {
	if data == nil {
		return ndn.ErrInvalidValue{Item: "data", Value: data}
	}
	parsed, sigCovered, err := spec.Spec{}.ReadData(enc.NewWireView(data.Wire))
	if err != nil {
		return err
	}
	lpWire, err := encodeDataLp(data.Wire, tags, parsed.Name())
	if err != nil {
		return err
	}
	if !f.running.Load() {
		return ErrFaceClosed
	}
	f.post(func() { f.putData(parsed, data.Wire, sigCovered, lpWire) })
	return nil
}

func (f *Face) putData(data ndn.Data, raw enc.Wire, sigCovered enc.Wire, lpWire enc.Wire) {
	log.Debug(f, "<D", "name", data.Name())
	if !f.pit.satisfyData(data, raw, sigCovered) {
		return
	}
	f.ensureConnected(true)
	if err := f.transport.Send(lpWire); err != nil {
		log.Error(f, "Failed to send Data", "err", err, "name", data.Name())
	}
}

// PutNack rejects an Interest. The Nack is folded into the matching
// pending records; once every destination of a forwarder-origin record
// has nacked, the single least-severe Nack goes out on the wire.
func (f *Face) PutNack(nack Nack) error {
	if nack.Interest == nil || nack.Wire == nil {
		return ndn.ErrInvalidValue{Item: "nack", Value: nack}
	}
	// Size check up front, before any table state changes.
	if _, err := encodeNackLp(nack, nack.Interest.Name()); err != nil {
		return err
	}
	if !f.running.Load() {
		return ErrFaceClosed
	}
	f.post(func() { f.putNack(nack) })
	return nil
}

func (f *Face) putNack(nack Nack) {
	log.Debug(f, "<N", "name", nack.Interest.Name(), "reason", nack.Reason)
	out := f.pit.satisfyNack(nack)
	if out == nil {
		return
	}
	lpWire, err := encodeNackLp(*out, nack.Interest.Name())
	if err != nil {
		log.Error(f, "Failed to encode Nack", "err", err, "name", nack.Interest.Name())
		return
	}
	f.ensureConnected(true)
	if err := f.transport.Send(lpWire); err != nil {
		log.Error(f, "Failed to send Nack", "err", err, "name", nack.Interest.Name())
	}
}

// SetInterestFilter installs a local filter without registering
// anything on the forwarder.
func (f *Face) SetInterestFilter(filter InterestFilter, onInterest ndn.InterestHandler) (InterestFilterHandle, error) {
	rec, err := newFilterRecord(filter, onInterest)
	if err != nil {
		return InterestFilterHandle{}, err
	}
	if !f.running.Load() {
		return InterestFilterHandle{}, ErrFaceClosed
	}

	id := f.filters.AllocateId()
	f.post(func() {
		log.Info(f, "Setting interest filter", "filter", rec.filter)
		f.filters.Put(id, rec)
	})
	return InterestFilterHandle{face: f, id: id}, nil
}

// dispatch hands an Interest to every matching filter in insertion
// order, recording each as one more destination of the record.
func (f *Face) dispatch(entry *pendingInterest, interest ndn.Interest,
	raw enc.Wire, sigCovered enc.Wire, tags Tags) {

	deadline := f.clock.Now().Add(interest.Lifetime().GetOr(DefaultInterestLifetime))
	f.filters.Range(func(_ container.RecordId, rec *filterRecord) bool {
		if !rec.matches(interest.Name(), entry.origin) {
			return true
		}
		log.Debug(f, "Interest matches filter", "filter", rec.filter)
		entry.recordForwarding()
		rec.handler(ndn.InterestHandlerArgs{
			Interest:       interest,
			RawInterest:    raw,
			SigCovered:     sigCovered,
			Deadline:       deadline,
			IncomingFaceId: tags.IncomingFaceId,
			Reply:          f.replyFunc(),
		})
		return true
	})
}

func (f *Face) replyFunc() ndn.WireReplyFunc {
	return func(dataWire enc.Wire) error {
		if dataWire == nil {
			return nil
		}
		data, sigCovered, err := spec.Spec{}.ReadData(enc.NewWireView(dataWire))
		if err != nil {
			return err
		}
		lpWire, err := encodeDataLp(dataWire, Tags{}, data.Name())
		if err != nil {
			return err
		}
		f.putData(data, dataWire, sigCovered, lpWire)
		return nil
	}
}

// ---- prefix registration ----

// RegisterPrefix registers prefix on the forwarder's RIB. The record is
// inserted (and onSuccess invoked) only after the forwarder confirms.
func (f *Face) RegisterPrefix(prefix enc.Name, opts RegisterOptions,
	onSuccess func(enc.Name), onFailure func(enc.Name, error)) (RegisteredPrefixHandle, error) {

	if len(prefix) == 0 {
		return RegisteredPrefixHandle{}, ndn.ErrInvalidValue{Item: "prefix", Value: prefix}
	}
	if !f.running.Load() {
		return RegisteredPrefixHandle{}, ErrFaceClosed
	}

	id := f.prefixes.AllocateId()
	f.post(func() { f.register(id, prefix, nil, opts, onSuccess, onFailure) })
	return RegisteredPrefixHandle{face: f, id: id}, nil
}

// RegisterFilter registers filter.Prefix on the forwarder and, once the
// registration succeeds, installs the filter. Unregistering through the
// returned handle removes both.
func (f *Face) RegisterFilter(filter InterestFilter, onInterest ndn.InterestHandler,
	opts RegisterOptions, onSuccess func(enc.Name), onFailure func(enc.Name, error)) (RegisteredPrefixHandle, error) {

	rec, err := newFilterRecord(filter, onInterest)
	if err != nil {
		return RegisteredPrefixHandle{}, err
	}
	if len(filter.Prefix) == 0 {
		return RegisteredPrefixHandle{}, ndn.ErrInvalidValue{Item: "filter.Prefix", Value: filter.Prefix}
	}
	if !f.running.Load() {
		return RegisteredPrefixHandle{}, ErrFaceClosed
	}

	id := f.prefixes.AllocateId()
	f.post(func() { f.register(id, filter.Prefix, &rec, opts, onSuccess, onFailure) })
	return RegisteredPrefixHandle{face: f, id: id}, nil
}

// AnnouncePrefix registers prefix reachability through a signed prefix
// announcement object instead of a plain RIB entry.
func (f *Face) AnnouncePrefix(ann rib.Announcement, opts RegisterOptions,
	onSuccess func(enc.Name), onFailure func(enc.Name, error)) (RegisteredPrefixHandle, error) {

	if len(ann.Prefix) == 0 {
		return RegisteredPrefixHandle{}, ndn.ErrInvalidValue{Item: "announcement.Prefix", Value: ann.Prefix}
	}
	if !f.running.Load() {
		return RegisteredPrefixHandle{}, ErrFaceClosed
	}

	id := f.prefixes.AllocateId()
	f.post(func() {
		log.Info(f, "Announcing prefix", "name", ann.Prefix)
		f.ensureConnected(true)
		f.ctrl.StartAnnounce(ann, opts.Command,
			func(*mgmt.ControlResponseVal) {
				f.prefixes.Put(id, registeredPrefix{prefix: ann.Prefix, options: opts})
				log.Info(f, "Announced prefix", "name", ann.Prefix)
				if onSuccess != nil {
					onSuccess(ann.Prefix)
				}
			},
			func(err error) {
				log.Info(f, "Failed to announce prefix", "name", ann.Prefix, "err", err)
				if onFailure != nil {
					onFailure(ann.Prefix, err)
				}
			})
	})
	return RegisteredPrefixHandle{face: f, id: id}, nil
}

func (f *Face) register(id container.RecordId, prefix enc.Name, filterRec *filterRecord,
	opts RegisterOptions, onSuccess func(enc.Name), onFailure func(enc.Name, error)) {

	log.Info(f, "Registering prefix", "name", prefix)
	f.ensureConnected(true)

	args := &mgmt.ControlArgs{Name: prefix}
	if opts.Flags != 0 {
		args.Flags = optional.Some(opts.Flags)
	}
	args.Origin = opts.Origin

	f.ctrl.Start("rib", "register", args, opts.Command,
		func(*mgmt.ControlResponseVal) {
			var filterId container.RecordId
			if filterRec != nil {
				filterId, _ = f.filters.Insert(*filterRec)
			}
			f.prefixes.Put(id, registeredPrefix{prefix: prefix, options: opts, filterId: filterId})
			log.Info(f, "Registered prefix", "name", prefix)
			if onSuccess != nil {
				onSuccess(prefix)
			}
		},
		func(err error) {
			log.Info(f, "Failed to register prefix", "name", prefix, "err", err)
			if onFailure != nil {
				onFailure(prefix, err)
			}
		})
}

func (f *Face) unregister(id container.RecordId, onSuccess func(), onFailure func(error)) {
	rec := f.prefixes.Get(id)
	if rec == nil {
		if onFailure != nil {
			onFailure(ErrUnrecognizedHandle)
		}
		return
	}

	// A combined registration removes its filter first, locally.
	if rec.filterId != 0 {
		f.filters.Erase(rec.filterId)
	}

	log.Info(f, "Unregistering prefix", "name", rec.prefix)
	f.ctrl.Start("rib", "unregister", &mgmt.ControlArgs{Name: rec.prefix}, rec.options.Command,
		func(*mgmt.ControlResponseVal) {
			f.prefixes.Erase(id)
			log.Info(f, "Unregistered prefix", "name", rec.prefix)
			if onSuccess != nil {
				onSuccess()
			}
		},
		func(err error) {
			log.Info(f, "Failed to unregister prefix", "name", rec.prefix, "err", err)
			if onFailure != nil {
				onFailure(err)
			}
		})
}

func (f *Face) cancelRegistration(id container.RecordId) {
	rec := f.prefixes.Get(id)
	if rec == nil {
		return
	}
	if rec.filterId != 0 {
		f.filters.Erase(rec.filterId)
	}
	f.prefixes.Erase(id)
}

// ---- inbound ----

// onFrame parses one TLV element from the transport and dispatches it.
func (f *Face) onFrame(frame []byte) {
	reader := enc.NewBufferView(frame)

	pkt, ctx, err := spec.ReadPacket(reader)
	if err != nil {
		log.Error(f, "Failed to parse packet", "err", err)
		return
	}

	var tags Tags
	hasNack := false
	nackReason := spec.NackReasonNone
	var raw enc.Wire

	if pkt.LpPacket != nil {
		lpPkt := pkt.LpPacket
		if lpPkt.FragIndex.IsSet() || lpPkt.FragCount.IsSet() {
			log.Warn(f, "Fragmented LpPackets are not supported - DROP")
			return
		}

		raw = lpPkt.Fragment
		if len(raw) == 1 {
			pkt, ctx, err = spec.ReadPacket(enc.NewBufferView(raw[0]))
		} else {
			pkt, ctx, err = spec.ReadPacket(enc.NewWireView(raw))
		}
		if err != nil || (pkt.Data == nil) == (pkt.Interest == nil) {
			log.Error(f, "Failed to parse packet in LpPacket", "err", err)
			return
		}

		if lpPkt.Nack != nil {
			hasNack = true
			nackReason = lpPkt.Nack.Reason
		}
		tags.IncomingFaceId = lpPkt.IncomingFaceId
		tags.NextHopFaceId = lpPkt.NextHopFaceId
		tags.CongestionMark = lpPkt.CongestionMark
		if lpPkt.CachePolicy != nil {
			tags.CachePolicy = optional.Some(lpPkt.CachePolicy.CachePolicyType)
		}
	} else {
		raw = reader.Range(0, reader.Length())
	}

	switch {
	case hasNack:
		if pkt.Interest == nil {
			log.Error(f, "Nack received for non-Interest", "reason", nackReason)
			return
		}
		log.Debug(f, ">N", "name", pkt.Interest.Name(), "reason", nackReason)
		// The return value is deliberately dropped: a Nack from the
		// forwarder can complete only app-origin records here; any
		// forwarder-origin accumulation surfaces on a later PutNack.
		f.pit.satisfyNack(Nack{Reason: nackReason, Interest: pkt.Interest, Wire: raw, Tags: tags})

	case pkt.Interest != nil:
		log.Debug(f, ">I", "name", pkt.Interest.Name())
		_, entry := f.pit.insert(pkt.Interest, raw)
		f.dispatch(entry, pkt.Interest, raw, ctx.Interest_context.SigCovered(), tags)

	case pkt.Data != nil:
		log.Debug(f, ">D", "name", pkt.Data.Name())
		f.pit.satisfyData(pkt.Data, raw, ctx.Data_context.SigCovered())
	}
}

// ctrlSender adapts the Face to the controller's sender interface.
type ctrlSender struct {
	face *Face
}

func (s ctrlSender) Express(interest *ndn.EncodedInterest, callback ndn.ExpressCallbackFunc) error {
	_, err := s.face.Express(interest, callback)
	return err
}
