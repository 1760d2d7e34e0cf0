package face

import (
	"github.com/named-data/ndnd/std/log"

	"github.com/named-data/appface/container"
)

// PendingInterestHandle cancels one pending Interest. Handles stay safe
// after the Face stops: cancellation is posted onto the event loop and
// becomes a no-op when the loop is gone.
type PendingInterestHandle struct {
	face *Face
	id   container.RecordId
}

// Cancel removes the pending Interest without firing its callback.
func (h PendingInterestHandle) Cancel() {
	if h.face == nil {
		return
	}
	h.face.post(func() { h.face.pit.erase(h.id) })
}

// InterestFilterHandle removes one Interest filter.
type InterestFilterHandle struct {
	face *Face
	id   container.RecordId
}

// Cancel unsets the filter.
func (h InterestFilterHandle) Cancel() {
	if h.face == nil {
		return
	}
	h.face.post(func() {
		if rec := h.face.filters.Get(h.id); rec != nil {
			log.Info(h.face, "Unsetting interest filter", "filter", rec.filter)
			h.face.filters.Erase(h.id)
		}
	})
}

// RegisteredPrefixHandle controls one RIB registration.
type RegisteredPrefixHandle struct {
	face *Face
	id   container.RecordId
}

// Cancel removes the local record and its paired filter. No unregister
// command is sent; the forwarder expires the registration on its own.
func (h RegisteredPrefixHandle) Cancel() {
	if h.face == nil {
		return
	}
	h.face.post(func() { h.face.cancelRegistration(h.id) })
}

// Unregister removes the registration from the forwarder's RIB, then
// erases the local record. The handle is consumed: a second call fails
// with ErrUnrecognizedHandle.
func (h *RegisteredPrefixHandle) Unregister(onSuccess func(), onFailure func(error)) {
	if h.face == nil || h.id == 0 {
		if onFailure != nil {
			onFailure(ErrUnrecognizedHandle)
		}
		return
	}

	face, id := h.face, h.id
	*h = RegisteredPrefixHandle{}

	if !face.post(func() { face.unregister(id, onSuccess, onFailure) }) {
		if onFailure != nil {
			onFailure(ErrFaceClosed)
		}
	}
}
