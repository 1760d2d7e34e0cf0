package face

import (
	"errors"
	"fmt"

	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/ndn"
)

// ErrFaceClosed is returned when an operation is attempted on a Face
// that has been stopped (or never started).
var ErrFaceClosed = errors.New("face is closed")

// ErrUnrecognizedHandle is surfaced through the unregister failure
// callback when the handle does not name a registered prefix.
var ErrUnrecognizedHandle = errors.New("unrecognized registered prefix handle")

// OversizedPacketError is returned when a packet encodes beyond
// ndn.MaxNDNPacketSize. No Face state is mutated in that case.
type OversizedPacketError struct {
	// Kind is 'I', 'D' or 'N'.
	Kind byte
	Name enc.Name
	Size int
}

func (e OversizedPacketError) Error() string {
	kind := "Nack"
	switch e.Kind {
	case 'I':
		kind = "Interest"
	case 'D':
		kind = "Data"
	}
	return fmt.Sprintf("%s %s encodes into %d octets, exceeding the implementation limit of %d octets",
		kind, e.Name, e.Size, ndn.MaxNDNPacketSize)
}

// FilterRegexError is returned by SetInterestFilter when the filter
// carries a pattern that does not compile.
type FilterRegexError struct {
	Pattern string
	Err     error
}

func (e FilterRegexError) Error() string {
	return fmt.Sprintf("invalid interest filter pattern %q: %v", e.Pattern, e.Err)
}

func (e FilterRegexError) Unwrap() error {
	return e.Err
}
