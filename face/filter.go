package face

import (
	"regexp"
	"strings"

	enc "github.com/named-data/ndnd/std/encoding"
	"github.com/named-data/ndnd/std/ndn"
)

// InterestFilter selects which incoming Interests reach a producer
// callback. An Interest matches when Prefix is a prefix of its name
// and, if Pattern is set, the remainder after Prefix matches it.
type InterestFilter struct {
	Prefix enc.Name
	// Pattern is an optional regular expression applied to the URI of
	// the name components after Prefix (e.g. "/ping/.*").
	Pattern string
	// NoLoopback excludes Interests expressed through this same Face.
	NoLoopback bool
}

func (f InterestFilter) String() string {
	if f.Pattern == "" {
		return f.Prefix.String()
	}
	return f.Prefix.String() + "?" + f.Pattern
}

// filterRecord is one InterestFilterTable entry.
type filterRecord struct {
	filter  InterestFilter
	regex   *regexp.Regexp
	handler ndn.InterestHandler
}

func newFilterRecord(filter InterestFilter, handler ndn.InterestHandler) (filterRecord, error) {
	rec := filterRecord{filter: filter, handler: handler}
	if filter.Pattern != "" {
		regex, err := regexp.Compile(filter.Pattern)
		if err != nil {
			return filterRecord{}, FilterRegexError{Pattern: filter.Pattern, Err: err}
		}
		rec.regex = regex
	}
	return rec, nil
}

// matches decides whether an Interest with the given name and origin
// reaches this filter's callback.
func (r *filterRecord) matches(name enc.Name, org origin) bool {
	if org == originApp && r.filter.NoLoopback {
		return false
	}
	if !r.filter.Prefix.IsPrefix(name) {
		return false
	}
	if r.regex != nil {
		var sb strings.Builder
		for _, comp := range name[len(r.filter.Prefix):] {
			sb.WriteByte('/')
			comp.WriteTo(&sb)
		}
		if !r.regex.MatchString(sb.String()) {
			return false
		}
	}
	return true
}
