// Package topic parses hierarchical topic filters and matches concrete
// topics against them, extracting the segments that line up with
// wildcards.
//
// Filters use the MQTT syntax: segments are separated by "/", "+" matches
// exactly one segment and "#" matches the rest of the topic. A "#" must be
// the final segment and must swallow at least one topic segment, so "a/#"
// does not match "a".
package topic

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is returned when a filter string violates the syntax.
var ErrInvalidFilter = errors.New("invalid topic filter")

// Separator divides topic and filter segments.
const Separator = "/"

// Wildcard segments.
const (
	SingleLevel = "+"
	MultiLevel  = "#"
)

// Kind classifies a filter segment.
type Kind int

// Segment kinds.
const (
	Literal Kind = iota
	Single
	Multi
)

// Segment is one element of a Filter.
type Segment struct {
	Kind  Kind
	Value string // only set for Literal
}

// Filter is a parsed subscription pattern. The zero value matches nothing.
type Filter struct {
	raw       string
	segments  []Segment
	wildcards int
}

// ParseFilter parses and validates a filter string.
func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return Filter{}, fmt.Errorf("%w: empty filter", ErrInvalidFilter)
	}

	parts := strings.Split(s, Separator)
	f := Filter{raw: s, segments: make([]Segment, 0, len(parts))}
	for i, part := range parts {
		switch {
		case part == MultiLevel:
			if i != len(parts)-1 {
				return Filter{}, fmt.Errorf("%w: %q: %s must be the last segment", ErrInvalidFilter, s, MultiLevel)
			}
			f.segments = append(f.segments, Segment{Kind: Multi})
			f.wildcards++
		case part == SingleLevel:
			f.segments = append(f.segments, Segment{Kind: Single})
			f.wildcards++
		case strings.ContainsAny(part, SingleLevel+MultiLevel):
			return Filter{}, fmt.Errorf("%w: %q: wildcard must occupy a whole segment", ErrInvalidFilter, s)
		default:
			f.segments = append(f.segments, Segment{Kind: Literal, Value: part})
		}
	}
	return f, nil
}

// MustParseFilter is like ParseFilter but panics on error. It is meant for
// filters fixed at compile time.
func MustParseFilter(s string) Filter {
	f, err := ParseFilter(s)
	if err != nil {
		panic(err)
	}
	return f
}

// String returns the filter as it was written.
func (f Filter) String() string { return f.raw }

// Segments returns a copy of the parsed segments.
func (f Filter) Segments() []Segment {
	return append([]Segment(nil), f.segments...)
}

// Wildcards returns the number of wildcard segments in the filter.
func (f Filter) Wildcards() int { return f.wildcards }

// Split breaks a concrete topic into its segments.
func Split(topic string) []string {
	return strings.Split(topic, Separator)
}

// Match reports whether topic matches the filter. On a match it returns the
// topic segments aligned with wildcards, left to right; a trailing "#"
// contributes every segment it swallowed. Match never panics.
func (f Filter) Match(topic string) ([]string, bool) {
	if len(f.segments) == 0 {
		return nil, false
	}
	return match(f.segments, Split(topic), f.wildcards)
}

// Match is shorthand for f.Match(topic).
func Match(f Filter, topic string) ([]string, bool) {
	return f.Match(topic)
}

func match(segments []Segment, parts []string, wildcards int) ([]string, bool) {
	captures := make([]string, 0, wildcards)
	for i, seg := range segments {
		if i >= len(parts) {
			return nil, false
		}
		switch seg.Kind {
		case Multi:
			return append(captures, parts[i:]...), true
		case Single:
			captures = append(captures, parts[i])
		default:
			if parts[i] != seg.Value {
				return nil, false
			}
		}
	}
	if len(parts) != len(segments) {
		return nil, false
	}
	return captures, true
}
