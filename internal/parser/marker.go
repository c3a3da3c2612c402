package parser

import "strings"

// MarkerMatcher reports whether a line carries one of a set of failure
// markers. Matching is a plain substring test, as the tools print the
// marker inside longer lines ("[Worker #1] TORTURE TEST FAILED on ...").
type MarkerMatcher struct {
	markers []string
}

// NewMarkerMatcher creates a matcher. Empty markers are ignored.
func NewMarkerMatcher(markers ...string) *MarkerMatcher {
	m := &MarkerMatcher{}
	for _, s := range markers {
		if s != "" {
			m.markers = append(m.markers, s)
		}
	}
	return m
}

// Match returns the marker found in line, if any.
func (m *MarkerMatcher) Match(line string) (string, bool) {
	for _, marker := range m.markers {
		if strings.Contains(line, marker) {
			return marker, true
		}
	}
	return "", false
}

// Markers returns the configured markers.
func (m *MarkerMatcher) Markers() []string {
	return append([]string(nil), m.markers...)
}
