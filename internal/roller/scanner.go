package roller

import "strings"

// markerScanner scans a fragment stream for a stop marker that may span
// fragment boundaries. It withholds the longest trailing run of pending
// text that is a proper prefix of the marker, so a split marker is never
// emitted; everything else passes through immediately.
type markerScanner struct {
	marker string
	window string // withheld tail, always shorter than marker
	found  bool
}

func newMarkerScanner(marker string) *markerScanner {
	return &markerScanner{marker: marker}
}

// Feed consumes one fragment and returns the text that is now safe to
// emit. Once the marker has been found, all further input is dropped and
// Feed returns "".
func (m *markerScanner) Feed(fragment string) string {
	if m.found {
		return ""
	}

	buf := m.window + fragment
	if idx := strings.Index(buf, m.marker); idx >= 0 {
		m.found = true
		m.window = ""
		return buf[:idx]
	}

	hold := markerPrefixLen(buf, m.marker)
	m.window = buf[len(buf)-hold:]
	return buf[:len(buf)-hold]
}

// Flush returns the withheld tail. Call it when the fragment stream ends
// without the marker: the tail turned out to be a false prefix and still
// belongs to the output.
func (m *markerScanner) Flush() string {
	rest := m.window
	m.window = ""
	return rest
}

// Found reports whether the marker has been seen.
func (m *markerScanner) Found() bool {
	return m.found
}

// markerPrefixLen returns the length of the longest suffix of buf that is
// a proper prefix of marker.
func markerPrefixLen(buf, marker string) int {
	max := len(marker) - 1
	if len(buf) < max {
		max = len(buf)
	}
	for k := max; k > 0; k-- {
		if strings.HasSuffix(buf, marker[:k]) {
			return k
		}
	}
	return 0
}
