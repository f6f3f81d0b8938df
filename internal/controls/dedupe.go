package controls

import (
	"strconv"

	"github.com/zeebo/xxh3"
)

// seenSet suppresses repeated matches of the same rule at the same location.
type seenSet map[uint64]struct{}

// first records the key and reports whether it was new.
func (s seenSet) first(parts ...string) bool {
	h := xxh3.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	k := h.Sum64()
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}

// location formats a file position for dedupe keys.
func location(file string, line int) string {
	return file + ":" + strconv.Itoa(line)
}

// fingerprint is a stable short hash of a matched value, used to correlate a
// secret across scans without storing it.
func fingerprint(value string) string {
	return strconv.FormatUint(xxh3.HashString(value), 16)
}
