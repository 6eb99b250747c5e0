package reactiveq

import (
	"fmt"
	"strconv"
	"strings"
)

// Fingerprint computes a deterministic, fast, non-cryptographic hash over
// the textual form of args, rendered as base-36. Identical argument
// sequences always yield identical strings; different sequences yield
// different strings with high probability. Used as the cache key for
// queries, so it must stay stable for the life of the process.
func Fingerprint(args ...any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	text := strings.Join(parts, "\x1f")

	var h uint32
	for _, c := range text {
		h = h*31 + uint32(c)
	}

	return strconv.FormatUint(uint64(h), 36)
}
