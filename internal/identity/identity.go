// Package identity generates and validates the canonical broker client
// identifier: aituber-<uuid v4>-<13-digit unix millis>, optionally followed
// by a legacy suffix carried over from a migrated identifier.
package identity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const prefix = "aituber-"

// canonicalPattern pins the UUID version nibble to 4 and the variant nibble
// to the RFC 4122 range, and requires exactly 13 timestamp digits.
var canonicalPattern = regexp.MustCompile(
	`^aituber-[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}-\d{13}(-.+)?$`)

// Generate returns a new canonical client identifier from a fresh random
// UUID and the current wall clock. It cannot fail.
func Generate() string {
	return fmt.Sprintf("%s%s-%d", prefix, uuid.NewString(), time.Now().UnixMilli())
}

// IsCanonical reports whether id is in the canonical form.
func IsCanonical(id string) bool {
	return canonicalPattern.MatchString(id)
}

// ExtractTimestamp returns the millisecond timestamp embedded in a
// canonical identifier, or false if id is not canonical.
func ExtractTimestamp(id string) (int64, bool) {
	if !IsCanonical(id) {
		return 0, false
	}
	parts := strings.Split(strings.TrimPrefix(id, prefix), "-")
	// uuid burns the first five dash-separated segments; the sixth is the
	// timestamp regardless of any trailing legacy suffix.
	if len(parts) < 6 {
		return 0, false
	}
	ts, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// MigrateLegacy converts an identifier of any provenance into canonical
// form. Canonical input is returned unchanged; empty input yields a fresh
// identifier; anything else becomes a fresh identifier with the original
// value appended as a trailing segment so the legacy value stays traceable.
// The function is pure apart from clock/randomness; persisting the result
// is the caller's concern.
func MigrateLegacy(id string) string {
	switch {
	case id == "":
		return Generate()
	case IsCanonical(id):
		return id
	default:
		return Generate() + "-" + id
	}
}
