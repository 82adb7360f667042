package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	sigBasePrefix = "0000"
	sigBaseSuffix = "00001000800000805f9b34fb"
)

// NormalizeUUID converts a UUID string to the canonical lookup form used by
// every transport: lowercase hex with dashes, braces and any 0x prefix removed.
// 128-bit UUIDs in the Bluetooth SIG base (0000xxxx-0000-1000-8000-00805f9b34fb)
// collapse to their 16-bit short form.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	s = strings.Trim(s, "{}")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, sigBasePrefix) && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// ExpandUUID returns the dashed 128-bit form of a UUID, expanding 16-bit
// short forms into the Bluetooth SIG base.
func ExpandUUID(s string) (string, error) {
	n := NormalizeUUID(s)
	if len(n) == 4 {
		n = sigBasePrefix + n + sigBaseSuffix
	}
	u, err := uuid.Parse(n)
	if err != nil {
		return "", fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u.String(), nil
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}
