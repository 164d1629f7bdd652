package chat

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// NormalizeTimestamp canonicalizes the shapes backends report message times
// in: integer nanoseconds, decimal nanosecond strings, and ISO-8601 strings.
// It returns the nanosecond value alongside its decimal string form. Anything
// unparseable comes back as (0, "0") so a malformed record sorts to the end
// of a conversation instead of poisoning the whole page.
func NormalizeTimestamp(value any) (uint64, string) {
	switch v := value.(type) {
	case uint64:
		return v, strconv.FormatUint(v, 10)
	case int64:
		if v < 0 {
			return 0, "0"
		}
		return uint64(v), strconv.FormatInt(v, 10)
	case int:
		return NormalizeTimestamp(int64(v))
	case float64:
		// JSON numbers decode as float64 and are already lossy past 2^53,
		// which is why the string form exists. Prefer that when available.
		if v < 0 {
			return 0, "0"
		}
		n := uint64(v)
		return n, strconv.FormatUint(n, 10)
	case json.Number:
		return NormalizeTimestamp(string(v))
	case string:
		return normalizeTimestampString(v)
	}
	return 0, "0"
}

func normalizeTimestampString(s string) (uint64, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "0"
	}
	if isDigits(s) {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, "0"
		}
		return n, strconv.FormatUint(n, 10)
	}
	return normalizeISOTimestamp(s)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// normalizeISOTimestamp converts an ISO-8601 string to epoch nanoseconds.
// Fractional seconds carry whatever precision the indexer emitted; they are
// right-padded or truncated to nine digits so two timestamps differing only
// in sub-second precision still order correctly. Pre-epoch times floor to
// zero.
func normalizeISOTimestamp(s string) (uint64, string) {
	base, frac := s, ""
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		end := dot + 1
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		base, frac = s[:dot]+s[end:], s[dot+1:end]
	}
	t, err := parseISOBase(base)
	if err != nil {
		return 0, "0"
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	var subNanos int64
	if frac != "" {
		n, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return 0, "0"
		}
		subNanos = n
	}
	total := t.Unix()*int64(time.Second) + subNanos
	if total < 0 {
		return 0, "0"
	}
	return uint64(total), strconv.FormatUint(uint64(total), 10)
}

// Zoneless timestamps are interpreted as UTC: the indexer stores UTC and
// omits the suffix on some deployments.
var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseISOBase(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range isoLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
