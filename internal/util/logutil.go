package util

import "strings"

// TruncateForLog trims the string and cuts it down to at most limit runes,
// marking the cut with an ellipsis. A non-positive limit yields an empty
// string so callers can disable previews entirely.
func TruncateForLog(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
