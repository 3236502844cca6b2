package executor

import "unicode/utf8"

// TruncationMarker is appended to output that exceeded the limit.
const TruncationMarker = "...\n[Output truncated]"

// Truncate bounds text to limit characters (runes, not bytes).
// Text at or under the limit is returned unchanged.
func Truncate(text string, limit int) string {
	if limit < 0 {
		limit = 0
	}
	// Byte length is an upper bound on rune count.
	if len(text) <= limit || utf8.RuneCountInString(text) <= limit {
		return text
	}

	n := 0
	for i := range text {
		if n == limit {
			return text[:i] + TruncationMarker
		}
		n++
	}
	return text
}
