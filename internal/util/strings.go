package util

import "unicode/utf8"

// Truncate shortens s to at most limit runes, ending with "..." when cut.
// A limit of 0 or less returns s unchanged.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 3 {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-3]) + "..."
}
