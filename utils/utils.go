package utils

import "strings"

// CountTokens counts whitespace-delimited tokens.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// NormalizeString lower-cases s and collapses runs of whitespace (including
// full-width spaces) into a single space.
func NormalizeString(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
