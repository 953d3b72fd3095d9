package model

import "unicode/utf8"

// MaxTextLength is the width of the varchar(255) description and reason columns.
const MaxTextLength = 255

// Truncate shortens s to at most n characters, never splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
