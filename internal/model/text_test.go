package model

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", MaxTextLength))
	assert.Equal(t, "abc", Truncate("abcdef", 3))

	// Bengali script is three bytes per rune; a byte cut would split one.
	long := strings.Repeat("টাকা", 100)
	got := Truncate(long, MaxTextLength)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxTextLength, utf8.RuneCountInString(got))
}
