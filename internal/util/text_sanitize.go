package util

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxInputChars bounds how much text a single document may feed into chunking.
const DefaultMaxInputChars = 500000

// NormalizeText removes everything Postgres text columns and embedding providers choke on:
// NUL, C0 controls other than \n \r \t, DEL and C1 controls, invalid UTF-8 and surrogate
// code points. The result is truncated to maxChars runes when maxChars > 0.
func NormalizeText(s string, maxChars int) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r == utf8.RuneError && size <= 1 {
			continue
		}
		if !keepRune(r) {
			continue
		}
		if maxChars > 0 && n >= maxChars {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func keepRune(r rune) bool {
	switch {
	case r == '\n' || r == '\r' || r == '\t':
		return true
	case r < 0x20:
		return false
	case r >= 0x7f && r <= 0x9f:
		return false
	case r >= 0xd800 && r <= 0xdfff:
		return false
	}
	return utf8.ValidRune(r)
}

// SanitizeText is NormalizeText without a length cap, trimmed.
func SanitizeText(s string) string {
	return strings.TrimSpace(NormalizeText(s, 0))
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
