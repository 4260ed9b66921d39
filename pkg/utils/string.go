package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Preview renders at most maxRunes of a raw frame for logging, with control
// characters dropped and an ellipsis when cut.
func Preview(data []byte, maxRunes int) string {
	var b strings.Builder
	n := 0
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if unicode.IsControl(r) {
			continue
		}
		if n == maxRunes {
			b.WriteString("...")
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// MaskToken keeps the first few characters of a credential so log lines can
// be correlated without leaking it.
func MaskToken(token string) string {
	const visible = 6
	if token == "" {
		return ""
	}
	if len(token) <= visible {
		return strings.Repeat("*", len(token))
	}
	return token[:visible] + strings.Repeat("*", 8)
}
