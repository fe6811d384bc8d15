package dispatch

import (
	"strings"
	"unicode"
)

// Sanitize backslash-escapes every rune Telegram MarkdownV2 could read as
// markup. Letters, marks, decimal digits, whitespace and ' ’ $ € pass.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	for _, r := range s {
		if !passes(r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func passes(r rune) bool {
	switch r {
	case '\'', '’', '$', '€':
		return true
	}
	return unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsDigit(r) || unicode.IsSpace(r)
}

// Format renders the notification for one deal. Only the title is escaped.
func Format(title, link string) string {
	return "[" + Sanitize(title) + "](" + link + ")"
}
