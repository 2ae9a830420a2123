package validators

import (
	"strings"
	"unicode"
)

// SanitizeString collapses runs of whitespace, drops control characters and
// truncates to maxLen runes. maxLen <= 0 means no limit.
func SanitizeString(input string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(input))
	space := false
	n := 0
	for _, r := range strings.TrimSpace(input) {
		if maxLen > 0 && n >= maxLen {
			break
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if space && b.Len() > 0 {
			if maxLen > 0 && n+1 >= maxLen {
				break
			}
			b.WriteByte(' ')
			n++
		}
		space = false
		b.WriteRune(r)
		n++
	}
	return b.String()
}
