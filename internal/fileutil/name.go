package fileutil

import "strings"

// SanitizeToken makes value safe as a filename component. Letters, digits,
// hyphens and underscores are kept, runs of anything else collapse to a single
// underscore, and leading or trailing separators are trimmed. The result may
// be empty.
func SanitizeToken(value string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
		default:
			pending = true
		}
	}
	return strings.Trim(b.String(), "_-")
}
