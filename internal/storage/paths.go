package storage

import (
	"strings"
	"unicode"
)

// Slug lowercases key and replaces runs of non-alphanumerics with one dash.
func Slug(key string) string {
	var builder strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && builder.Len() > 0 {
				builder.WriteByte('-')
			}
			pendingDash = false
			builder.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return builder.String()
}

// ExpandPath fills the {key} and {slug} placeholders of a path template.
func ExpandPath(template string, key string) string {
	return strings.NewReplacer("{key}", key, "{slug}", Slug(key)).Replace(template)
}
