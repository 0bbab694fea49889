package formats

import (
	"strings"
	"unicode"
)

const maxFileNameRunes = 100

// CleanFileName makes a media title safe to use as a file name on every
// platform the files end up on. It returns "" when nothing usable is left.
func CleanFileName(title string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	name := strings.Trim(b.String(), ". ")
	if runes := []rune(name); len(runes) > maxFileNameRunes {
		name = strings.Trim(string(runes[:maxFileNameRunes]), ". ")
	}
	return name
}
