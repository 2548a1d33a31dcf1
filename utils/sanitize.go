package utils

import (
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// CleanText strips all markup from user supplied text, trims it and truncates it to maxRunes.
func CleanText(input string, maxRunes int) string {
	out := strings.TrimSpace(strict.Sanitize(input))
	if maxRunes > 0 && utf8.RuneCountInString(out) > maxRunes {
		out = string([]rune(out)[:maxRunes])
	}
	return out
}
