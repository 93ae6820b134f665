package lifecycle

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxDisplayNameRunes caps how long a display name may be.
const MaxDisplayNameRunes = 24

// NormalizeDisplayName composes, trims and collapses whitespace in a display
// name, drops control characters and truncates it to MaxDisplayNameRunes.
func NormalizeDisplayName(name string) string {
	composed := norm.NFC.String(name)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, composed)
	collapsed := strings.Join(strings.Fields(cleaned), " ")
	runes := []rune(collapsed)
	if len(runes) > MaxDisplayNameRunes {
		collapsed = strings.TrimSpace(string(runes[:MaxDisplayNameRunes]))
	}
	return collapsed
}
