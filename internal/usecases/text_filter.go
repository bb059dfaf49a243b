package usecases

import (
	"strings"
	"unicode"

	"autodm/internal/entities"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// IsMeaningful reports whether a comment has text worth matching against
// rules. Animated-image comments and comments made only of emoji are not.
func IsMeaningful(evt *entities.EngagementEvent) bool {
	if evt.IsAnimatedImage {
		return false
	}
	text := strings.TrimSpace(evt.Text)
	if text == "" {
		return false
	}

	gr := uniseg.NewGraphemes(text)
	for gr.Next() {
		runes := gr.Runes()
		if isSpaceCluster(runes) {
			continue
		}
		if !isEmojiCluster(runes) {
			return true
		}
	}
	return false
}

func isSpaceCluster(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// isEmojiCluster checks the first rune of a grapheme cluster; modifiers,
// joiners and variation selectors ride along in the same cluster.
func isEmojiCluster(runes []rune) bool {
	r := runes[0]
	switch {
	case r >= 0x1F000 && r <= 0x1FFFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x2B00 && r <= 0x2BFF:
		return true
	}
	return unicode.Is(unicode.So, r)
}

// Normalize prepares text for trigger comparison: NFC, lower-case, and no
// whitespace at all.
func Normalize(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
