package dispatch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// maxSpeechRunes is the ceiling on a single utterance.
	maxSpeechRunes = 200

	// boundaryFloor is how far back from the ceiling the sentence-boundary
	// search may go (70% of the ceiling).
	boundaryFloor = maxSpeechRunes * 7 / 10

	truncationMark = "..."
)

// unspeakableFallback replaces text that cannot be represented safely for
// the speech transport.
var unspeakableFallback = "メッセージを再生できませんでした。"

// sentenceDelimiters is the ordered boundary list for truncation; earlier
// entries are preferred cut points.
var sentenceDelimiters = []rune{'。', '！', '？', '.', '!', '?', '；', ';', '、', ',', ' '}

// SanitizeText prepares text for the speech sink: control characters are
// stripped, whitespace runs collapse to a single space, and text over the
// ceiling is truncated at the nearest preceding sentence boundary, falling
// back to a hard cut with a truncation mark when no boundary exists in the
// search window.
func SanitizeText(text string) string {
	if !utf8.ValidString(text) {
		return unspeakableFallback
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}

	collapsed := strings.Join(strings.Fields(b.String()), " ")
	return truncateAtBoundary(collapsed)
}

func truncateAtBoundary(text string) string {
	runes := []rune(text)
	if len(runes) <= maxSpeechRunes {
		return text
	}

	// Prefer earlier delimiters in the ordered list; for each, take the
	// closest occurrence at or before the ceiling, but not before the floor.
	for _, delim := range sentenceDelimiters {
		for i := maxSpeechRunes - 1; i >= boundaryFloor; i-- {
			if runes[i] == delim {
				return strings.TrimSpace(string(runes[:i+1]))
			}
		}
	}

	cut := maxSpeechRunes - len([]rune(truncationMark))
	return string(runes[:cut]) + truncationMark
}
