package assembly

import (
	"strings"

	"reelforge/src/core/matching"
)

// DerivePhrases groups synthesizer character timestamps into timed
// narration phrases. A phrase ends at sentence punctuation or a newline;
// its window spans the first to the last character it contains. Phrases
// that contain no visible text are dropped.
func DerivePhrases(chars []TimedChar) []matching.Phrase {
	var phrases []matching.Phrase

	var text strings.Builder
	start := 0.0
	end := 0.0
	open := false

	flush := func() {
		trimmed := strings.TrimSpace(text.String())
		if trimmed != "" {
			phrases = append(phrases, matching.Phrase{
				Index: len(phrases),
				Text:  trimmed,
				Start: start,
				End:   end,
			})
		}
		text.Reset()
		open = false
	}

	for _, c := range chars {
		if !open {
			if strings.TrimSpace(c.Char) == "" {
				continue
			}
			start = c.Start
			open = true
		}
		end = c.End

		if c.Char == "\n" {
			flush()
			continue
		}

		text.WriteString(c.Char)
		if isSentenceEnd(c.Char) {
			flush()
		}
	}
	flush()

	return phrases
}

func isSentenceEnd(char string) bool {
	switch char {
	case ".", "!", "?":
		return true
	}
	return false
}
