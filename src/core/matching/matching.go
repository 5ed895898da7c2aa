package matching

import (
	"strings"
	"unicode"
)

// Phrase is one timed unit of narration text derived from synthesizer
// character timestamps.
type Phrase struct {
	Index int     `json:"index"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a tagged media clip annotated with keywords, the unit
// selected by the matcher.
type Segment struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	MediaURL string   `json:"media_url"`
	Duration float64  `json:"duration"`
	Keywords []string `json:"keywords"`
}

// MatchPreview is the matching result for a single phrase. For an
// unmatched phrase SegmentID and MatchedKeyword are nil and Confidence
// is zero; the three always agree.
type MatchPreview struct {
	PhraseIndex     int      `json:"phrase_index"`
	Text            string   `json:"text"`
	StartTime       float64  `json:"start_time"`
	EndTime         float64  `json:"end_time"`
	SegmentID       *string  `json:"segment_id"`
	SegmentKeywords []string `json:"segment_keywords,omitempty"`
	MatchedKeyword  *string  `json:"matched_keyword"`
	Confidence      float64  `json:"confidence"`
}

// Matched reports whether the phrase was assigned a segment.
func (p MatchPreview) Matched() bool {
	return p.SegmentID != nil
}

// Normalize lowercases text and strips punctuation, collapsing runs of
// whitespace to single spaces. Matching operates on normalized text only.
func Normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Match assigns each phrase the highest-confidence segment from the
// candidate list. It is pure and deterministic: no I/O, no side effects,
// identical inputs always produce identical output, so it can run
// repeatedly during preview without committing anything.
//
// Confidence is the fraction of a segment's keywords found in the phrase,
// by exact token match or substring containment on normalized text. There
// is no stemming, fuzzy distance or semantic similarity. Ties are broken
// by segment registration order: the earliest segment in the slice wins.
func Match(phrases []Phrase, segments []Segment) []MatchPreview {
	previews := make([]MatchPreview, 0, len(phrases))

	for _, phrase := range phrases {
		preview := MatchPreview{
			PhraseIndex: phrase.Index,
			Text:        phrase.Text,
			StartTime:   phrase.Start,
			EndTime:     phrase.End,
		}

		normText := Normalize(phrase.Text)
		tokens := tokenSet(normText)

		best := -1
		bestScore := 0.0
		var bestKeyword string

		for i, segment := range segments {
			score, keyword := scoreSegment(normText, tokens, segment)
			// strict greater keeps the earliest candidate on a tie
			if score > bestScore {
				best = i
				bestScore = score
				bestKeyword = keyword
			}
		}

		if best >= 0 {
			id := segments[best].ID
			keyword := bestKeyword
			preview.SegmentID = &id
			preview.SegmentKeywords = segments[best].Keywords
			preview.MatchedKeyword = &keyword
			preview.Confidence = bestScore
		}

		previews = append(previews, preview)
	}

	return previews
}

// scoreSegment returns the fraction of the segment's keywords present in
// the phrase and the first keyword that matched, in keyword order.
func scoreSegment(normText string, tokens map[string]struct{}, segment Segment) (float64, string) {
	if len(segment.Keywords) == 0 {
		return 0, ""
	}

	hits := 0
	first := ""
	for _, keyword := range segment.Keywords {
		normKeyword := Normalize(keyword)
		if normKeyword == "" {
			continue
		}
		_, exact := tokens[normKeyword]
		if exact || strings.Contains(normText, normKeyword) {
			hits++
			if first == "" {
				first = keyword
			}
		}
	}
	if hits == 0 {
		return 0, ""
	}

	return float64(hits) / float64(len(segment.Keywords)), first
}

func tokenSet(normText string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, token := range strings.Fields(normText) {
		tokens[token] = struct{}{}
	}
	return tokens
}
