package assembly

import (
	"math"

	"reelforge/src/core/matching"
)

// Entry is one slot of the render timeline, covering exactly one phrase
// window. A matched segment is trimmed or looped to fill the window; an
// unmatched phrase becomes either the fallback segment or an explicit gap
// that carries only the subtitle text over background.
type Entry struct {
	Index        int     `json:"index"`
	SegmentID    string  `json:"segment_id,omitempty"`
	MediaURL     string  `json:"media_url,omitempty"`
	SubtitleText string  `json:"subtitle_text"`
	Start        float64 `json:"start"`
	Duration     float64 `json:"duration"`
	LoopCount    int     `json:"loop_count,omitempty"`
	Gap          bool    `json:"gap,omitempty"`
}

// Timeline is the ordered set of entries handed to the render backend.
type Timeline struct {
	Entries       []Entry `json:"entries"`
	TotalDuration float64 `json:"total_duration"`
}

// BuildTimeline lays out one entry per match preview, in phrase order.
// fallback may be nil, in which case unmatched phrases produce gaps.
func BuildTimeline(previews []matching.MatchPreview, segments []matching.Segment, fallback *matching.Segment) Timeline {
	byID := make(map[string]matching.Segment, len(segments))
	for _, segment := range segments {
		byID[segment.ID] = segment
	}

	timeline := Timeline{Entries: make([]Entry, 0, len(previews))}
	for _, preview := range previews {
		entry := Entry{
			Index:        preview.PhraseIndex,
			SubtitleText: preview.Text,
			Start:        preview.StartTime,
			Duration:     preview.EndTime - preview.StartTime,
		}

		segment, ok := resolveSegment(preview, byID, fallback)
		if ok {
			entry.SegmentID = segment.ID
			entry.MediaURL = segment.MediaURL
			entry.LoopCount = loopCount(segment.Duration, entry.Duration)
		} else {
			entry.Gap = true
		}

		timeline.Entries = append(timeline.Entries, entry)
		if end := preview.EndTime; end > timeline.TotalDuration {
			timeline.TotalDuration = end
		}
	}

	return timeline
}

func resolveSegment(preview matching.MatchPreview, byID map[string]matching.Segment, fallback *matching.Segment) (matching.Segment, bool) {
	if preview.Matched() {
		if segment, ok := byID[*preview.SegmentID]; ok {
			return segment, true
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return matching.Segment{}, false
}

// loopCount returns how many times the clip must repeat to cover the
// phrase window. A clip at least as long as the window is trimmed, not
// looped.
func loopCount(clipDuration, windowDuration float64) int {
	if clipDuration <= 0 || clipDuration >= windowDuration {
		return 1
	}
	return int(math.Ceil(windowDuration / clipDuration))
}
