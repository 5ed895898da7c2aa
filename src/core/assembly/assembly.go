package assembly

import (
	"context"
	"errors"

	"reelforge/src/core/matching"
)

const (
	// RenderJobsTopic is the pub/sub topic render jobs are dispatched on.
	RenderJobsTopic = "render-jobs"

	// JobTypeRender marks single-item render jobs in the job store.
	JobTypeRender = "render"
)

// ErrEmptyScript is returned when a render is requested for an empty script.
var ErrEmptyScript = errors.New("script text is empty")

// TimedChar is one narration character with its start and end time in
// seconds, as reported by the synthesizer.
type TimedChar struct {
	Char  string  `json:"char"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Speech is the result of narration synthesis.
type Speech struct {
	Audio      []byte
	Characters []TimedChar
	Duration   float64
}

// Synthesizer produces narration audio with character timestamps.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, model string) (*Speech, error)
}

// Renderer turns a timeline into a media artifact. It may fail; the
// engine captures the failure on the job rather than letting it escape.
type Renderer interface {
	Render(ctx context.Context, timeline Timeline, preset, subtitleStyle string) (string, error)
}

// SegmentSource supplies the media segment library candidates for matching.
type SegmentSource interface {
	List(ctx context.Context) ([]matching.Segment, error)
}

// ArtifactStore publishes a rendered file to durable object storage and
// returns its location.
type ArtifactStore interface {
	StoreArtifact(ctx context.Context, localPath, objectName string) (string, error)
}

// Preview is the result of a dry-run match: no job is created, nothing is
// persisted, so a user can iterate on a script before committing a render.
type Preview struct {
	Matches        []matching.MatchPreview `json:"matches"`
	AudioDuration  float64                 `json:"audio_duration"`
	MatchedCount   int                     `json:"matched_count"`
	UnmatchedCount int                     `json:"unmatched_count"`
}

// Request describes one render of one script.
type Request struct {
	ScriptText        string `json:"script_text"`
	TTSModel          string `json:"tts_model"`
	Preset            string `json:"preset"`
	SubtitleStyle     string `json:"subtitle_style"`
	FallbackSegmentID string `json:"fallback_segment_id,omitempty"`
}

// RenderPayload is the persisted payload of a render job. Matches and the
// final artifact location are filled in as the stages complete.
type RenderPayload struct {
	Request
	Matches       []matching.MatchPreview `json:"matches,omitempty"`
	AudioDuration float64                 `json:"audio_duration,omitempty"`
	FinalPath     string                  `json:"final_path,omitempty"`
	ArtifactURL   string                  `json:"artifact_url,omitempty"`
}
