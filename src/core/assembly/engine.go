package assembly

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"reelforge/src/core/matching"
	"reelforge/src/infrastructure/jobstore"
	"reelforge/src/log"
)

// Progress checkpoints reported while a render job moves through its
// stages. Polling clients read these off the job record.
const (
	progressSynthesized = 20
	progressMatched     = 40
	progressAssembled   = 60
	progressRendered    = 90
	progressDone        = 100
)

// JobMessage is the payload published to dispatch a render job to the
// background worker.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// Engine runs the per-item production pipeline: synthesize narration,
// derive phrases, match segments, build a timeline and render, reporting
// progress into the job store at each stage.
type Engine struct {
	store     jobstore.Store
	synth     Synthesizer
	renderer  Renderer
	segments  SegmentSource
	artifacts ArtifactStore
	publisher message.Publisher
}

// NewEngine wires the engine's collaborators. artifacts may be nil, in
// which case the renderer's output path is kept as the final location.
func NewEngine(
	store jobstore.Store,
	synth Synthesizer,
	renderer Renderer,
	segments SegmentSource,
	artifacts ArtifactStore,
	publisher message.Publisher,
) *Engine {
	return &Engine{
		store:     store,
		synth:     synth,
		renderer:  renderer,
		segments:  segments,
		artifacts: artifacts,
		publisher: publisher,
	}
}

// PreviewMatches is a dry run: one synthesize call for timing, then pure
// matching. It touches neither the job store nor the renderer, so it is
// safe to call repeatedly while a user iterates on a script.
func (e *Engine) PreviewMatches(ctx context.Context, scriptText, ttsModel string) (*Preview, error) {
	if strings.TrimSpace(scriptText) == "" {
		return nil, ErrEmptyScript
	}

	speech, err := e.synth.Synthesize(ctx, scriptText, ttsModel)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize narration: %w", err)
	}

	segments, err := e.segments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load segment library: %w", err)
	}

	phrases := DerivePhrases(speech.Characters)
	matches := matching.Match(phrases, segments)

	preview := &Preview{
		Matches:       matches,
		AudioDuration: speech.Duration,
	}
	for _, match := range matches {
		if match.Matched() {
			preview.MatchedCount++
		} else {
			preview.UnmatchedCount++
		}
	}

	return preview, nil
}

// CreateRenderJob persists a pending render job for the request and
// returns its id without starting any work.
func (e *Engine) CreateRenderJob(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.ScriptText) == "" {
		return "", ErrEmptyScript
	}

	payload, err := json.Marshal(RenderPayload{Request: req})
	if err != nil {
		return "", fmt.Errorf("failed to marshal render payload: %w", err)
	}

	job, err := e.store.Create(ctx, &jobstore.Job{
		JobType:         JobTypeRender,
		Status:          jobstore.JobStatusPending,
		ProgressMessage: "queued",
		Payload:         payload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create render job: %w", err)
	}

	return job.ID, nil
}

// AssembleAndRender creates a render job and dispatches it to the
// background worker. The returned job id is the handle for polling.
func (e *Engine) AssembleAndRender(ctx context.Context, req Request) (string, error) {
	jobID, err := e.CreateRenderJob(ctx, req)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(JobMessage{JobID: jobID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job message: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := e.publisher.Publish(RenderJobsTopic, msg); err != nil {
		return "", fmt.Errorf("failed to publish render job: %w", err)
	}

	return jobID, nil
}

// ProcessMessage is the worker handler for dispatched render jobs. Any
// processing failure is already captured on the job record, so the
// message is always consumed.
func (e *Engine) ProcessMessage(msg *message.Message) error {
	var jobMsg JobMessage
	if err := json.Unmarshal(msg.Payload, &jobMsg); err != nil {
		return fmt.Errorf("failed to unmarshal job message: %w", err)
	}

	if err := e.RunJob(context.Background(), jobMsg.JobID); err != nil {
		log.Error(err, "render job failed", "job_id", jobMsg.JobID)
	}
	return nil
}

// RunJob executes the render pipeline for an existing job, synchronously.
// Every stage failure is captured onto the job as a failed terminal state
// with a human-readable error; the error is also returned so sequential
// callers can account for it, but it never crosses the worker boundary.
func (e *Engine) RunJob(ctx context.Context, jobID string) error {
	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load render job: %w", err)
	}
	if job.Status.Terminal() {
		return nil
	}

	var payload RenderPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return e.failJob(ctx, jobID, fmt.Errorf("invalid render payload: %w", err))
	}

	e.progress(ctx, jobID, jobstore.JobStatusProcessing, 5, "starting")

	// stage 1: narration
	speech, err := e.synth.Synthesize(ctx, payload.ScriptText, payload.TTSModel)
	if err != nil {
		return e.failJob(ctx, jobID, fmt.Errorf("narration synthesis failed: %w", err))
	}
	payload.AudioDuration = speech.Duration
	e.progress(ctx, jobID, "", progressSynthesized, "narration synthesized")

	// stage 2: matching
	segments, err := e.segments.List(ctx)
	if err != nil {
		return e.failJob(ctx, jobID, fmt.Errorf("failed to load segment library: %w", err))
	}
	phrases := DerivePhrases(speech.Characters)
	payload.Matches = matching.Match(phrases, segments)
	e.updatePayload(ctx, jobID, payload)
	e.progress(ctx, jobID, "", progressMatched, "segments matched")

	// stage 3: timeline
	timeline := BuildTimeline(payload.Matches, segments, findSegment(segments, payload.FallbackSegmentID))
	e.progress(ctx, jobID, "", progressAssembled, "timeline assembled")

	// stage 4: render
	artifactPath, err := e.renderer.Render(ctx, timeline, payload.Preset, payload.SubtitleStyle)
	if err != nil {
		return e.failJob(ctx, jobID, fmt.Errorf("render failed: %w", err))
	}
	payload.FinalPath = artifactPath
	e.progress(ctx, jobID, "", progressRendered, "rendered")

	// stage 5: publish artifact
	if e.artifacts != nil {
		url, err := e.artifacts.StoreArtifact(ctx, artifactPath, jobID+filepath.Ext(artifactPath))
		if err != nil {
			return e.failJob(ctx, jobID, fmt.Errorf("failed to store artifact: %w", err))
		}
		payload.ArtifactURL = url
	}

	e.updatePayload(ctx, jobID, payload)
	e.progress(ctx, jobID, jobstore.JobStatusCompleted, progressDone, "completed")

	return nil
}

func (e *Engine) failJob(ctx context.Context, jobID string, cause error) error {
	status := jobstore.JobStatusFailed
	errMsg := cause.Error()
	zero := 0
	_, err := e.store.Update(ctx, jobID, jobstore.Patch{
		Status:          &status,
		ProgressPercent: &zero,
		Error:           &errMsg,
	})
	if err != nil {
		log.Error(err, "failed to record job failure", "job_id", jobID)
	}
	return cause
}

func (e *Engine) progress(ctx context.Context, jobID string, status jobstore.JobStatus, percent int, message string) {
	patch := jobstore.Patch{
		ProgressPercent: &percent,
		ProgressMessage: &message,
	}
	if status != "" {
		patch.Status = &status
	}
	if _, err := e.store.Update(ctx, jobID, patch); err != nil {
		log.Error(err, "failed to update job progress", "job_id", jobID)
	}
}

func (e *Engine) updatePayload(ctx context.Context, jobID string, payload RenderPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error(err, "failed to marshal render payload", "job_id", jobID)
		return
	}
	if _, err := e.store.Update(ctx, jobID, jobstore.Patch{Payload: raw}); err != nil {
		log.Error(err, "failed to update job payload", "job_id", jobID)
	}
}

func findSegment(segments []matching.Segment, id string) *matching.Segment {
	if id == "" {
		return nil
	}
	for i := range segments {
		if segments[i].ID == id {
			return &segments[i]
		}
	}
	return nil
}
