package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"reelforge/src/core/assembly"
	"reelforge/src/core/status"
	"reelforge/src/infrastructure/jobstore"
	"reelforge/src/log"
)

// JobTypePipeline marks parent pipeline jobs in the job store.
const JobTypePipeline = "pipeline"

const (
	// MinVariants and MaxVariants bound the fan-out of one idea.
	MinVariants = 1
	MaxVariants = 10
)

var (
	ErrVariantCountOutOfRange = fmt.Errorf("variant count must be between %d and %d", MinVariants, MaxVariants)
	ErrVariantIndexOutOfRange = errors.New("variant index out of range")
	ErrNoVariantsSelected     = errors.New("no variant indices selected")
)

// Variant lifecycle labels before a render job exists. Once a render job
// is attached, the job's own status takes over in polling responses.
const (
	VariantStatusScripted  = "scripted"
	VariantStatusPreviewed = "previewed"
	VariantStatusRendering = "rendering"
	VariantStatusFailed    = "failed"
)

// ScriptWriter generates N independent scripts for one idea.
type ScriptWriter interface {
	Write(ctx context.Context, idea, context string, count int, provider string) ([]string, error)
}

// Variant is one independently scripted and rendered output of an idea.
// Error is set when a render dispatch for the variant fails before a job
// exists; once a job is attached, failures live on the job instead.
type Variant struct {
	Index       int               `json:"index"`
	ScriptText  string            `json:"script_text"`
	Preview     *assembly.Preview `json:"preview,omitempty"`
	RenderJobID string            `json:"render_job_id,omitempty"`
	Status      string            `json:"status"`
	Error       *string           `json:"error,omitempty"`
}

// Record is the persisted pipeline state, stored as the payload of the
// parent pipeline job. Variants are populated lazily and independently.
type Record struct {
	PipelineID string    `json:"pipeline_id"`
	Idea       string    `json:"idea"`
	Variants   []Variant `json:"variants"`
}

// RenderSettings carries the per-render options shared by the selected
// variants of one render call.
type RenderSettings struct {
	TTSModel          string `json:"tts_model"`
	Preset            string `json:"preset"`
	SubtitleStyle     string `json:"subtitle_style"`
	FallbackSegmentID string `json:"fallback_segment_id,omitempty"`
}

// VariantStatus is one entry of a pipeline polling response.
type VariantStatus struct {
	Index           int     `json:"index"`
	Status          string  `json:"status"`
	ProgressPercent int     `json:"progress_percent"`
	ProgressMessage string  `json:"progress_message,omitempty"`
	FinalPath       string  `json:"final_path,omitempty"`
	Error           *string `json:"error,omitempty"`
}

// Orchestrator fans one idea out into N independent variants, each
// delegating to the assembly engine on demand. recordMu serializes all
// load-modify-save cycles on pipeline records; two concurrent mutations
// of the same record must never overwrite each other's variant slots.
type Orchestrator struct {
	store    jobstore.Store
	writer   ScriptWriter
	engine   *assembly.Engine
	reader   *status.Reader
	recordMu sync.Mutex
}

func NewOrchestrator(store jobstore.Store, writer ScriptWriter, engine *assembly.Engine) *Orchestrator {
	return &Orchestrator{
		store:  store,
		writer: writer,
		engine: engine,
		reader: status.NewReader(store),
	}
}

// Generate calls the script writer once for all variants and persists a
// fresh pipeline record. No variant is previewed or rendered yet.
func (o *Orchestrator) Generate(ctx context.Context, idea, ideaContext string, variantCount int, provider string) (*Record, error) {
	if variantCount < MinVariants || variantCount > MaxVariants {
		return nil, ErrVariantCountOutOfRange
	}

	scripts, err := o.writer.Write(ctx, idea, ideaContext, variantCount, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to generate scripts: %w", err)
	}
	if len(scripts) != variantCount {
		return nil, fmt.Errorf("script writer returned %d scripts, expected %d", len(scripts), variantCount)
	}

	record := &Record{
		PipelineID: uuid.NewString(),
		Idea:       idea,
		Variants:   make([]Variant, 0, variantCount),
	}
	for i, script := range scripts {
		record.Variants = append(record.Variants, Variant{
			Index:      i,
			ScriptText: script,
			Status:     VariantStatusScripted,
		})
	}

	if err := o.createRecord(ctx, record); err != nil {
		return nil, err
	}

	return record, nil
}

// Preview runs a dry-run match for exactly one variant. Variants are
// never previewed in bulk; synthesis cost is only paid for variants the
// user actually inspects.
//
// Synthesis is seconds wide and runs outside the record lock; the record
// is re-read under the lock before saving, so a render dispatched for a
// sibling variant in the meantime keeps its job id.
func (o *Orchestrator) Preview(ctx context.Context, pipelineID string, variantIndex int, ttsModel string) (*assembly.Preview, error) {
	record, err := o.loadRecord(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if variantIndex < 0 || variantIndex >= len(record.Variants) {
		return nil, ErrVariantIndexOutOfRange
	}

	preview, err := o.engine.PreviewMatches(ctx, record.Variants[variantIndex].ScriptText, ttsModel)
	if err != nil {
		return nil, err
	}

	o.recordMu.Lock()
	defer o.recordMu.Unlock()

	record, err = o.loadRecord(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	variant := &record.Variants[variantIndex]
	variant.Preview = preview
	if variant.Status == VariantStatusScripted {
		variant.Status = VariantStatusPreviewed
	}
	if err := o.saveRecord(ctx, record); err != nil {
		return nil, err
	}

	return preview, nil
}

// Render dispatches a render job for each selected variant. Variants
// render independently: a dispatch failure on one is recorded on that
// variant's slot and does not block the others.
func (o *Orchestrator) Render(ctx context.Context, pipelineID string, variantIndices []int, settings RenderSettings) error {
	if len(variantIndices) == 0 {
		return ErrNoVariantsSelected
	}

	o.recordMu.Lock()
	defer o.recordMu.Unlock()

	record, err := o.loadRecord(ctx, pipelineID)
	if err != nil {
		return err
	}
	for _, index := range variantIndices {
		if index < 0 || index >= len(record.Variants) {
			return ErrVariantIndexOutOfRange
		}
	}

	for _, index := range variantIndices {
		variant := &record.Variants[index]
		jobID, err := o.engine.AssembleAndRender(ctx, assembly.Request{
			ScriptText:        variant.ScriptText,
			TTSModel:          settings.TTSModel,
			Preset:            settings.Preset,
			SubtitleStyle:     settings.SubtitleStyle,
			FallbackSegmentID: settings.FallbackSegmentID,
		})
		if err != nil {
			errMsg := fmt.Sprintf("failed to dispatch render: %v", err)
			variant.Status = VariantStatusFailed
			variant.Error = &errMsg
			log.Error(err, "failed to dispatch variant render",
				"pipeline_id", pipelineID, "variant_index", index)
			continue
		}
		variant.RenderJobID = jobID
		variant.Status = VariantStatusRendering
		variant.Error = nil
	}

	return o.saveRecord(ctx, record)
}

// Status merges the pipeline record with the live state of each variant's
// render job. Variants without a render job report their recorded
// pre-render status.
func (o *Orchestrator) Status(ctx context.Context, pipelineID string) ([]VariantStatus, error) {
	record, err := o.loadRecord(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	statuses := make([]VariantStatus, 0, len(record.Variants))
	for _, variant := range record.Variants {
		entry := VariantStatus{
			Index:  variant.Index,
			Status: variant.Status,
			Error:  variant.Error,
		}
		if variant.RenderJobID != "" {
			view, err := o.reader.ChildView(ctx, variant.RenderJobID)
			if err != nil {
				return nil, fmt.Errorf("failed to read render job for variant %d: %w", variant.Index, err)
			}
			entry.Status = string(view.Status)
			entry.ProgressPercent = view.ProgressPercent
			entry.ProgressMessage = view.ProgressMessage
			entry.FinalPath = view.FinalPath
			entry.Error = view.Error
		}
		statuses = append(statuses, entry)
	}

	return statuses, nil
}

func (o *Orchestrator) createRecord(ctx context.Context, record *Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline record: %w", err)
	}

	_, err = o.store.Create(ctx, &jobstore.Job{
		ID:              record.PipelineID,
		JobType:         JobTypePipeline,
		Status:          jobstore.JobStatusCompleted,
		ProgressPercent: 100,
		ProgressMessage: "scripts generated",
		Payload:         payload,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline record: %w", err)
	}
	return nil
}

func (o *Orchestrator) loadRecord(ctx context.Context, pipelineID string) (*Record, error) {
	var record Record
	if _, err := o.reader.Parent(ctx, pipelineID, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (o *Orchestrator) saveRecord(ctx context.Context, record *Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline record: %w", err)
	}
	if _, err := o.store.Update(ctx, record.PipelineID, jobstore.Patch{Payload: payload}); err != nil {
		return fmt.Errorf("failed to save pipeline record: %w", err)
	}
	return nil
}
