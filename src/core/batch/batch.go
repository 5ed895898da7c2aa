package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"reelforge/src/core/assembly"
	"reelforge/src/core/status"
	"reelforge/src/infrastructure/jobstore"
	"reelforge/src/log"
)

// JobTypeBatch marks parent batch jobs in the job store.
const JobTypeBatch = "batch"

const (
	// MinItems and MaxItems bound one batch dispatch.
	MinItems = 2
	MaxItems = 50
)

var ErrBatchSizeOutOfRange = fmt.Errorf("batch must contain between %d and %d items", MinItems, MaxItems)

// Item lifecycle labels within a batch record.
const (
	ItemStatusQueued     = "queued"
	ItemStatusProcessing = "processing"
	ItemStatusCompleted  = "completed"
	ItemStatusFailed     = "failed"
)

// ItemSource resolves a batch item id to its catalog title and
// description, the raw material for script writing.
type ItemSource interface {
	Get(ctx context.Context, itemID string) (title, description string, err error)
}

// ScriptWriter writes a production script for one catalog item.
type ScriptWriter interface {
	Write(ctx context.Context, idea, context string, count int, provider string) ([]string, error)
}

// Settings apply to every item of a batch.
type Settings struct {
	TTSModel          string `json:"tts_model"`
	Preset            string `json:"preset"`
	SubtitleStyle     string `json:"subtitle_style"`
	Provider          string `json:"provider,omitempty"`
	FallbackSegmentID string `json:"fallback_segment_id,omitempty"`
}

// Item is one unit of batch fan-out. Exactly one of Error or Result is
// set once the item is terminal.
type Item struct {
	ItemID   string  `json:"item_id"`
	JobID    string  `json:"job_id,omitempty"`
	Title    string  `json:"title,omitempty"`
	Status   string  `json:"status"`
	Progress int     `json:"progress"`
	Error    *string `json:"error,omitempty"`
	Result   *string `json:"result,omitempty"`
}

// Record is the persisted batch state, stored as the payload of the
// parent batch job. The top-level Status field is bookkeeping written at
// finalize time; polling responses always recompute the canonical status
// from item states instead of trusting it.
type Record struct {
	BatchID   string   `json:"batch_id"`
	Settings  Settings `json:"settings"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Status    string   `json:"status"`
	Items     []Item   `json:"items"`
}

// Status is the polling response for a batch.
type Status struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Items     []Item `json:"items"`
}

// Orchestrator processes M arbitrary catalog items sequentially through
// the single-item pipeline, with per-item error isolation.
type Orchestrator struct {
	store  jobstore.Store
	items  ItemSource
	writer ScriptWriter
	engine *assembly.Engine
	reader *status.Reader
}

func NewOrchestrator(store jobstore.Store, items ItemSource, writer ScriptWriter, engine *assembly.Engine) *Orchestrator {
	return &Orchestrator{
		store:  store,
		items:  items,
		writer: writer,
		engine: engine,
		reader: status.NewReader(store),
	}
}

// Dispatch validates the item count, persists a fresh batch record with
// every item queued, and launches exactly one background control loop.
// On a bounds violation nothing is created.
func (o *Orchestrator) Dispatch(ctx context.Context, itemIDs []string, settings Settings) (*Record, error) {
	if len(itemIDs) < MinItems || len(itemIDs) > MaxItems {
		return nil, ErrBatchSizeOutOfRange
	}

	record := &Record{
		BatchID:  uuid.NewString(),
		Settings: settings,
		Total:    len(itemIDs),
		Status:   string(jobstore.JobStatusProcessing),
		Items:    make([]Item, 0, len(itemIDs)),
	}
	for _, itemID := range itemIDs {
		record.Items = append(record.Items, Item{
			ItemID: itemID,
			Status: ItemStatusQueued,
		})
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch record: %w", err)
	}
	_, err = o.store.Create(ctx, &jobstore.Job{
		ID:              record.BatchID,
		JobType:         JobTypeBatch,
		Status:          jobstore.JobStatusProcessing,
		ProgressMessage: fmt.Sprintf("0/%d items", record.Total),
		Payload:         payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch record: %w", err)
	}

	go o.run(context.WithoutCancel(ctx), record)

	return record, nil
}

// run is the batch control loop. Items are processed strictly one at a
// time: the render backend is memory-heavy and shared, so the batch layer
// trades throughput for not competing with itself. A failure in item i is
// recorded on that item and the loop moves on to item i+1.
func (o *Orchestrator) run(ctx context.Context, record *Record) {
	for i := range record.Items {
		record.Items[i].Status = ItemStatusProcessing
		o.saveRecord(ctx, record, fmt.Sprintf("%d/%d items", i, record.Total))

		outcome := o.processItem(ctx, record, &record.Items[i])
		if outcome != nil {
			errMsg := outcome.Error()
			record.Items[i].Status = ItemStatusFailed
			record.Items[i].Error = &errMsg
			log.Error(outcome, "batch item failed",
				"batch_id", record.BatchID, "item_id", record.Items[i].ItemID)
		} else {
			record.Items[i].Status = ItemStatusCompleted
			record.Items[i].Progress = 100
		}
		o.saveRecord(ctx, record, fmt.Sprintf("%d/%d items", i+1, record.Total))
	}

	o.finalize(ctx, record)
}

// processItem runs one item end to end and returns its failure, if any,
// as a value. Nothing here panics past this boundary and nothing is
// re-raised: the returned error is the item's whole outcome.
func (o *Orchestrator) processItem(ctx context.Context, record *Record, item *Item) error {
	title, description, err := o.items.Get(ctx, item.ItemID)
	if err != nil {
		return fmt.Errorf("failed to resolve item: %w", err)
	}
	item.Title = title

	scripts, err := o.writer.Write(ctx, title, description, 1, record.Settings.Provider)
	if err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	if len(scripts) == 0 {
		return fmt.Errorf("script writer returned no script")
	}

	jobID, err := o.engine.CreateRenderJob(ctx, assembly.Request{
		ScriptText:        scripts[0],
		TTSModel:          record.Settings.TTSModel,
		Preset:            record.Settings.Preset,
		SubtitleStyle:     record.Settings.SubtitleStyle,
		FallbackSegmentID: record.Settings.FallbackSegmentID,
	})
	if err != nil {
		return fmt.Errorf("failed to create render job: %w", err)
	}
	item.JobID = jobID

	if err := o.engine.RunJob(ctx, jobID); err != nil {
		return err
	}

	if view, err := o.reader.ChildView(ctx, jobID); err == nil && view.FinalPath != "" {
		result := view.FinalPath
		item.Result = &result
	}
	return nil
}

// finalize recounts terminal item states after the loop exits. The
// completed+failed==total invariant must hold here regardless of which
// items failed.
func (o *Orchestrator) finalize(ctx context.Context, record *Record) {
	record.Completed = 0
	record.Failed = 0
	for _, item := range record.Items {
		switch item.Status {
		case ItemStatusCompleted:
			record.Completed++
		case ItemStatusFailed:
			record.Failed++
		}
	}
	if record.Completed+record.Failed != record.Total {
		log.Error(fmt.Errorf("completed %d + failed %d != total %d", record.Completed, record.Failed, record.Total),
			"batch accounting mismatch", "batch_id", record.BatchID)
	}
	record.Status = string(jobstore.JobStatusCompleted)
	o.saveRecord(ctx, record, fmt.Sprintf("%d/%d items", record.Total, record.Total))

	done := jobstore.JobStatusCompleted
	full := 100
	if _, err := o.store.Update(ctx, record.BatchID, jobstore.Patch{Status: &done, ProgressPercent: &full}); err != nil {
		log.Error(err, "failed to finalize batch job", "batch_id", record.BatchID)
	}
}

// Status recomputes the batch aggregate from live item states rather than
// trusting the status stored at finalize time: processing while any item
// is non-terminal, completed once all are.
func (o *Orchestrator) Status(ctx context.Context, batchID string) (*Status, error) {
	record, err := o.loadRecord(ctx, batchID)
	if err != nil {
		return nil, err
	}

	result := &Status{
		Total: record.Total,
		Items: record.Items,
	}

	allTerminal := true
	for i := range result.Items {
		item := &result.Items[i]
		if item.JobID != "" && !terminalItem(item.Status) {
			if view, err := o.reader.ChildView(ctx, item.JobID); err == nil {
				item.Progress = view.ProgressPercent
			}
		}
		switch item.Status {
		case ItemStatusCompleted:
			result.Completed++
		case ItemStatusFailed:
			result.Failed++
		default:
			allTerminal = false
		}
	}

	if allTerminal {
		result.Status = string(jobstore.JobStatusCompleted)
	} else {
		result.Status = string(jobstore.JobStatusProcessing)
	}
	return result, nil
}

// RetryFailed dispatches a new batch containing exactly the failed item
// ids of an existing batch. Completed items are never re-included; the
// subset is subject to the same size bounds as any dispatch.
func (o *Orchestrator) RetryFailed(ctx context.Context, batchID string) (*Record, error) {
	record, err := o.loadRecord(ctx, batchID)
	if err != nil {
		return nil, err
	}

	var failedIDs []string
	for _, item := range record.Items {
		if item.Status == ItemStatusFailed {
			failedIDs = append(failedIDs, item.ItemID)
		}
	}

	return o.Dispatch(ctx, failedIDs, record.Settings)
}

func terminalItem(itemStatus string) bool {
	return itemStatus == ItemStatusCompleted || itemStatus == ItemStatusFailed
}

func (o *Orchestrator) loadRecord(ctx context.Context, batchID string) (*Record, error) {
	var record Record
	if _, err := o.reader.Parent(ctx, batchID, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (o *Orchestrator) saveRecord(ctx context.Context, record *Record, progress string) {
	payload, err := json.Marshal(record)
	if err != nil {
		log.Error(err, "failed to marshal batch record", "batch_id", record.BatchID)
		return
	}
	patch := jobstore.Patch{Payload: payload}
	if progress != "" {
		patch.ProgressMessage = &progress
	}
	if _, err := o.store.Update(ctx, record.BatchID, patch); err != nil {
		log.Error(err, "failed to save batch record", "batch_id", record.BatchID)
	}
}
