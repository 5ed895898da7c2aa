package status

import (
	"context"
	"encoding/json"

	"reelforge/src/core/assembly"
	"reelforge/src/infrastructure/jobstore"
)

// View is the polling-facing snapshot of one child render job.
type View struct {
	Status          jobstore.JobStatus `json:"status"`
	ProgressPercent int                `json:"progress_percent"`
	ProgressMessage string             `json:"progress_message,omitempty"`
	FinalPath       string             `json:"final_path,omitempty"`
	Error           *string            `json:"error,omitempty"`
}

// Reader merges parent and child job records into polling responses. It
// only reads; a concurrent write may make a snapshot slightly stale,
// which self-heals on the next poll.
type Reader struct {
	store jobstore.Store
}

func NewReader(store jobstore.Store) *Reader {
	return &Reader{store: store}
}

// Parent loads a parent job and decodes its record payload into out.
func (r *Reader) Parent(ctx context.Context, jobID string, out interface{}) (*jobstore.Job, error) {
	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(job.Payload, out); err != nil {
		return nil, err
	}
	return job, nil
}

// ChildView reads one render job and flattens it into a View. The final
// artifact location is taken from the job payload, preferring the object
// store URL over the renderer's local path.
func (r *Reader) ChildView(ctx context.Context, jobID string) (*View, error) {
	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &View{
		Status:          job.Status,
		ProgressPercent: job.ProgressPercent,
		ProgressMessage: job.ProgressMessage,
		Error:           job.Error,
	}

	var payload assembly.RenderPayload
	if len(job.Payload) > 0 && json.Unmarshal(job.Payload, &payload) == nil {
		view.FinalPath = payload.FinalPath
		if payload.ArtifactURL != "" {
			view.FinalPath = payload.ArtifactURL
		}
	}

	return view, nil
}
