package pipeline_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelforge/src/core/assembly"
	"reelforge/src/core/matching"
	"reelforge/src/core/pipeline"
	"reelforge/src/infrastructure/jobstore"
)

type fakeWriter struct {
	err   error
	calls int
}

func (f *fakeWriter) Write(ctx context.Context, idea, ideaContext string, count int, provider string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	scripts := make([]string, 0, count)
	for i := 0; i < count; i++ {
		scripts = append(scripts, fmt.Sprintf("Variant %d about %s.", i, idea))
	}
	return scripts, nil
}

type fakeSynth struct{}

func (f *fakeSynth) Synthesize(ctx context.Context, text, model string) (*assembly.Speech, error) {
	chars := make([]assembly.TimedChar, 0, len(text))
	for i, r := range []rune(text) {
		chars = append(chars, assembly.TimedChar{Char: string(r), Start: float64(i) * 0.1, End: float64(i+1) * 0.1})
	}
	return &assembly.Speech{Characters: chars, Duration: float64(len(chars)) * 0.1}, nil
}

type fakeSegments struct{}

func (f *fakeSegments) List(ctx context.Context) ([]matching.Segment, error) {
	return []matching.Segment{
		{ID: "seg-1", MediaURL: "clips/1.mp4", Duration: 3, Keywords: []string{"variant"}},
	}, nil
}

type fakeRenderer struct{}

func (f *fakeRenderer) Render(ctx context.Context, timeline assembly.Timeline, preset, subtitleStyle string) (string, error) {
	return "/tmp/out.mp4", nil
}

type fakePublisher struct {
	messages []*message.Message
	err      error
}

func (f *fakePublisher) Publish(topic string, messages ...*message.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, messages...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

// gatedSynth parks Synthesize until released, so a test can interleave
// other orchestrator calls with an in-flight preview.
type gatedSynth struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedSynth) Synthesize(ctx context.Context, text, model string) (*assembly.Speech, error) {
	close(g.started)
	<-g.release
	return (&fakeSynth{}).Synthesize(ctx, text, model)
}

func newTestOrchestrator(store jobstore.Store, writer *fakeWriter) (*pipeline.Orchestrator, *assembly.Engine) {
	engine := assembly.NewEngine(store, &fakeSynth{}, &fakeRenderer{}, &fakeSegments{}, nil, &fakePublisher{})
	return pipeline.NewOrchestrator(store, writer, engine), engine
}

func TestGenerateCreatesVariantSlots(t *testing.T) {
	store := jobstore.NewMemoryStore()
	writer := &fakeWriter{}
	orchestrator, _ := newTestOrchestrator(store, writer)

	record, err := orchestrator.Generate(context.Background(), "pasta recipes", "food channel", 3, "")
	require.NoError(t, err)

	assert.Equal(t, 1, writer.calls, "one script writer call covers all variants")
	require.Len(t, record.Variants, 3)
	for i, variant := range record.Variants {
		assert.Equal(t, i, variant.Index)
		assert.NotEmpty(t, variant.ScriptText)
		assert.Equal(t, pipeline.VariantStatusScripted, variant.Status)
		assert.Empty(t, variant.RenderJobID)
		assert.Nil(t, variant.Preview)
	}
}

func TestGenerateVariantCountBounds(t *testing.T) {
	store := jobstore.NewMemoryStore()
	orchestrator, _ := newTestOrchestrator(store, &fakeWriter{})

	for _, count := range []int{0, -1, 11} {
		_, err := orchestrator.Generate(context.Background(), "idea", "", count, "")
		assert.ErrorIs(t, err, pipeline.ErrVariantCountOutOfRange, "count %d", count)
	}

	jobs, err := store.List(context.Background(), jobstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "a rejected generate must create nothing")
}

func TestPreviewPopulatesSingleVariant(t *testing.T) {
	store := jobstore.NewMemoryStore()
	orchestrator, _ := newTestOrchestrator(store, &fakeWriter{})

	record, err := orchestrator.Generate(context.Background(), "pasta", "", 2, "")
	require.NoError(t, err)

	preview, err := orchestrator.Preview(context.Background(), record.PipelineID, 1, "voice-1")
	require.NoError(t, err)
	assert.NotEmpty(t, preview.Matches)

	statuses, err := orchestrator.Status(context.Background(), record.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.VariantStatusScripted, statuses[0].Status)
	assert.Equal(t, pipeline.VariantStatusPreviewed, statuses[1].Status)
}

func TestPreviewUnknownPipeline(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(jobstore.NewMemoryStore(), &fakeWriter{})

	_, err := orchestrator.Preview(context.Background(), "nonexistent-id", 0, "voice-1")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestPreviewVariantIndexOutOfRange(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(jobstore.NewMemoryStore(), &fakeWriter{})

	record, err := orchestrator.Generate(context.Background(), "pasta", "", 2, "")
	require.NoError(t, err)

	_, err = orchestrator.Preview(context.Background(), record.PipelineID, 2, "voice-1")
	assert.ErrorIs(t, err, pipeline.ErrVariantIndexOutOfRange)
}

func TestRenderLeavesUnselectedVariantsUntouched(t *testing.T) {
	store := jobstore.NewMemoryStore()
	orchestrator, _ := newTestOrchestrator(store, &fakeWriter{})

	record, err := orchestrator.Generate(context.Background(), "pasta", "", 3, "")
	require.NoError(t, err)

	err = orchestrator.Render(context.Background(), record.PipelineID, []int{0, 1}, pipeline.RenderSettings{
		TTSModel: "voice-1",
		Preset:   "vertical-1080",
	})
	require.NoError(t, err)

	statuses, err := orchestrator.Status(context.Background(), record.PipelineID)
	require.NoError(t, err)

	// selected variants track their render jobs, the third keeps its
	// pre-render status
	assert.Equal(t, string(jobstore.JobStatusPending), statuses[0].Status)
	assert.Equal(t, string(jobstore.JobStatusPending), statuses[1].Status)
	assert.Equal(t, pipeline.VariantStatusScripted, statuses[2].Status)

	renderJobs, err := store.List(context.Background(), jobstore.Filter{JobType: assembly.JobTypeRender})
	require.NoError(t, err)
	assert.Len(t, renderJobs, 2)
}

func TestRenderedVariantStatusReflectsJobOutcome(t *testing.T) {
	store := jobstore.NewMemoryStore()
	orchestrator, engine := newTestOrchestrator(store, &fakeWriter{})

	record, err := orchestrator.Generate(context.Background(), "pasta", "", 2, "")
	require.NoError(t, err)

	require.NoError(t, orchestrator.Render(context.Background(), record.PipelineID, []int{0}, pipeline.RenderSettings{TTSModel: "voice-1"}))

	// drive the dispatched job to completion as the worker would
	renderJobs, err := store.List(context.Background(), jobstore.Filter{JobType: assembly.JobTypeRender})
	require.NoError(t, err)
	require.Len(t, renderJobs, 1)
	require.NoError(t, engine.RunJob(context.Background(), renderJobs[0].ID))

	statuses, err := orchestrator.Status(context.Background(), record.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, string(jobstore.JobStatusCompleted), statuses[0].Status)
	assert.Equal(t, 100, statuses[0].ProgressPercent)
	assert.Equal(t, "/tmp/out.mp4", statuses[0].FinalPath)
	assert.Equal(t, pipeline.VariantStatusScripted, statuses[1].Status)
}

func TestRenderDuringPreviewKeepsItsJob(t *testing.T) {
	store := jobstore.NewMemoryStore()
	synth := &gatedSynth{started: make(chan struct{}), release: make(chan struct{})}
	engine := assembly.NewEngine(store, synth, &fakeRenderer{}, &fakeSegments{}, nil, &fakePublisher{})
	orchestrator := pipeline.NewOrchestrator(store, &fakeWriter{}, engine)

	record, err := orchestrator.Generate(context.Background(), "pasta", "", 2, "")
	require.NoError(t, err)

	previewDone := make(chan error, 1)
	go func() {
		_, err := orchestrator.Preview(context.Background(), record.PipelineID, 1, "voice-1")
		previewDone <- err
	}()
	<-synth.started

	// a render lands while the preview is still synthesizing
	require.NoError(t, orchestrator.Render(context.Background(), record.PipelineID, []int{0}, pipeline.RenderSettings{TTSModel: "voice-1"}))

	close(synth.release)
	require.NoError(t, <-previewDone)

	statuses, err := orchestrator.Status(context.Background(), record.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, string(jobstore.JobStatusPending), statuses[0].Status,
		"the preview save must not overwrite the dispatched render")
	assert.Equal(t, pipeline.VariantStatusPreviewed, statuses[1].Status)
}

func TestDispatchFailureIsRecordedOnTheVariant(t *testing.T) {
	store := jobstore.NewMemoryStore()
	publisher := &fakePublisher{err: fmt.Errorf("pubsub closed")}
	engine := assembly.NewEngine(store, &fakeSynth{}, &fakeRenderer{}, &fakeSegments{}, nil, publisher)
	orchestrator := pipeline.NewOrchestrator(store, &fakeWriter{}, engine)

	record, err := orchestrator.Generate(context.Background(), "pasta", "", 2, "")
	require.NoError(t, err)

	require.NoError(t, orchestrator.Render(context.Background(), record.PipelineID, []int{0}, pipeline.RenderSettings{}))

	statuses, err := orchestrator.Status(context.Background(), record.PipelineID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.VariantStatusFailed, statuses[0].Status)
	require.NotNil(t, statuses[0].Error)
	assert.Contains(t, *statuses[0].Error, "pubsub closed")
	assert.Equal(t, pipeline.VariantStatusScripted, statuses[1].Status)
	assert.Nil(t, statuses[1].Error)
}

func TestRenderNoVariantsSelected(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(jobstore.NewMemoryStore(), &fakeWriter{})

	record, err := orchestrator.Generate(context.Background(), "pasta", "", 2, "")
	require.NoError(t, err)

	err = orchestrator.Render(context.Background(), record.PipelineID, nil, pipeline.RenderSettings{})
	assert.ErrorIs(t, err, pipeline.ErrNoVariantsSelected)
}
