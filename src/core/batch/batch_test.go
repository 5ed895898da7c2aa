package batch_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelforge/src/core/assembly"
	"reelforge/src/core/batch"
	"reelforge/src/core/matching"
	"reelforge/src/infrastructure/jobstore"
)

type fakeItems struct {
	known map[string]string // item id -> title
}

func (f *fakeItems) Get(ctx context.Context, itemID string) (string, string, error) {
	title, ok := f.known[itemID]
	if !ok {
		return "", "", fmt.Errorf("unknown catalog item: %s", itemID)
	}
	return title, "a product description", nil
}

type fakeWriter struct{}

func (f *fakeWriter) Write(ctx context.Context, idea, ideaContext string, count int, provider string) ([]string, error) {
	return []string{fmt.Sprintf("Narration for %s.", idea)}, nil
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
		{ID: "seg-1", MediaURL: "clips/1.mp4", Duration: 3, Keywords: []string{"narration"}},
	}, nil
}

// fakeRenderer fails any timeline whose subtitles mention one of the
// poisoned markers, which lets a test fail specific items only.
type fakeRenderer struct {
	failOn []string
	order  []string
}

func (f *fakeRenderer) Render(ctx context.Context, timeline assembly.Timeline, preset, subtitleStyle string) (string, error) {
	joined := ""
	for _, entry := range timeline.Entries {
		joined += entry.SubtitleText + " "
	}
	f.order = append(f.order, joined)
	for _, marker := range f.failOn {
		if strings.Contains(joined, marker) {
			return "", fmt.Errorf("render backend rejected %s", marker)
		}
	}
	return "/tmp/out.mp4", nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (nopPublisher) Close() error                                             { return nil }

func itemIDs(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("p%d", i+1))
	}
	return ids
}

func catalog(ids []string) *fakeItems {
	known := make(map[string]string, len(ids))
	for _, id := range ids {
		known[id] = "Product " + id
	}
	return &fakeItems{known: known}
}

func newTestOrchestrator(store jobstore.Store, items batch.ItemSource, renderer *fakeRenderer) *batch.Orchestrator {
	engine := assembly.NewEngine(store, &fakeSynth{}, renderer, &fakeSegments{}, nil, nopPublisher{})
	return batch.NewOrchestrator(store, items, &fakeWriter{}, engine)
}

func waitForBatch(t *testing.T, orchestrator *batch.Orchestrator, batchID string) *batch.Status {
	t.Helper()
	var final *batch.Status
	require.Eventually(t, func() bool {
		current, err := orchestrator.Status(context.Background(), batchID)
		if err != nil {
			return false
		}
		final = current
		return current.Status == string(jobstore.JobStatusCompleted)
	}, 5*time.Second, 10*time.Millisecond)
	return final
}

func TestDispatchSizeBounds(t *testing.T) {
	store := jobstore.NewMemoryStore()
	orchestrator := newTestOrchestrator(store, catalog(nil), &fakeRenderer{})

	for _, n := range []int{0, 1, 51} {
		_, err := orchestrator.Dispatch(context.Background(), itemIDs(n), batch.Settings{})
		assert.ErrorIs(t, err, batch.ErrBatchSizeOutOfRange, "size %d", n)
	}

	jobs, err := store.List(context.Background(), jobstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "a rejected dispatch must create nothing")
}

func TestBatchProcessesAllItems(t *testing.T) {
	ids := itemIDs(3)
	orchestrator := newTestOrchestrator(jobstore.NewMemoryStore(), catalog(ids), &fakeRenderer{})

	record, err := orchestrator.Dispatch(context.Background(), ids, batch.Settings{TTSModel: "voice-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, record.Total)

	final := waitForBatch(t, orchestrator, record.BatchID)
	assert.Equal(t, 3, final.Completed)
	assert.Equal(t, 0, final.Failed)
	for _, item := range final.Items {
		assert.Equal(t, batch.ItemStatusCompleted, item.Status)
		require.NotNil(t, item.Result)
		assert.NotEmpty(t, *item.Result)
		assert.NotEmpty(t, item.JobID)
	}
}

func TestFailedItemDoesNotStopTheLoop(t *testing.T) {
	ids := []string{"p1", "p2", "p3"}
	renderer := &fakeRenderer{failOn: []string{"p2"}}
	orchestrator := newTestOrchestrator(jobstore.NewMemoryStore(), catalog(ids), renderer)

	record, err := orchestrator.Dispatch(context.Background(), ids, batch.Settings{})
	require.NoError(t, err)

	final := waitForBatch(t, orchestrator, record.BatchID)
	assert.Equal(t, 2, final.Completed)
	assert.Equal(t, 1, final.Failed)

	assert.Equal(t, batch.ItemStatusCompleted, final.Items[0].Status)
	assert.Equal(t, batch.ItemStatusFailed, final.Items[1].Status)
	assert.Equal(t, batch.ItemStatusCompleted, final.Items[2].Status)

	require.NotNil(t, final.Items[1].Error)
	assert.NotEmpty(t, *final.Items[1].Error)
	assert.Nil(t, final.Items[0].Error)
	assert.Nil(t, final.Items[2].Error)

	// strictly sequential: p3 rendered after p2 failed
	require.Len(t, renderer.order, 3)
	assert.Contains(t, renderer.order[2], "p3")
}

func TestBatchAccountingHoldsForAnyFailureSubset(t *testing.T) {
	tests := []struct {
		name   string
		total  int
		failOn []string
	}{
		{name: "none fail", total: 4, failOn: nil},
		{name: "some fail", total: 5, failOn: []string{"p2", "p4"}},
		{name: "all fail", total: 3, failOn: []string{"p1", "p2", "p3"}},
		{name: "unknown item", total: 2, failOn: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := itemIDs(tt.total)
			items := catalog(ids)
			if tt.name == "unknown item" {
				delete(items.known, "p1")
			}
			orchestrator := newTestOrchestrator(jobstore.NewMemoryStore(), items, &fakeRenderer{failOn: tt.failOn})

			record, err := orchestrator.Dispatch(context.Background(), ids, batch.Settings{})
			require.NoError(t, err)

			final := waitForBatch(t, orchestrator, record.BatchID)
			assert.Equal(t, tt.total, final.Completed+final.Failed,
				"completed+failed must equal total regardless of which items fail")
		})
	}
}

func TestRetryFailedReDispatchesExactlyTheFailedItems(t *testing.T) {
	ids := []string{"p1", "p2", "p3", "p4"}
	renderer := &fakeRenderer{failOn: []string{"p2", "p4"}}
	orchestrator := newTestOrchestrator(jobstore.NewMemoryStore(), catalog(ids), renderer)

	record, err := orchestrator.Dispatch(context.Background(), ids, batch.Settings{})
	require.NoError(t, err)
	waitForBatch(t, orchestrator, record.BatchID)

	// make the poisoned items pass this time
	renderer.failOn = nil

	retry, err := orchestrator.RetryFailed(context.Background(), record.BatchID)
	require.NoError(t, err)
	assert.NotEqual(t, record.BatchID, retry.BatchID)
	assert.Equal(t, 2, retry.Total)

	retryIDs := []string{retry.Items[0].ItemID, retry.Items[1].ItemID}
	assert.ElementsMatch(t, []string{"p2", "p4"}, retryIDs, "completed items are never re-included")

	final := waitForBatch(t, orchestrator, retry.BatchID)
	assert.Equal(t, 2, final.Completed)
	assert.Equal(t, 0, final.Failed)
}

func TestRetryFailedWithSingleFailureHitsSizeBound(t *testing.T) {
	ids := []string{"p1", "p2"}
	renderer := &fakeRenderer{failOn: []string{"p2"}}
	orchestrator := newTestOrchestrator(jobstore.NewMemoryStore(), catalog(ids), renderer)

	record, err := orchestrator.Dispatch(context.Background(), ids, batch.Settings{})
	require.NoError(t, err)
	waitForBatch(t, orchestrator, record.BatchID)

	// one failed item is below the dispatch minimum
	_, err = orchestrator.RetryFailed(context.Background(), record.BatchID)
	assert.ErrorIs(t, err, batch.ErrBatchSizeOutOfRange)
}

func TestStatusRecomputesAggregate(t *testing.T) {
	ids := itemIDs(2)
	orchestrator := newTestOrchestrator(jobstore.NewMemoryStore(), catalog(ids), &fakeRenderer{})

	record, err := orchestrator.Dispatch(context.Background(), ids, batch.Settings{})
	require.NoError(t, err)

	final := waitForBatch(t, orchestrator, record.BatchID)
	assert.Equal(t, string(jobstore.JobStatusCompleted), final.Status)
	assert.Equal(t, 2, final.Total)
}

func TestStatusUnknownBatch(t *testing.T) {
	orchestrator := newTestOrchestrator(jobstore.NewMemoryStore(), catalog(nil), &fakeRenderer{})

	_, err := orchestrator.Status(context.Background(), "nonexistent-id")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}
