package pipelinecontext_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence/file"
	"github.com/dukex/conduit/pkg/pipelinecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newStore() *pipelinecontext.Store {
	return pipelinecontext.NewStore(nil, slog.New(slog.DiscardHandler))
}

func TestAddKeepsHistoryAndLastWriteWins(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	_, err := store.Add(ctx, "exec-1", "lead", "first", "a", pipelinecontext.EntryMeta{NodeType: models.NodeKindTransform})
	require.NoError(t, err)
	_, err = store.Add(ctx, "exec-1", "lead", "second", "b", pipelinecontext.EntryMeta{NodeType: models.NodeKindTransform})
	require.NoError(t, err)
	_, err = store.Add(ctx, "exec-1", "other", 7, "c", pipelinecontext.EntryMeta{NodeType: models.NodeKindAction})
	require.NoError(t, err)

	entries, err := store.GetEntries(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "other", entries[0].Key)
	assert.Equal(t, "second", entries[1].Value)

	history, err := store.GetHistory(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Value)
	assert.Equal(t, int64(1), history[0].Sequence)
}

func TestConcurrentWritesToSameKeyAreAllRecorded(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := store.Add(ctx, "exec-2", "shared", i, fmt.Sprintf("node-%d", i), pipelinecontext.EntryMeta{})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	history, err := store.GetHistory(ctx, "exec-2")
	require.NoError(t, err)
	assert.Len(t, history, 50)

	entries, err := store.GetEntries(ctx, "exec-2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history[len(history)-1].Value, entries[0].Value)
}

func TestArtifactsAreAppendOnlyWithGeneratedIDs(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	artifact := &models.ContextArtifact{Type: "document", Content: "hello"}
	require.NoError(t, store.AddArtifact(ctx, "exec-3", artifact))
	require.NoError(t, store.AddArtifact(ctx, "exec-3", &models.ContextArtifact{ID: "fixed", Type: "code", Content: "x"}))

	assert.NotEmpty(t, artifact.ID)

	artifacts, err := store.GetArtifacts(ctx, "exec-3")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "fixed", artifacts[1].ID)
}

func TestSummaryPrefersFocusNodesAndStopsAtFirstMiss(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	_, _ = store.Add(ctx, "exec-4", "old", "from the focus node", "focus", pipelinecontext.EntryMeta{NodeType: models.NodeKindAction})
	_, _ = store.Add(ctx, "exec-4", "big", strings.Repeat("x", 500), "other", pipelinecontext.EntryMeta{NodeType: models.NodeKindAction})
	_, _ = store.Add(ctx, "exec-4", "new", "latest", "other", pipelinecontext.EntryMeta{NodeType: models.NodeKindAction})

	summary, err := store.GetSummary(ctx, "exec-4", pipelinecontext.SummaryOptions{
		MaxLength:  200,
		FocusNodes: []string{"focus"},
	})
	require.NoError(t, err)

	assert.Less(t, strings.Index(summary, "from the focus node"), strings.Index(summary, "latest"))
	assert.NotContains(t, summary, "xxxx")
	assert.Contains(t, summary, "(1 more omitted)")
}

func TestSummaryUsesEntrySummaryAndFormats(t *testing.T) {
	store := newStore()
	ctx := context.Background()

	_, _ = store.Add(ctx, "exec-5", "report", map[string]any{"a": 1}, "llm", pipelinecontext.EntryMeta{
		NodeType: models.NodeKindLLMAgent,
		Summary:  "Writer produced 1 keys",
	})

	compact, err := store.GetSummary(ctx, "exec-5", pipelinecontext.SummaryOptions{Format: models.ContextFormatCompact})
	require.NoError(t, err)
	assert.Equal(t, "ctx: report=Writer produced 1 keys", compact)

	structured, err := store.GetSummary(ctx, "exec-5", pipelinecontext.SummaryOptions{Format: models.ContextFormatStructured})
	require.NoError(t, err)
	assert.Contains(t, structured, "type: llm_agent")

	empty, err := store.GetSummary(ctx, "missing", pipelinecontext.SummaryOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSummaryLengthIsBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newStore()
		ctx := context.Background()

		count := rapid.IntRange(0, 30).Draw(t, "count")
		for i := range count {
			value := rapid.StringN(0, 400, -1).Draw(t, fmt.Sprintf("value-%d", i))
			node := rapid.SampledFrom([]string{"a", "b", "c"}).Draw(t, fmt.Sprintf("node-%d", i))

			_, err := store.Add(ctx, "exec", fmt.Sprintf("key-%d", i), value, node, pipelinecontext.EntryMeta{NodeType: models.NodeKindAction})
			require.NoError(t, err)
		}

		maxLength := rapid.SampledFrom([]int{100, 500, 2000}).Draw(t, "maxLength")
		format := rapid.SampledFrom([]models.ContextFormat{
			models.ContextFormatNarrative,
			models.ContextFormatStructured,
			models.ContextFormatCompact,
		}).Draw(t, "format")

		summary, err := store.GetSummary(ctx, "exec", pipelinecontext.SummaryOptions{
			MaxLength:  maxLength,
			Format:     format,
			FocusNodes: []string{"b"},
		})
		require.NoError(t, err)

		if utf8.RuneCountInString(summary) > maxLength+pipelinecontext.SummaryTemplateOverhead {
			t.Fatalf("summary of %d runes exceeds %d", utf8.RuneCountInString(summary), maxLength)
		}
	})
}

func TestWriteThroughAndReload(t *testing.T) {
	ctx := context.Background()
	backend := file.NewPersistence(t.TempDir())

	store := pipelinecontext.NewStore(backend.ContextRepository(), slog.New(slog.DiscardHandler))
	_, err := store.Add(ctx, "exec-6", "k", "v1", "n", pipelinecontext.EntryMeta{})
	require.NoError(t, err)
	require.NoError(t, store.AddArtifact(ctx, "exec-6", &models.ContextArtifact{Type: "doc", Content: "c"}))

	store.Release("exec-6")

	reloaded := pipelinecontext.NewStore(backend.ContextRepository(), slog.New(slog.DiscardHandler))
	_, err = reloaded.Add(ctx, "exec-6", "k", "v2", "n", pipelinecontext.EntryMeta{})
	require.NoError(t, err)

	history, err := reloaded.GetHistory(ctx, "exec-6")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[1].Sequence)

	artifacts, err := reloaded.GetArtifacts(ctx, "exec-6")
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)

	require.NoError(t, reloaded.Purge(ctx, "exec-6"))

	entries, err := pipelinecontext.NewStore(backend.ContextRepository(), slog.New(slog.DiscardHandler)).GetEntries(ctx, "exec-6")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingRepo struct{}

var errUnavailable = errors.New("store unavailable")

func (failingRepo) AppendContextEntry(context.Context, *models.ContextEntry) error {
	return errUnavailable
}

func (failingRepo) AppendContextArtifact(context.Context, *models.ContextArtifact) error {
	return errUnavailable
}

func (failingRepo) ContextEntries(context.Context, string) ([]*models.ContextEntry, error) {
	return nil, errUnavailable
}

func (failingRepo) ContextArtifacts(context.Context, string) ([]*models.ContextArtifact, error) {
	return nil, errUnavailable
}

func (failingRepo) DeleteExecutionContext(context.Context, string) error { return errUnavailable }

func TestTrySummaryReportsDegraded(t *testing.T) {
	store := pipelinecontext.NewStore(failingRepo{}, slog.New(slog.DiscardHandler))

	summary, degraded := store.TrySummary(context.Background(), "exec-7", pipelinecontext.SummaryOptions{})
	assert.True(t, degraded)
	assert.Empty(t, summary)

	_, err := store.GetSummary(context.Background(), "exec-7", pipelinecontext.SummaryOptions{})

	var fetchErr *pipelinecontext.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, err, errUnavailable)
}
