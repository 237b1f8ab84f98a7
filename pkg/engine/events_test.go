package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/engine"
	"github.com/dukex/conduit/pkg/events"
	"github.com/dukex/conduit/pkg/metrics"
	"github.com/dukex/conduit/pkg/mocks"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence/file"
	"github.com/dukex/conduit/pkg/registry"
	"github.com/dukex/conduit/pkg/testutil"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newEventEngine(t *testing.T, bus *mocks.MockEventBus, m *metrics.Metrics) (*engine.Engine, *scriptedAction) {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	actions := newScriptedAction()
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(registry.Dependencies{})
	reg.Register(models.NodeKindAction, actions)

	e, err := engine.New(engine.Dependencies{
		Persistence: file.NewPersistence(t.TempDir()),
		Registry:    reg,
		EventBus:    bus,
		Metrics:     m,
		Logger:      logger,
	}, engine.Config{})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	return e, actions
}

func runToEnd(t *testing.T, e *engine.Engine, graph *models.WorkflowGraph) *models.ExecutionRecord {
	t.Helper()

	id, err := e.Start(context.Background(), graph, nil, engine.StartOptions{WorkflowID: "wf-events"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, e.Wait(ctx, id))

	record, _, err := e.GetStatus(context.Background(), id)
	require.NoError(t, err)

	return record
}

func TestLifecycleEventsArePublished(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(nil)

	e, actions := newEventEngine(t, bus, nil)
	actions.on("fetch", failing(1))

	graph := testutil.Chain(triggerNode(), actionNode("fetch", testutil.WithRetry(2, 1)))
	record := runToEnd(t, e, graph)

	require.Equal(t, models.ExecutionStatusSuccess, record.Status)

	published := bus.PublishedTypes()
	require.NotEmpty(t, published)
	assert.Equal(t, events.ExecutionStartedEvent, published[0])
	assert.Equal(t, events.ExecutionCompletedEvent, published[len(published)-1])
	assert.Contains(t, published, events.NodeRetriedEvent)
	assert.NotContains(t, published, events.NodeFailedEvent)

	completed := 0
	for _, eventType := range published {
		if eventType == events.NodeCompletedEvent {
			completed++
		}
	}

	assert.Equal(t, 2, completed)

	for _, call := range bus.Calls {
		assert.Equal(t, record.ID, call.Arguments.String(1))
	}
}

func TestFailedExecutionPublishesFailure(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	e, actions := newEventEngine(t, bus, nil)
	actions.on("fetch", failing(5))

	record := runToEnd(t, e, testutil.Chain(triggerNode(), actionNode("fetch")))

	require.Equal(t, models.ExecutionStatusError, record.Status)

	published := bus.PublishedTypes()
	assert.Contains(t, published, events.NodeFailedEvent)
	assert.Equal(t, events.ExecutionFailedEvent, published[len(published)-1])
}

func TestPublishFailuresDoNotAffectTheRun(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down"))

	m := metrics.New()
	e, _ := newEventEngine(t, bus, m)

	record := runToEnd(t, e, testutil.Chain(triggerNode(), actionNode("fetch")))

	assert.Equal(t, models.ExecutionStatusSuccess, record.Status)
	degraded, err := promtestutil.GatherAndCount(m.Registry(), "conduit_degraded_operations_total")
	require.NoError(t, err)
	assert.Positive(t, degraded)
}
