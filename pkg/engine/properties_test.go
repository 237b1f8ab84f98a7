package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dukex/conduit/pkg/engine"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/dukex/conduit/pkg/persistence/file"
	"github.com/dukex/conduit/pkg/protocol"
	"github.com/dukex/conduit/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestExecutionIDsAreUniqueUUIDv4(t *testing.T) {
	h := newHarness(t)
	graph := testutil.Chain(triggerNode())
	seen := make(map[string]struct{})

	const startsPerCheck = 10

	rapid.Check(t, func(rt *rapid.T) {
		input := rapid.MapOf(rapid.StringMatching(`[a-z]{1,8}`), rapid.IntRange(-1000, 1000)).Draw(rt, "input")

		for range startsPerCheck {
			id, err := h.engine.Start(context.Background(), graph, toAny(input), engine.StartOptions{})
			if err != nil {
				rt.Fatalf("start failed: %v", err)
			}

			parsed, err := uuid.Parse(id)
			if err != nil {
				rt.Fatalf("execution id %q is not a UUID: %v", id, err)
			}

			if parsed.Version() != 4 || parsed.Variant() != uuid.RFC4122 {
				rt.Fatalf("execution id %q is not a version 4 UUID", id)
			}

			if _, duplicate := seen[id]; duplicate {
				rt.Fatalf("execution id %q was issued twice", id)
			}

			seen[id] = struct{}{}

			if err := h.engine.Wait(context.Background(), id); err != nil {
				rt.Fatalf("wait failed: %v", err)
			}
		}
	})

	assert.GreaterOrEqual(t, len(seen), 1000)
}

func TestRetryCountMatchesAttempts(t *testing.T) {
	h := newHarness(t)

	rapid.Check(t, func(rt *rapid.T) {
		maxAttempts := rapid.IntRange(1, 5).Draw(rt, "maxAttempts")
		failures := rapid.IntRange(0, 6).Draw(rt, "failures")
		continueOnError := rapid.Bool().Draw(rt, "continueOnError")

		nodeID := fmt.Sprintf("flaky-%s", uuid.NewString()[:8])
		h.actions.on(nodeID, failing(failures))

		options := []func(*models.Node){testutil.WithRetry(maxAttempts, 0)}
		if continueOnError {
			options = append(options, testutil.WithContinueOnError())
		}

		graph := testutil.Chain(triggerNode(), actionNode(nodeID, options...))

		id, err := h.engine.Start(context.Background(), graph, nil, engine.StartOptions{})
		if err != nil {
			rt.Fatalf("start failed: %v", err)
		}

		if err := h.engine.Wait(context.Background(), id); err != nil {
			rt.Fatalf("wait failed: %v", err)
		}

		_, states, err := h.engine.GetStatus(context.Background(), id)
		if err != nil {
			rt.Fatalf("status failed: %v", err)
		}

		var state *models.NodeExecutionState

		for _, candidate := range states {
			if candidate.NodeID == nodeID {
				state = candidate
			}
		}

		if state == nil {
			rt.Fatalf("no state for %s", nodeID)
		}

		if state.RetryCount != len(state.RetryAttempts) {
			rt.Fatalf("retry count %d does not match %d recorded attempts", state.RetryCount, len(state.RetryAttempts))
		}

		if state.RetryCount > maxAttempts {
			rt.Fatalf("retry count %d exceeds max attempts %d", state.RetryCount, maxAttempts)
		}

		expectedRetries := min(failures, maxAttempts-1)
		if state.RetryCount != expectedRetries {
			rt.Fatalf("expected %d retries, got %d", expectedRetries, state.RetryCount)
		}

		succeeded := failures < maxAttempts
		if succeeded != (state.Status == models.NodeStatusSuccess) {
			rt.Fatalf("status %s after %d failures with %d attempts", state.Status, failures, maxAttempts)
		}

		if calls := h.actions.Calls(nodeID); calls != state.RetryCount+1 {
			rt.Fatalf("executor called %d times for %d retries", calls, state.RetryCount)
		}
	})
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	var recorder *transitionRecorder

	h := newHarness(t, withPersistence(func(backend *file.Persistence) persistence.Persistence {
		recorder = &transitionRecorder{ExecutionRepository: backend.ExecutionRepository(), history: map[string][]models.ExecutionStatus{}}

		return &recordingPersistence{Persistence: backend, executions: recorder}
	}))

	h.actions.on("flaky", failing(1))
	h.actions.on("broken", func(context.Context, int) (*protocol.Output, error) {
		return nil, protocol.Permanent(errFlaky)
	})

	graphs := []*models.WorkflowGraph{
		testutil.Chain(triggerNode(), actionNode("ok")),
		testutil.Chain(triggerNode(), actionNode("flaky", testutil.WithRetry(2, 0))),
		testutil.Chain(triggerNode(), actionNode("broken")),
		testutil.Chain(triggerNode(), actionNode("broken", testutil.WithContinueOnError()), actionNode("after")),
	}

	var ids []string

	for range 5 {
		for _, graph := range graphs {
			ids = append(ids, h.start(t, graph, nil, engine.StartOptions{}))
		}
	}

	cancelled := h.start(t, testutil.Chain(triggerNode(), approvalNode("review")), nil, engine.StartOptions{})
	require.NoError(t, h.engine.Cancel(context.Background(), cancelled))

	ids = append(ids, cancelled)

	for _, id := range ids {
		h.wait(t, id)
	}

	for _, id := range ids {
		history := recorder.transitions(id)

		require.Len(t, history, 3, "execution %s went through %v", id, history)
		assert.Equal(t, models.ExecutionStatusPending, history[0])
		assert.Equal(t, models.ExecutionStatusRunning, history[1])
		assert.True(t, history[2].IsTerminal())
	}

	assert.Zero(t, recorder.rejectedWrites(), "terminal records must never be rewritten")
}

func toAny(input map[string]int) map[string]any {
	converted := make(map[string]any, len(input))
	for key, value := range input {
		converted[key] = value
	}

	return converted
}

type recordingPersistence struct {
	*file.Persistence

	executions persistence.ExecutionRepository
}

func (p *recordingPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

// transitionRecorder keeps the status history of every execution written
// through it.
type transitionRecorder struct {
	persistence.ExecutionRepository

	mu       sync.Mutex
	history  map[string][]models.ExecutionStatus
	rejected int
}

func (r *transitionRecorder) CreateExecution(ctx context.Context, record *models.ExecutionRecord) error {
	if err := r.ExecutionRepository.CreateExecution(ctx, record); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.history[record.ID] = append(r.history[record.ID], record.Status)

	return nil
}

func (r *transitionRecorder) UpdateExecution(ctx context.Context, record *models.ExecutionRecord) error {
	err := r.ExecutionRepository.UpdateExecution(ctx, record)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.rejected++

		return err
	}

	r.history[record.ID] = append(r.history[record.ID], record.Status)

	return nil
}

func (r *transitionRecorder) transitions(executionID string) []models.ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]models.ExecutionStatus{}, r.history[executionID]...)
}

func (r *transitionRecorder) rejectedWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rejected
}
