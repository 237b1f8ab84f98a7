package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/dukex/conduit/pkg/events"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/otelhelper"
	"github.com/dukex/conduit/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

const (
	finalizeAttempts   = 3
	finalizeBackoff    = 100 * time.Millisecond
	maxFinalizeBackoff = 5 * time.Second
)

type decision int

const (
	decisionWait decision = iota
	decisionRun
	decisionSkip
)

// nodeResult is what a node goroutine reports back to the scheduler.
type nodeResult struct {
	nodeID    string
	state     *models.NodeExecutionState
	output    map[string]any
	costUSD   float64
	fatal     bool
	cancelled bool
	err       error
	duration  time.Duration
}

// run is one execution in flight. The scheduler goroutine owns the
// scheduling decisions; node goroutines only report results and persist
// their intermediate states through saveState.
type run struct {
	id         string
	workflowID string
	userID     string
	isTest     bool
	engine     *Engine
	plan       *plan
	logger     *slog.Logger
	input      map[string]any
	variables  map[string]any

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu              sync.Mutex
	record          *models.ExecutionRecord
	states          map[string]*models.NodeExecutionState
	outputs         map[string]map[string]any
	cancelRequested bool
	finalized       bool
	// recordErr holds the last failure to write the terminal record. The run
	// stays registered until that write succeeds.
	recordErr error
}

func newRun(
	base context.Context,
	engine *Engine,
	p *plan,
	record *models.ExecutionRecord,
	states map[string]*models.NodeExecutionState,
	input, variables map[string]any,
	logger *slog.Logger,
) *run {
	ctx, cancel := context.WithCancel(base)

	if input == nil {
		input = map[string]any{}
	}

	if variables == nil {
		variables = map[string]any{}
	}

	return &run{
		id:         record.ID,
		workflowID: record.WorkflowID,
		userID:     record.UserID,
		isTest:     record.IsTest,
		engine:     engine,
		plan:       p,
		logger:     logger,
		input:      input,
		variables:  variables,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		record:     record,
		states:     states,
		outputs:    make(map[string]map[string]any, len(states)),
	}
}

// requestCancel asks the scheduler to stop. It reports false when the run
// already finished.
func (r *run) requestCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return false
	}

	r.cancelRequested = true
	r.cancel()

	return true
}

func (r *run) nodeStatus(nodeID string) models.NodeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.states[nodeID].Status
}

func (r *run) nodeState(nodeID string) *models.NodeExecutionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.states[nodeID].Clone()
}

// saveState persists state and then records it in memory, unless the run
// has been finalized. A failed write leaves the in-memory state untouched and
// is fatal to the run.
func (r *run) saveState(ctx context.Context, state *models.NodeExecutionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saveStateLocked(ctx, state)
}

func (r *run) saveStateLocked(ctx context.Context, state *models.NodeExecutionState) error {
	if r.finalized {
		return nil
	}

	if err := r.engine.executions.SaveNodeState(context.WithoutCancel(ctx), r.id, state); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist node state", "node_id", state.NodeID, "status", state.Status, "error", err)

		return &PersistenceError{Op: "save node state " + state.NodeID, ExecutionID: r.id, Err: err}
	}

	r.states[state.NodeID] = state.Clone()

	return nil
}

func (r *run) execute() {
	defer close(r.done)
	defer r.release()
	defer r.cancel()

	ctx, span := otelhelper.StartSpan(r.ctx, r.engine.tracer, "execution",
		attribute.String(otelhelper.ExecutionIDKey, r.id),
		attribute.String(otelhelper.WorkflowIDKey, r.workflowID),
		attribute.String(otelhelper.UserIDKey, r.userID),
	)
	defer span.End()

	results := make(chan nodeResult, len(r.plan.order))
	scheduled := make(map[string]bool, len(r.plan.order))
	running := 0

	var failure *nodeResult

loop:
	for {
		if failure == nil && ctx.Err() == nil {
			var err error

			running, err = r.schedule(ctx, scheduled, running, results)
			if err != nil {
				failure = &nodeResult{fatal: true, err: err}
				r.cancel()

				break loop
			}
		}

		if running == 0 {
			break
		}

		select {
		case result := <-results:
			running--

			if ctx.Err() != nil {
				break loop
			}

			if err := r.apply(ctx, result); err != nil {
				result.fatal = true
				result.err = err
			}

			if result.fatal {
				failure = &result
				// In-flight siblings are abandoned.
				r.cancel()

				break loop
			}
		case <-ctx.Done():
			break loop
		}
	}

	status := r.finish(ctx, failure, scheduled)
	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(status)))
}

// schedule starts every node that became eligible and marks skipped nodes,
// until nothing changes. It returns the new number of running nodes.
func (r *run) schedule(ctx context.Context, scheduled map[string]bool, running int, results chan<- nodeResult) (int, error) {
	for progressed := true; progressed; {
		progressed = false

		for _, nodeID := range r.plan.order {
			if scheduled[nodeID] {
				continue
			}

			verdict, inputs := r.decide(nodeID)

			switch verdict {
			case decisionSkip:
				scheduled[nodeID] = true
				progressed = true

				if err := r.skip(ctx, nodeID); err != nil {
					return running, err
				}
			case decisionRun:
				if running >= r.engine.config.MaxParallel {
					continue
				}

				scheduled[nodeID] = true
				progressed = true
				running++

				go func() {
					results <- r.runNode(ctx, nodeID, inputs)
				}()
			case decisionWait:
			}
		}
	}

	return running, nil
}

// decide applies edge satisfaction. Required edges must all be satisfied
// once their sources finished; a node with only optional edges runs when any
// of them is satisfied. Inputs are the merged outputs of the satisfied sources.
func (r *run) decide(nodeID string) (decision, map[string]any) {
	if nodeID == r.plan.entry {
		return decisionRun, maps.Clone(r.input)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inputs := map[string]any{}
	hasRequired := false
	requiredPending := false
	requiredUnsatisfied := false
	anySatisfied := false
	allTerminal := true

	for _, edge := range r.plan.incoming[nodeID] {
		if !edge.Optional {
			hasRequired = true
		}

		source := r.states[edge.From]
		if !source.Status.IsTerminal() {
			allTerminal = false

			if !edge.Optional {
				requiredPending = true
			}

			continue
		}

		if r.fires(edge, source) {
			anySatisfied = true

			maps.Copy(inputs, r.outputs[edge.From])
		} else if !edge.Optional {
			requiredUnsatisfied = true
		}
	}

	if hasRequired {
		switch {
		case requiredPending:
			return decisionWait, nil
		case requiredUnsatisfied:
			return decisionSkip, nil
		default:
			return decisionRun, inputs
		}
	}

	switch {
	case anySatisfied:
		return decisionRun, inputs
	case allTerminal:
		return decisionSkip, nil
	default:
		return decisionWait, nil
	}
}

// fires reports whether edge carries the outcome of its finished source.
func (r *run) fires(edge *planEdge, source *models.NodeExecutionState) bool {
	var outcome bool

	switch source.Status {
	case models.NodeStatusSuccess:
		outcome = edge.When != models.EdgeWhenError
	case models.NodeStatusError:
		outcome = source.ContinuedOnError && edge.When != models.EdgeWhenSuccess
	default:
		outcome = false
	}

	if !outcome {
		return false
	}

	if edge.condition != nil {
		return edge.condition.Evaluate(r.outputs[edge.From])
	}

	return true
}

func (r *run) skip(ctx context.Context, nodeID string) error {
	state := r.nodeState(nodeID)
	now := r.engine.now()

	state.Status = models.NodeStatusSkipped
	state.CompletedAt = &now

	if err := r.saveState(ctx, state); err != nil {
		return err
	}

	r.engine.metrics.NodeFinished(string(state.Kind), string(state.Status), 0)

	r.logger.DebugContext(ctx, "Node skipped", "node_id", nodeID)

	return nil
}

// apply records the final state of a node and announces it. Nothing is
// announced when the state cannot be written.
func (r *run) apply(ctx context.Context, result nodeResult) error {
	r.mu.Lock()

	if err := r.saveStateLocked(ctx, result.state); err != nil {
		r.mu.Unlock()

		return err
	}

	if result.output != nil {
		r.outputs[result.nodeID] = result.output
	}

	r.mu.Unlock()

	state := result.state
	r.engine.metrics.NodeFinished(string(state.Kind), string(state.Status), result.duration)

	base := events.NewBaseEvent(events.NodeCompletedEvent, r.id, r.workflowID)

	if state.Status == models.NodeStatusError {
		base.Type = events.NodeFailedEvent

		r.engine.publish(ctx, r.id, events.NodeFailed{
			BaseEvent:        base,
			NodeID:           state.NodeID,
			Kind:             state.Kind,
			Error:            state.Error,
			RetryCount:       state.RetryCount,
			ContinuedOnError: state.ContinuedOnError,
			DurationMs:       result.duration.Milliseconds(),
		})

		return nil
	}

	r.engine.publish(ctx, r.id, events.NodeCompleted{
		BaseEvent:  base,
		NodeID:     state.NodeID,
		Kind:       state.Kind,
		Status:     state.Status,
		DurationMs: result.duration.Milliseconds(),
		CostUSD:    result.costUSD,
	})

	return nil
}

// finish settles every unfinished node and writes the terminal record.
// In-flight nodes become cancelled; nodes never scheduled become skipped,
// or cancelled when the whole run was cancelled.
func (r *run) finish(ctx context.Context, failure *nodeResult, scheduled map[string]bool) models.ExecutionStatus {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()

	cancelled := r.cancelRequested
	now := r.engine.now()

	var (
		cancelledNodes, failedNodes []string
		stateErr                    error
	)

	for _, nodeID := range r.plan.order {
		state := r.states[nodeID]

		if !state.Status.IsTerminal() {
			next := state.Clone()
			next.CompletedAt = &now

			if cancelled || scheduled[nodeID] {
				next.Status = models.NodeStatusCancelled
				cancelledNodes = append(cancelledNodes, nodeID)
			} else {
				next.Status = models.NodeStatusSkipped
			}

			if err := r.saveStateLocked(ctx, next); err != nil && stateErr == nil {
				stateErr = err
			}

			r.engine.metrics.NodeFinished(string(next.Kind), string(next.Status), 0)

			state = next
		}

		if state.Status == models.NodeStatusError {
			failedNodes = append(failedNodes, nodeID)
		}
	}

	record := *r.record
	record.CompletedAt = &now
	record.Cancelled = cancelled
	record.Status = models.ExecutionStatusSuccess

	switch {
	case cancelled:
		record.Status = models.ExecutionStatusError
		record.ErrorMessage = "execution cancelled"
	case failure != nil:
		record.Status = models.ExecutionStatusError
		record.ErrorMessage = failure.err.Error()
	case stateErr != nil:
		record.Status = models.ExecutionStatusError
		record.ErrorMessage = stateErr.Error()
	case len(failedNodes) > 0:
		record.Status = models.ExecutionStatusError
		record.ErrorMessage = r.continuedErrorsLocked(failedNodes)
	}

	finalResults := r.finalResultsLocked()

	r.record = &record
	r.finalized = true
	r.mu.Unlock()

	if err := r.persistRecord(ctx, &record); err != nil {
		r.mu.Lock()
		r.recordErr = err
		r.mu.Unlock()
	}

	var duration time.Duration
	if record.StartedAt != nil {
		duration = now.Sub(*record.StartedAt)
	}

	r.engine.metrics.ExecutionFinished(string(record.Status), cancelled, duration)

	switch {
	case cancelled:
		r.engine.publish(ctx, r.id, events.ExecutionCancelled{
			BaseEvent:      events.NewBaseEvent(events.ExecutionCancelledEvent, r.id, record.WorkflowID),
			CancelledNodes: cancelledNodes,
		})
	case record.Status == models.ExecutionStatusError:
		failed := events.ExecutionFailed{
			BaseEvent:     events.NewBaseEvent(events.ExecutionFailedEvent, r.id, record.WorkflowID),
			DurationMs:    duration.Milliseconds(),
			NodesExecuted: r.executedCount(),
			Error:         record.ErrorMessage,
		}
		if failure != nil {
			failed.FailedNodeID = failure.nodeID
		} else if len(failedNodes) > 0 {
			failed.FailedNodeID = failedNodes[0]
		}

		r.engine.publish(ctx, r.id, failed)
	default:
		r.engine.publish(ctx, r.id, events.ExecutionCompleted{
			BaseEvent:     events.NewBaseEvent(events.ExecutionCompletedEvent, r.id, record.WorkflowID),
			DurationMs:    duration.Milliseconds(),
			NodesExecuted: r.executedCount(),
			FinalResults:  finalResults,
		})
	}

	r.logger.InfoContext(ctx, "Execution finished",
		"status", record.Status,
		"cancelled", cancelled,
		"failed_nodes", failedNodes,
		"duration", duration)

	return record.Status
}

func (r *run) continuedErrorsLocked(failedNodes []string) string {
	messages := make([]string, 0, len(failedNodes))
	for _, nodeID := range failedNodes {
		messages = append(messages, fmt.Sprintf("node %s: %s", nodeID, r.states[nodeID].Error))
	}

	return "continued after errors: " + strings.Join(messages, "; ")
}

// finalResultsLocked merges the outputs of the end nodes that ran.
func (r *run) finalResultsLocked() map[string]any {
	results := map[string]any{}

	for _, nodeID := range r.plan.order {
		if r.plan.nodes[nodeID].Kind == models.NodeKindEnd && r.states[nodeID].Status == models.NodeStatusSuccess {
			maps.Copy(results, r.outputs[nodeID])
		}
	}

	return results
}

func (r *run) executedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, state := range r.states {
		if state.Status == models.NodeStatusSuccess || state.Status == models.NodeStatusError {
			count++
		}
	}

	return count
}

// persistRecord writes the terminal record, retrying with backoff. The last
// error is returned when every attempt failed.
func (r *run) persistRecord(ctx context.Context, record *models.ExecutionRecord) error {
	delay := finalizeBackoff

	var err error

	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		if err = r.writeRecord(ctx, record); err == nil {
			return nil
		}

		r.logger.ErrorContext(ctx, "Failed to persist terminal execution status",
			"status", record.Status, "attempt", attempt, "error", err)

		if attempt < finalizeAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}

	r.engine.metrics.Degraded("finalize_execution")

	return &PersistenceError{Op: "finalize", ExecutionID: r.id, Err: err}
}

// writeRecord stores record. A record already terminal in storage counts as
// written.
func (r *run) writeRecord(ctx context.Context, record *models.ExecutionRecord) error {
	err := r.engine.executions.UpdateExecution(context.WithoutCancel(ctx), record)
	if err != nil && persistence.IsExecutionTerminal(err) {
		return nil
	}

	return err
}

// release unregisters a run whose terminal record is stored. Otherwise the
// run stays registered, so GetStatus and Wait keep reporting it, and the
// write is retried in the background.
func (r *run) release() {
	if r.unpersisted() == nil {
		r.engine.forget(r)

		return
	}

	go r.retryRecord()
}

// retryRecord keeps writing the terminal record with capped exponential
// backoff until it succeeds or the engine closes.
func (r *run) retryRecord() {
	r.mu.Lock()
	record := *r.record
	r.mu.Unlock()

	ctx := context.Background()
	delay := finalizeBackoff << finalizeAttempts

	for attempt := finalizeAttempts + 1; ; attempt++ {
		timer := time.NewTimer(delay)

		select {
		case <-timer.C:
		case <-r.engine.closed:
			timer.Stop()
			r.logger.WarnContext(ctx, "Engine closed before terminal status was persisted", "status", record.Status)

			return
		}

		err := r.writeRecord(ctx, &record)
		if err == nil {
			r.mu.Lock()
			r.recordErr = nil
			r.mu.Unlock()

			r.engine.forget(r)
			r.logger.InfoContext(ctx, "Persisted terminal execution status", "status", record.Status, "attempt", attempt)

			return
		}

		r.logger.ErrorContext(ctx, "Failed to persist terminal execution status",
			"status", record.Status, "attempt", attempt, "error", err)

		r.mu.Lock()
		r.recordErr = &PersistenceError{Op: "finalize", ExecutionID: r.id, Err: err}
		r.mu.Unlock()

		delay = min(delay*2, maxFinalizeBackoff)
	}
}

func (r *run) unpersisted() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.recordErr
}

// unpersistedStatus returns the in-memory record and node states of a
// finished run whose terminal record is not stored yet.
func (r *run) unpersistedStatus() (*models.ExecutionRecord, []*models.NodeExecutionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recordErr == nil {
		return nil, nil, false
	}

	record := *r.record
	states := make([]*models.NodeExecutionState, 0, len(r.plan.order))

	for _, nodeID := range r.plan.order {
		states = append(states, r.states[nodeID].Clone())
	}

	return &record, states, true
}
