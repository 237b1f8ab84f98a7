package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dukex/conduit/pkg/budget"
	"github.com/dukex/conduit/pkg/events"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/otelhelper"
	"github.com/dukex/conduit/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// preflight is the outcome of the budget gate of one node.
type preflight struct {
	costUSD float64
	// tierPriced is set when the estimate came from the cost tier rather
	// than from the executor; that estimate is also what gets recorded.
	tierPriced bool
}

// runNode executes one node to a final state. It never touches the
// scheduler's bookkeeping; the result is applied by the scheduler.
func (r *run) runNode(ctx context.Context, nodeID string, inputs map[string]any) nodeResult {
	node := r.plan.nodes[nodeID]
	started := r.engine.now()
	logger := r.logger.With("node_id", nodeID, "node_kind", node.Kind)

	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "node.execute",
		attribute.String(otelhelper.ExecutionIDKey, r.id),
		attribute.String(otelhelper.NodeIDKey, nodeID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
	)
	defer span.End()

	state := r.nodeState(nodeID)
	state.Status = models.NodeStatusRunning
	state.StartedAt = &started

	result := nodeResult{nodeID: nodeID, state: state}

	if err := r.saveState(ctx, state); err != nil {
		otelhelper.SetError(span, err)

		state.Status = models.NodeStatusError
		state.Error = err.Error()
		result.fatal = true
		result.err = err

		return r.complete(result, started)
	}

	execCtx := r.executionContext(logger)
	resolved := node.WithConfig(node.Config.Resolve(execCtx.Scope(inputs).Resolver(logger)))

	gate, err := r.checkBudget(ctx, resolved, execCtx)
	if err != nil {
		// Budget refusals are neither retried nor continued.
		logger.WarnContext(ctx, "Node refused by budget guard", "error", err)
		otelhelper.SetError(span, err)

		state.Status = models.NodeStatusError
		state.Error = err.Error()
		state.Metadata = map[string]any{"budget_exceeded": true}

		var exceeded *budget.BudgetExceededError
		if errors.As(err, &exceeded) {
			state.Metadata["budget"] = exceeded
		}

		result.fatal = true
		result.err = &NodeExecutionError{NodeID: nodeID, Attempts: 0, Err: err}

		return r.complete(result, started)
	}

	output, attempts, err := r.invokeWithRetries(ctx, resolved, execCtx, inputs, state, logger)
	if err != nil {
		if ctx.Err() != nil {
			result.cancelled = true

			return r.complete(result, started)
		}

		otelhelper.SetError(span, err, attribute.Int(otelhelper.AttemptKey, attempts))

		state.Status = models.NodeStatusError
		state.Error = err.Error()

		if IsPersistenceError(err) {
			// Storage failures end the run regardless of continueOnError.
			logger.ErrorContext(ctx, "Node state could not be persisted", "attempts", attempts, "error", err)

			result.fatal = true
			result.err = err

			return r.complete(result, started)
		}

		if node.ContinueOnError {
			state.ContinuedOnError = true
			state.OriginalError = err.Error()
			state.Output = map[string]any{"error": err.Error()}
			result.output = state.Output

			logger.WarnContext(ctx, "Node failed, continuing", "attempts", attempts, "error", err)
		} else {
			result.fatal = true

			logger.ErrorContext(ctx, "Node failed", "attempts", attempts, "error", err)
		}

		result.err = &NodeExecutionError{NodeID: nodeID, Attempts: attempts, Err: err}

		return r.complete(result, started)
	}

	state.Status = models.NodeStatusSuccess
	state.Output = output.Data
	state.Metadata = output.Metadata
	result.output = output.Data
	result.costUSD = r.recordSpend(ctx, nodeID, output, gate, state)

	logger.InfoContext(ctx, "Node completed", "attempts", attempts)

	return r.complete(result, started)
}

func (r *run) complete(result nodeResult, started time.Time) nodeResult {
	now := r.engine.now()

	result.state.CompletedAt = &now
	result.duration = now.Sub(started)

	return result
}

func (r *run) executionContext(logger *slog.Logger) *protocol.ExecutionContext {
	r.mu.Lock()
	outputs := maps.Clone(r.outputs)
	r.mu.Unlock()

	execCtx := &protocol.ExecutionContext{
		ExecutionID:    r.id,
		WorkflowID:     r.workflowID,
		UserID:         r.userID,
		IsTest:         r.isTest,
		Input:          r.input,
		TriggerPayload: r.input,
		NodeOutputs:    outputs,
		Variables:      r.variables,
		Context:        r.engine.contextStore,
		Approvals:      r.engine.approvals,
		Logger:         logger,
	}

	if r.engine.budget != nil {
		execCtx.Budget = r.engine.budget
	}

	return execCtx
}

// checkBudget prices a cost-bearing node and asks the guard whether it fits.
func (r *run) checkBudget(ctx context.Context, node *models.Node, execCtx *protocol.ExecutionContext) (preflight, error) {
	tier := node.EffectiveCostTier()
	if tier <= 0 || r.engine.budget == nil {
		return preflight{}, nil
	}

	gate := preflight{}

	if estimate, ok := r.engine.registry.EstimateCost(node, execCtx); ok {
		gate.costUSD = estimate.TotalCostUSD
	} else {
		gate.costUSD = float64(tier) * budget.TierCostUSD
		gate.tierPriced = true
	}

	if err := r.engine.budget.CheckAvailability(ctx, r.userID, gate.costUSD); err != nil {
		var exceeded *budget.BudgetExceededError
		if errors.As(err, &exceeded) {
			r.engine.metrics.BudgetRejected(string(exceeded.Period))
		}

		return gate, err
	}

	return gate, nil
}

// recordSpend charges the actual cost reported by the executor, or the tier
// estimate for executors that do not price themselves. Failures degrade.
func (r *run) recordSpend(ctx context.Context, nodeID string, output *protocol.Output, gate preflight, state *models.NodeExecutionState) float64 {
	if r.engine.budget == nil {
		return 0
	}

	record := models.SpendingRecord{ExecutionID: r.id, NodeID: nodeID}

	switch {
	case output.Cost != nil:
		record.Model = output.Cost.Model
		record.InputTokens = output.Cost.InputTokens
		record.OutputTokens = output.Cost.OutputTokens
		record.AmountUSD = output.Cost.TotalCostUSD
	case gate.tierPriced:
		record.AmountUSD = gate.costUSD
	default:
		return 0
	}

	if record.AmountUSD <= 0 {
		return 0
	}

	if degraded := r.engine.budget.RecordSpendingBestEffort(ctx, r.userID, record); degraded {
		if state.Metadata == nil {
			state.Metadata = map[string]any{}
		}

		state.Metadata["spend_degraded"] = true
		r.engine.metrics.Degraded("record_spending")

		return record.AmountUSD
	}

	r.engine.metrics.SpendRecorded(record.AmountUSD)

	return record.AmountUSD
}

// invokeWithRetries calls the executor until it succeeds, fails permanently
// or runs out of attempts. Each retried failure is appended to state.
func (r *run) invokeWithRetries(
	ctx context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	inputs map[string]any,
	state *models.NodeExecutionState,
	logger *slog.Logger,
) (*protocol.Output, int, error) {
	maxAttempts := node.Retry.Attempts()

	for attempt := 1; ; attempt++ {
		output, err := r.invoke(ctx, node, execCtx, inputs)
		if err == nil {
			return output, attempt, nil
		}

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}

		if protocol.IsPermanent(err) || attempt >= maxAttempts {
			return nil, attempt, err
		}

		delay := node.Retry.Delay(attempt)

		state.AddRetryAttempt(models.RetryAttempt{
			Attempt:   attempt,
			Timestamp: r.engine.now(),
			Error:     err.Error(),
			DelayMs:   delay.Milliseconds(),
		})
		if err := r.saveState(ctx, state); err != nil {
			return nil, attempt, err
		}

		logger.WarnContext(ctx, "Node attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", delay,
			"error", err)

		r.engine.metrics.NodeRetried(string(node.Kind))
		r.engine.publish(ctx, r.id, events.NodeRetried{
			BaseEvent: events.NewBaseEvent(events.NodeRetriedEvent, r.id, r.workflowID),
			NodeID:    node.ID,
			Attempt:   attempt,
			Error:     err.Error(),
			DelayMs:   delay.Milliseconds(),
		})

		if err := sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
}

type dispatched struct {
	output *protocol.Output
	err    error
}

// invoke runs one attempt. The scheduler stops waiting when the attempt
// times out or the run is cancelled, even if the executor ignores ctx.
func (r *run) invoke(
	ctx context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	inputs map[string]any,
) (*protocol.Output, error) {
	timeout := r.engine.nodeTimeout(node)

	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan dispatched, 1)

	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- dispatched{err: protocol.Permanent(fmt.Errorf("executor panic: %v", recovered))}
			}
		}()

		output, err := r.engine.registry.Dispatch(attemptCtx, node, execCtx, inputs)
		done <- dispatched{output: output, err: err}
	}()

	select {
	case result := <-done:
		if result.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrNodeTimeout, timeout, result.err)
		}

		return result.output, result.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w after %s", ErrNodeTimeout, timeout)
	}
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
