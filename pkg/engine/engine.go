// Package engine runs workflow graphs. It validates a graph, persists every
// state change of the execution and walks the nodes along satisfied edges.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/conduit/pkg/budget"
	"github.com/dukex/conduit/pkg/eventbus"
	"github.com/dukex/conduit/pkg/events"
	"github.com/dukex/conduit/pkg/metrics"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/otelhelper"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/dukex/conduit/pkg/pipelinecontext"
	"github.com/dukex/conduit/pkg/protocol"
	"github.com/dukex/conduit/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxParallel   = 4
	DefaultNodeTimeout   = 30 * time.Second
	defaultPlanCacheSize = 1024

	// AnonymousUserID owns executions started without a user.
	AnonymousUserID = "anonymous"
)

// ErrNodeNotFound is returned when an operation names a node missing from the graph.
var ErrNodeNotFound = errors.New("node not found")

type Config struct {
	// MaxParallel bounds the nodes of one execution running at the same time.
	MaxParallel int
	// NodeTimeout bounds one attempt of a node without its own timeout.
	NodeTimeout   time.Duration
	PlanCacheSize int64
}

// Dependencies are the collaborators of the engine. Persistence and Registry
// are required. A nil Budget disables cost gating.
type Dependencies struct {
	Persistence persistence.Persistence
	Registry    *registry.Registry
	Context     *pipelinecontext.Store
	Budget      *budget.Guard
	EventBus    eventbus.EventPublisher
	Metrics     *metrics.Metrics
	Tracer      trace.Tracer
	Logger      *slog.Logger
}

// StartOptions describe who starts an execution and with which variables.
type StartOptions struct {
	WorkflowID string
	UserID     string
	IsTest     bool
	Variables  map[string]any
}

type Engine struct {
	config       Config
	executions   persistence.ExecutionRepository
	registry     *registry.Registry
	contextStore *pipelinecontext.Store
	budget       *budget.Guard
	events       eventbus.EventPublisher
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger
	validate     *validator.Validate
	plans        *planCache
	approvals    *approvalBroker
	now          func() time.Time

	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	runs map[string]*run
}

func New(deps Dependencies, config Config) (*Engine, error) {
	if deps.Persistence == nil {
		return nil, errors.New("engine requires a persistence backend")
	}

	if deps.Registry == nil {
		return nil, errors.New("engine requires an executor registry")
	}

	if config.MaxParallel <= 0 {
		config.MaxParallel = DefaultMaxParallel
	}

	if config.NodeTimeout <= 0 {
		config.NodeTimeout = DefaultNodeTimeout
	}

	if config.PlanCacheSize <= 0 {
		config.PlanCacheSize = defaultPlanCacheSize
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "engine")

	plans, err := newPlanCache(config.PlanCacheSize)
	if err != nil {
		return nil, err
	}

	contextStore := deps.Context
	if contextStore == nil {
		contextStore = pipelinecontext.NewStore(deps.Persistence.ContextRepository(), logger)
	}

	var publisher eventbus.EventPublisher = eventbus.Noop{}
	if deps.EventBus != nil {
		publisher = deps.EventBus
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	if missing := deps.Registry.Missing(); len(missing) > 0 {
		logger.Warn("Node kinds without executor", "kinds", missing)
	}

	return &Engine{
		config:       config,
		executions:   deps.Persistence.ExecutionRepository(),
		registry:     deps.Registry,
		contextStore: contextStore,
		budget:       deps.Budget,
		events:       publisher,
		metrics:      deps.Metrics,
		tracer:       tracer,
		logger:       logger,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		plans:        plans,
		approvals:    newApprovalBroker(),
		now:          func() time.Time { return time.Now().UTC() },
		closed:       make(chan struct{}),
		runs:         make(map[string]*run),
	}, nil
}

// Close releases the plan cache and stops retrying terminal records that
// could not be written; those are finalized by Recover. Running executions
// are left to finish.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.plans.close()
	})
}

// Validate checks graph without starting it.
func (e *Engine) Validate(graph *models.WorkflowGraph) error {
	_, err := e.prepare(graph)

	return err
}

func (e *Engine) prepare(graph *models.WorkflowGraph) (*plan, error) {
	document, err := encodeGraph(graph)
	if err != nil {
		return nil, err
	}

	key := planKey(document)
	if cached, ok := e.plans.get(key); ok {
		return cached, nil
	}

	p, err := compilePlan(document, e.validate)
	if err != nil {
		return nil, err
	}

	e.plans.set(key, p)

	return p, nil
}

// Start validates graph, persists the new execution and runs it in the
// background. It returns once the execution is durably recorded as running.
func (e *Engine) Start(ctx context.Context, graph *models.WorkflowGraph, input map[string]any, opts StartOptions) (string, error) {
	p, err := e.prepare(graph)
	if err != nil {
		return "", err
	}

	userID := opts.UserID
	if userID == "" {
		userID = AnonymousUserID
	}

	now := e.now()
	record := &models.ExecutionRecord{
		ID:         uuid.NewString(),
		WorkflowID: opts.WorkflowID,
		UserID:     userID,
		Status:     models.ExecutionStatusPending,
		IsTest:     opts.IsTest,
		CreatedAt:  now,
	}

	logger := e.logger.With("execution_id", record.ID, "workflow_id", record.WorkflowID)

	if err := e.executions.CreateExecution(ctx, record); err != nil {
		logger.ErrorContext(ctx, "Failed to persist execution", "error", err)

		return "", &PersistenceError{Op: "create", ExecutionID: record.ID, Err: err}
	}

	states := make(map[string]*models.NodeExecutionState, len(p.order))

	for _, nodeID := range p.order {
		state := models.NewNodeExecutionState(p.nodes[nodeID])
		if err := e.executions.SaveNodeState(ctx, record.ID, state); err != nil {
			logger.ErrorContext(ctx, "Failed to persist node state", "node_id", nodeID, "error", err)
			e.discard(ctx, logger, record.ID)

			return "", &PersistenceError{Op: "save node state", ExecutionID: record.ID, Err: err}
		}

		states[nodeID] = state
	}

	started := *record
	started.Status = models.ExecutionStatusRunning
	started.StartedAt = &now

	if err := e.executions.UpdateExecution(ctx, &started); err != nil {
		logger.ErrorContext(ctx, "Failed to mark execution running", "error", err)
		e.discard(ctx, logger, record.ID)

		return "", &PersistenceError{Op: "start", ExecutionID: record.ID, Err: err}
	}

	r := newRun(context.WithoutCancel(ctx), e, p, &started, states, input, opts.Variables, logger)

	e.mu.Lock()
	e.runs[started.ID] = r
	e.mu.Unlock()

	e.metrics.ExecutionStarted()
	e.publish(ctx, started.ID, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, started.ID, started.WorkflowID),
		UserID:    userID,
		IsTest:    started.IsTest,
		NodeCount: len(p.order),
	})

	logger.InfoContext(ctx, "Execution started", "nodes", len(p.order), "user_id", userID)

	go r.execute()

	return started.ID, nil
}

// discard removes the record of a start that could not complete. A record
// that cannot be removed either stays pending and is finalized by Recover.
func (e *Engine) discard(ctx context.Context, logger *slog.Logger, executionID string) {
	if err := e.executions.DeleteExecution(context.WithoutCancel(ctx), executionID); err != nil {
		logger.ErrorContext(ctx, "Failed to remove execution after failed start", "error", err)
	}
}

// GetStatus reads the persisted record and node states of an execution. A
// finished run whose terminal record is still being written reports its
// in-memory state.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (*models.ExecutionRecord, []*models.NodeExecutionState, error) {
	if r, ok := e.activeRun(executionID); ok {
		if record, states, pending := r.unpersistedStatus(); pending {
			return record, states, nil
		}
	}

	record, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	states, err := e.executions.NodeStates(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	return record, states, nil
}

// Cancel stops scheduling, marks unfinished nodes cancelled and moves the
// record to error with the cancelled marker. An execution left running by a
// previous process is finalized directly.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	if r, ok := e.activeRun(executionID); ok {
		if !r.requestCancel() {
			return ErrExecutionTerminal
		}

		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	record, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if record.Status.IsTerminal() {
		return ErrExecutionTerminal
	}

	return e.finalizeOrphan(ctx, record, true, "execution cancelled")
}

// Approve delivers a human decision to a waiting approval node.
func (e *Engine) Approve(ctx context.Context, executionID, nodeID string, decision protocol.ApprovalDecision) error {
	r, ok := e.activeRun(executionID)
	if !ok {
		record, err := e.executions.GetExecution(ctx, executionID)
		if err != nil {
			return err
		}

		if record.Status.IsTerminal() {
			return ErrExecutionTerminal
		}

		return ErrApprovalNotPending
	}

	node, exists := r.plan.nodes[nodeID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	if node.Kind != models.NodeKindHumanApproval {
		return fmt.Errorf("%w: %s", ErrNotApprovalNode, nodeID)
	}

	if r.nodeStatus(nodeID).IsTerminal() {
		return ErrApprovalNotPending
	}

	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = e.now()
	}

	if err := e.approvals.deliver(executionID, nodeID, decision); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Approval decision delivered", "node_id", nodeID, "approved", decision.Approved)

	return nil
}

// Purge deletes a finished execution together with its context.
func (e *Engine) Purge(ctx context.Context, executionID string) error {
	if _, ok := e.activeRun(executionID); ok {
		return ErrExecutionActive
	}

	record, err := e.executions.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if !record.Status.IsTerminal() {
		return ErrExecutionActive
	}

	if err := e.contextStore.Purge(ctx, executionID); err != nil {
		return &PersistenceError{Op: "purge context", ExecutionID: executionID, Err: err}
	}

	if err := e.executions.DeleteExecution(ctx, executionID); err != nil {
		return &PersistenceError{Op: "purge", ExecutionID: executionID, Err: err}
	}

	e.logger.InfoContext(ctx, "Execution purged", "execution_id", executionID)

	return nil
}

// Wait blocks until the execution started by this engine finishes. It
// returns a PersistenceError when the terminal record could not be written.
// For executions not running here it only checks that they exist.
func (e *Engine) Wait(ctx context.Context, executionID string) error {
	if r, ok := e.activeRun(executionID); ok {
		select {
		case <-r.done:
			return r.unpersisted()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	_, err := e.executions.GetExecution(ctx, executionID)

	return err
}

// Recover finalizes executions that a previous process left pending or
// running. It returns how many were finalized.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	recovered := 0

	for _, status := range []models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusPending} {
		records, err := e.executions.ExecutionsByStatus(ctx, status)
		if err != nil {
			return recovered, err
		}

		for _, record := range records {
			if _, active := e.activeRun(record.ID); active {
				continue
			}

			if err := e.finalizeOrphan(ctx, record, false, "execution interrupted before completion"); err != nil {
				return recovered, err
			}

			recovered++
		}
	}

	if recovered > 0 {
		e.logger.InfoContext(ctx, "Recovered interrupted executions", "count", recovered)
	}

	return recovered, nil
}

func (e *Engine) finalizeOrphan(ctx context.Context, record *models.ExecutionRecord, cancelled bool, message string) error {
	states, err := e.executions.NodeStates(ctx, record.ID)
	if err != nil {
		return &PersistenceError{Op: "finalize", ExecutionID: record.ID, Err: err}
	}

	now := e.now()

	for _, state := range states {
		if state.Status.IsTerminal() {
			continue
		}

		state.Status = models.NodeStatusCancelled
		state.CompletedAt = &now

		if err := e.executions.SaveNodeState(ctx, record.ID, state); err != nil {
			return &PersistenceError{Op: "finalize", ExecutionID: record.ID, Err: err}
		}
	}

	if record.Status == models.ExecutionStatusPending {
		running := *record
		running.Status = models.ExecutionStatusRunning
		running.StartedAt = &now

		if err := e.executions.UpdateExecution(ctx, &running); err != nil {
			return &PersistenceError{Op: "finalize", ExecutionID: record.ID, Err: err}
		}

		record = &running
	}

	final := *record
	final.Status = models.ExecutionStatusError
	final.Cancelled = cancelled
	final.ErrorMessage = message
	final.CompletedAt = &now

	if err := e.executions.UpdateExecution(ctx, &final); err != nil {
		if persistence.IsExecutionTerminal(err) {
			return ErrExecutionTerminal
		}

		return &PersistenceError{Op: "finalize", ExecutionID: record.ID, Err: err}
	}

	e.logger.InfoContext(ctx, "Finalized execution without a live run", "execution_id", record.ID, "cancelled", cancelled)

	if cancelled {
		e.publish(ctx, record.ID, events.ExecutionCancelled{
			BaseEvent: events.NewBaseEvent(events.ExecutionCancelledEvent, record.ID, record.WorkflowID),
		})
	} else {
		e.publish(ctx, record.ID, events.ExecutionFailed{
			BaseEvent: events.NewBaseEvent(events.ExecutionFailedEvent, record.ID, record.WorkflowID),
			Error:     message,
		})
	}

	return nil
}

func (e *Engine) activeRun(executionID string) (*run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runs[executionID]

	return r, ok
}

func (e *Engine) forget(r *run) {
	e.mu.Lock()
	delete(e.runs, r.id)
	e.mu.Unlock()

	e.approvals.forget(r.id)
	e.contextStore.Release(r.id)
}

// publish sends event keyed by execution. Failures never affect the run.
func (e *Engine) publish(ctx context.Context, executionID string, event eventbus.Event) {
	if err := e.events.Publish(ctx, executionID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
		e.metrics.Degraded("publish_event")
	}
}

// nodeTimeout bounds one attempt of node. Approval nodes wait for a human and
// get no default bound; delay nodes get their delay on top of the default.
func (e *Engine) nodeTimeout(node *models.Node) time.Duration {
	if node.TimeoutMs > 0 {
		return time.Duration(node.TimeoutMs) * time.Millisecond
	}

	switch config := node.Config.(type) {
	case *models.HumanApprovalConfig:
		return 0
	case *models.DelayConfig:
		return time.Duration(config.DurationMs)*time.Millisecond + e.config.NodeTimeout
	default:
		return e.config.NodeTimeout
	}
}
