package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
	"github.com/dukex/conduit/pkg/testutil"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diamond() *models.WorkflowGraph {
	return &models.WorkflowGraph{
		Nodes: []*models.Node{
			testutil.CreateTestNode("join"),
			testutil.CreateTestNode("right"),
			testutil.CreateTestNode("start", testutil.WithTrigger()),
			testutil.CreateTestNode("left"),
		},
		Edges: []*models.Edge{
			testutil.Edge("start", "left"),
			testutil.Edge("start", "right"),
			testutil.Edge("left", "join"),
			testutil.Edge("right", "join"),
		},
	}
}

func compile(t *testing.T, graph *models.WorkflowGraph) (*plan, error) {
	t.Helper()

	document, err := encodeGraph(graph)
	require.NoError(t, err)

	return compilePlan(document, validator.New(validator.WithRequiredStructEnabled()))
}

func TestCompilePlanOrdersTopologically(t *testing.T) {
	p, err := compile(t, diamond())
	require.NoError(t, err)

	assert.Equal(t, "start", p.entry)
	assert.Equal(t, []string{"start", "left", "right", "join"}, p.order)
	assert.Len(t, p.incoming["join"], 2)
	assert.Len(t, p.outgoing["start"], 2)
}

func TestCompilePlanCompilesEdgeConditions(t *testing.T) {
	graph := diamond()
	graph.Edges[0].Condition = "score >= 10"

	p, err := compile(t, graph)
	require.NoError(t, err)

	edge := p.outgoing["start"][0]
	require.NotNil(t, edge.condition)
	assert.True(t, edge.condition.Evaluate(map[string]any{"score": 12}))
	assert.False(t, edge.condition.Evaluate(map[string]any{"score": 3}))
	assert.Nil(t, p.outgoing["start"][1].condition)
}

func TestCompilePlanDefersTemplatedConditionNodes(t *testing.T) {
	graph := testutil.Chain(
		testutil.CreateTestNode("start", testutil.WithTrigger()),
		testutil.CreateTestNode("check", testutil.WithConfig(&models.ConditionConfig{Expression: "{{limit}} > 3"})),
	)

	_, err := compile(t, graph)
	require.NoError(t, err)

	graph.Nodes[1].Config = &models.ConditionConfig{Expression: "limit >"}

	_, err = compile(t, graph)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node check")
}

func TestCompilePlanRejectsMismatchedConfig(t *testing.T) {
	node := testutil.CreateTestNode("start", testutil.WithTrigger())
	node.Kind = models.NodeKindEnd

	// Encoding drops the mismatch, so check the structure directly.
	problems := &ValidationError{}
	validateStructure(&models.WorkflowGraph{Nodes: []*models.Node{node}}, validator.New(), problems)

	require.Len(t, problems.Problems, 1)
	assert.Contains(t, problems.Problems[0], "carries trigger config")
}

func TestPlanKeyIsStableAndContentAddressed(t *testing.T) {
	first, err := encodeGraph(diamond())
	require.NoError(t, err)

	second, err := encodeGraph(diamond())
	require.NoError(t, err)

	assert.Equal(t, planKey(first), planKey(second))
	assert.Len(t, planKey(first), 32)

	changed := diamond()
	changed.Edges[0].Optional = true

	third, err := encodeGraph(changed)
	require.NoError(t, err)

	assert.NotEqual(t, planKey(first), planKey(third))
}

func TestPrepareReusesCachedPlans(t *testing.T) {
	cache, err := newPlanCache(16)
	require.NoError(t, err)
	t.Cleanup(cache.close)

	e := &Engine{plans: cache, validate: validator.New(validator.WithRequiredStructEnabled())}

	first, err := e.prepare(diamond())
	require.NoError(t, err)

	cache.cache.Wait()

	second, err := e.prepare(diamond())
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestApprovalBrokerBuffersEarlyDecision(t *testing.T) {
	broker := newApprovalBroker()

	require.NoError(t, broker.deliver("exec", "review", protocol.ApprovalDecision{Approved: true, DecidedBy: "ops"}))
	assert.ErrorIs(t, broker.deliver("exec", "review", protocol.ApprovalDecision{}), ErrApprovalNotPending)

	decision, err := broker.Await(context.Background(), "exec", "review")
	require.NoError(t, err)
	assert.True(t, decision.Approved)
	assert.Equal(t, "ops", decision.DecidedBy)
}

func TestApprovalBrokerWaitsForDecision(t *testing.T) {
	broker := newApprovalBroker()
	received := make(chan protocol.ApprovalDecision, 1)

	go func() {
		decision, err := broker.Await(context.Background(), "exec", "review")
		if err == nil {
			received <- decision
		}
	}()

	require.Eventually(t, func() bool {
		return broker.deliver("exec", "review", protocol.ApprovalDecision{Approved: true}) == nil
	}, time.Second, 5*time.Millisecond)

	select {
	case decision := <-received:
		assert.True(t, decision.Approved)
	case <-time.After(time.Second):
		t.Fatal("decision was not delivered")
	}
}

func TestApprovalBrokerAwaitHonoursContext(t *testing.T) {
	broker := newApprovalBroker()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := broker.Await(ctx, "exec", "review")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	broker.forget("exec")
	assert.Empty(t, broker.pending)
}

func TestNodeTimeoutPolicy(t *testing.T) {
	e := &Engine{config: Config{NodeTimeout: time.Second}}

	assert.Equal(t, time.Second, e.nodeTimeout(testutil.CreateTestNode("t")))
	assert.Equal(t, 50*time.Millisecond, e.nodeTimeout(testutil.CreateTestNode("t", testutil.WithTimeout(50))))
	assert.Zero(t, e.nodeTimeout(testutil.CreateTestNode("a", testutil.WithConfig(&models.HumanApprovalConfig{Prompt: "ok?"}))))
	assert.Equal(t, 3*time.Second, e.nodeTimeout(testutil.CreateTestNode("d", testutil.WithConfig(&models.DelayConfig{DurationMs: 2000}))))
}
