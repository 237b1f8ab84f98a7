package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/dukex/conduit/pkg/conditions"
	"github.com/dukex/conduit/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/spaolacci/murmur3"
)

// plan is a validated graph with the lookups the scheduler needs. Plans are
// shared between executions and never modified after creation.
type plan struct {
	graph    *models.WorkflowGraph
	nodes    map[string]*models.Node
	order    []string
	entry    string
	incoming map[string][]*planEdge
	outgoing map[string][]*planEdge
}

type planEdge struct {
	*models.Edge

	condition *conditions.Expression
}

// planCache keeps validated plans keyed by the hash of their canonical JSON.
type planCache struct {
	cache *ristretto.Cache
}

func newPlanCache(size int64) (*planCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * size,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create plan cache: %w", err)
	}

	return &planCache{cache: cache}, nil
}

func (c *planCache) get(key string) (*plan, bool) {
	value, found := c.cache.Get(key)
	if !found {
		return nil, false
	}

	p, ok := value.(*plan)

	return p, ok
}

func (c *planCache) set(key string, p *plan) {
	c.cache.Set(key, p, 1)
}

func (c *planCache) close() {
	c.cache.Close()
}

func planKey(document []byte) string {
	high, low := murmur3.Sum128(document)

	return fmt.Sprintf("%016x%016x", high, low)
}

// encodeGraph returns the canonical JSON of graph.
func encodeGraph(graph *models.WorkflowGraph) ([]byte, error) {
	if graph == nil {
		return nil, &ValidationError{Problems: []string{"graph is required"}}
	}

	document, err := json.Marshal(graph)
	if err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("graph cannot be encoded: %v", err)}}
	}

	return document, nil
}

// compilePlan validates the graph document and builds its plan. The plan
// owns a decoded copy of the graph, so later changes by the caller do not
// affect it.
func compilePlan(document []byte, validate *validator.Validate) (*plan, error) {
	var owned models.WorkflowGraph
	if err := json.Unmarshal(document, &owned); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	problems := &ValidationError{}

	validateStructure(&owned, validate, problems)

	if len(problems.Problems) > 0 {
		return nil, problems
	}

	p := &plan{
		graph:    &owned,
		nodes:    make(map[string]*models.Node, len(owned.Nodes)),
		incoming: make(map[string][]*planEdge, len(owned.Nodes)),
		outgoing: make(map[string][]*planEdge, len(owned.Nodes)),
	}

	for _, node := range owned.Nodes {
		if _, duplicate := p.nodes[node.ID]; duplicate {
			problems.add("duplicate node id %q", node.ID)

			continue
		}

		p.nodes[node.ID] = node
	}

	for i, edge := range owned.Edges {
		_, fromExists := p.nodes[edge.From]
		_, toExists := p.nodes[edge.To]

		if !fromExists {
			problems.add("edge %d references unknown source %q", i, edge.From)
		}

		if !toExists {
			problems.add("edge %d references unknown target %q", i, edge.To)
		}

		if edge.From == edge.To {
			problems.add("edge %d loops on node %q", i, edge.From)
		}

		compiled := &planEdge{Edge: edge}

		if edge.Condition != "" {
			expression, err := conditions.Compile(edge.Condition)
			if err != nil {
				problems.add("edge %s->%s: %v", edge.From, edge.To, err)
			}

			compiled.condition = expression
		}

		if fromExists && toExists {
			p.outgoing[edge.From] = append(p.outgoing[edge.From], compiled)
			p.incoming[edge.To] = append(p.incoming[edge.To], compiled)
		}
	}

	if len(problems.Problems) > 0 {
		return nil, problems
	}

	p.checkEntry(problems)
	p.sortTopologically(problems)

	if err := problems.orNil(); err != nil {
		return nil, err
	}

	return p, nil
}

func validateStructure(graph *models.WorkflowGraph, validate *validator.Validate, problems *ValidationError) {
	if err := validate.Struct(graph); err != nil {
		addValidatorProblems(problems, "", err)
	}

	for _, node := range graph.Nodes {
		if node == nil {
			continue
		}

		if node.Config == nil {
			problems.add("node %s has no config", node.ID)

			continue
		}

		if node.Config.Kind() != node.Kind {
			problems.add("node %s of kind %s carries %s config", node.ID, node.Kind, node.Config.Kind())

			continue
		}

		if err := validate.Struct(node.Config); err != nil {
			addValidatorProblems(problems, "node "+node.ID+" config", err)
		}

		// Expressions with template tokens are only known after interpolation.
		if condition, ok := node.Config.(*models.ConditionConfig); ok && !strings.Contains(condition.Expression, "{") {
			if err := conditions.Validate(condition.Expression); err != nil {
				problems.add("node %s: %v", node.ID, err)
			}
		}
	}
}

func addValidatorProblems(problems *ValidationError, prefix string, err error) {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		problems.add("%s", err.Error())

		return
	}

	for _, fieldErr := range validationErrors {
		field := fieldErr.Namespace()
		if prefix != "" {
			field = prefix + ": " + field
		}

		if fieldErr.Param() != "" {
			problems.add("%s failed %s=%s", field, fieldErr.Tag(), fieldErr.Param())
		} else {
			problems.add("%s failed %s", field, fieldErr.Tag())
		}
	}
}

func (p *plan) checkEntry(problems *ValidationError) {
	var entries, triggers []string

	for _, node := range p.graph.Nodes {
		if len(p.incoming[node.ID]) == 0 {
			entries = append(entries, node.ID)
		}

		if node.Kind == models.NodeKindTrigger {
			triggers = append(triggers, node.ID)
		}
	}

	switch len(entries) {
	case 1:
		p.entry = entries[0]
	case 0:
		problems.add("graph has no entry node")
	default:
		problems.add("graph must have exactly one entry node, found %s", strings.Join(entries, ", "))
	}

	if len(triggers) > 1 {
		problems.add("graph has more than one trigger: %s", strings.Join(triggers, ", "))
	}

	if len(triggers) == 1 && len(entries) == 1 && triggers[0] != entries[0] {
		problems.add("trigger %s must be the entry node", triggers[0])
	}
}

// sortTopologically orders nodes with Kahn's algorithm, keeping declaration
// order among ready nodes. Nodes left over sit on a cycle.
func (p *plan) sortTopologically(problems *ValidationError) {
	inDegree := make(map[string]int, len(p.graph.Nodes))
	for _, node := range p.graph.Nodes {
		inDegree[node.ID] = len(p.incoming[node.ID])
	}

	order := make([]string, 0, len(p.graph.Nodes))
	done := make(map[string]bool, len(p.graph.Nodes))

	for len(order) < len(p.graph.Nodes) {
		progressed := false

		for _, node := range p.graph.Nodes {
			if done[node.ID] || inDegree[node.ID] > 0 {
				continue
			}

			done[node.ID] = true
			order = append(order, node.ID)
			progressed = true

			for _, edge := range p.outgoing[node.ID] {
				inDegree[edge.To]--
			}
		}

		if !progressed {
			break
		}
	}

	if len(order) < len(p.graph.Nodes) {
		var cyclic []string

		for _, node := range p.graph.Nodes {
			if !done[node.ID] {
				cyclic = append(cyclic, node.ID)
			}
		}

		problems.add("graph contains a cycle through %s", strings.Join(cyclic, ", "))

		return
	}

	p.order = order
}
