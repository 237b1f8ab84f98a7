// Package llmagent provides the context-aware LLM node executor. It injects a
// summary of the pipeline context into the prompt and writes the response
// back to the context for later nodes.
package llmagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/conduit/pkg/budget"
	"github.com/dukex/conduit/pkg/llm"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/pipelinecontext"
	"github.com/dukex/conduit/pkg/protocol"
)

const (
	// ContextHeader opens the injected context block.
	ContextHeader = "## Context from previous pipeline steps"

	contextSeparator = "\n\n---\n\n"

	contextAwarenessHint = "You are one step of a multi-step pipeline; the prompt starts with context produced by earlier steps."

	defaultMaxTokens = 1024
)

// Metadata keys reported on every output.
const (
	MetaContextInjected = "contextInjected"
	MetaContextStored   = "contextStored"
	MetaSimulated       = "simulated"
	MetaContextDegraded = "contextDegraded"
)

// Executor runs llm_agent nodes against an injected provider.
type Executor struct {
	provider llm.Provider
}

// NewExecutor creates an executor calling provider.
func NewExecutor(provider llm.Provider) *Executor {
	return &Executor{provider: provider}
}

// BuildPrompt prepends the context block to prompt. An empty summary leaves
// the prompt unchanged.
func BuildPrompt(summary, prompt string) string {
	if summary == "" {
		return prompt
	}

	return ContextHeader + "\n\n" + summary + contextSeparator + prompt
}

// BuildSystemPrompt adds the context hint when context was injected.
func BuildSystemPrompt(systemPrompt string, injected bool) string {
	switch {
	case !injected:
		return systemPrompt
	case systemPrompt == "":
		return contextAwarenessHint
	default:
		return systemPrompt + "\n\n" + contextAwarenessHint
	}
}

// EstimateCost prices the node before it runs from its prompt, the largest
// context it may inject and its token limit.
func (e *Executor) EstimateCost(node *models.Node, execCtx *protocol.ExecutionContext) (models.CostEstimate, bool) {
	config, ok := node.Config.(*models.LLMAgentConfig)
	if !ok {
		return models.CostEstimate{}, false
	}

	inputTokens := budget.EstimateTokens(config.SystemPrompt + config.Prompt)
	if config.ShouldInjectContext() {
		inputTokens += budget.EstimateTokens(ContextHeader+contextSeparator) +
			(config.EffectiveMaxContextLength()+pipelinecontext.SummaryTemplateOverhead+3)/4
	}

	outputTokens := maxTokens(config)

	if execCtx != nil && execCtx.Budget != nil {
		return execCtx.Budget.CostForTokens(config.Model, inputTokens, outputTokens), true
	}

	return budget.CostForTokens(config.Model, inputTokens, outputTokens), true
}

func (e *Executor) Execute(
	ctx context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	_ map[string]any,
) (*protocol.Output, error) {
	config, ok := node.Config.(*models.LLMAgentConfig)
	if !ok {
		return nil, protocol.Permanent(fmt.Errorf("llm_agent node %s has %T config", node.ID, node.Config))
	}

	logger := execCtx.NodeLogger(node).With("model", config.Model)

	prompt, injected, degraded := e.injectContext(ctx, config, execCtx)

	response, err := e.provider.Complete(ctx, llm.Request{
		Model:        config.Model,
		SystemPrompt: BuildSystemPrompt(config.SystemPrompt, injected),
		Prompt:       prompt,
		Temperature:  config.Temperature,
		MaxTokens:    maxTokens(config),
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	parsed := parseJSON(response.Content)

	var summary string
	if config.ShouldGenerateSummary() {
		summary = summarize(node, response, parsed)
	}

	stored := false
	if config.ShouldStoreInContext() && execCtx.Context != nil {
		stored = storeResult(ctx, logger, node, config, execCtx, response.Content, parsed, summary)
		degraded = degraded || !stored
	}

	data := map[string]any{
		"response": response.Content,
		"model":    response.Model,
		"usage": map[string]any{
			"input_tokens":  response.InputTokens,
			"output_tokens": response.OutputTokens,
		},
	}

	if parsed != nil {
		data["parsed"] = parsed
	}

	if summary != "" {
		data["summary"] = summary
	}

	output := protocol.NewOutput(data)
	output.Metadata[MetaContextInjected] = injected
	output.Metadata[MetaContextStored] = stored
	output.Metadata[MetaSimulated] = response.Simulated
	output.Metadata[MetaContextDegraded] = degraded
	output.Metadata["contextKey"] = contextKey(node, config)

	if !response.Simulated {
		cost := actualCost(execCtx, config.Model, response)
		output.Cost = &cost
	}

	logger.InfoContext(ctx, "LLM agent completed",
		"context_injected", injected,
		"context_stored", stored,
		"simulated", response.Simulated,
		"input_tokens", response.InputTokens,
		"output_tokens", response.OutputTokens)

	return output, nil
}

// injectContext returns the final prompt. degraded reports a context fetch
// failure, in which case the prompt is used without context.
func (e *Executor) injectContext(
	ctx context.Context,
	config *models.LLMAgentConfig,
	execCtx *protocol.ExecutionContext,
) (string, bool, bool) {
	if !config.ShouldInjectContext() || execCtx.Context == nil {
		return config.Prompt, false, false
	}

	summary, degraded := execCtx.Context.TrySummary(ctx, execCtx.ExecutionID, pipelinecontext.SummaryOptions{
		MaxLength:  config.EffectiveMaxContextLength(),
		Format:     config.EffectiveContextFormat(),
		FocusNodes: config.FocusNodes,
	})
	if summary == "" {
		return config.Prompt, false, degraded
	}

	return BuildPrompt(summary, config.Prompt), true, degraded
}

func classifyProviderError(err error) error {
	if errors.Is(err, llm.ErrMissingCredentials) {
		return protocol.Permanent(err)
	}

	var providerErr *llm.ProviderError
	if errors.As(err, &providerErr) && !providerErr.Retryable() {
		return protocol.Permanent(err)
	}

	return err
}

func actualCost(execCtx *protocol.ExecutionContext, model string, response *llm.Response) models.CostEstimate {
	if execCtx.Budget != nil {
		return execCtx.Budget.CostForTokens(model, response.InputTokens, response.OutputTokens)
	}

	return budget.CostForTokens(model, response.InputTokens, response.OutputTokens)
}

func maxTokens(config *models.LLMAgentConfig) int {
	if config.MaxTokens > 0 {
		return config.MaxTokens
	}

	return defaultMaxTokens
}

func contextKey(node *models.Node, config *models.LLMAgentConfig) string {
	if config.ContextKey != "" {
		return config.ContextKey
	}

	return node.ID + "_output"
}

// storeResult writes the raw response and every significant parsed field.
// It reports false when any write failed.
func storeResult(
	ctx context.Context,
	logger *slog.Logger,
	node *models.Node,
	config *models.LLMAgentConfig,
	execCtx *protocol.ExecutionContext,
	content string,
	parsed map[string]any,
	summary string,
) bool {
	key := contextKey(node, config)
	meta := pipelinecontext.EntryMeta{NodeType: models.NodeKindLLMAgent, Summary: summary}

	if _, err := execCtx.Context.Add(ctx, execCtx.ExecutionID, key, content, node.ID, meta); err != nil {
		logger.WarnContext(ctx, "Failed to store LLM response in context", "key", key, "error", err)

		return false
	}

	for field, value := range parsed {
		if !significant(value) {
			continue
		}

		fieldKey := key + "." + field
		fieldMeta := pipelinecontext.EntryMeta{NodeType: models.NodeKindLLMAgent}

		if _, err := execCtx.Context.Add(ctx, execCtx.ExecutionID, fieldKey, value, node.ID, fieldMeta); err != nil {
			logger.WarnContext(ctx, "Failed to store parsed field in context", "key", fieldKey, "error", err)

			return false
		}
	}

	return true
}
