package models

import (
	"fmt"
	"maps"
)

// NodeConfig is the typed configuration of a node. The set of implementations
// is closed: one struct per NodeKind.
type NodeConfig interface {
	Kind() NodeKind
	// Resolve returns a copy with every templated string field passed through fn.
	Resolve(fn func(string) string) NodeConfig

	nodeConfig()
}

// NewNodeConfig returns an empty typed config for kind.
//
//nolint:ireturn // NodeConfig is a closed sum type
func NewNodeConfig(kind NodeKind) (NodeConfig, error) {
	switch kind {
	case NodeKindTrigger:
		return &TriggerConfig{}, nil
	case NodeKindAction:
		return &ActionConfig{}, nil
	case NodeKindCondition:
		return &ConditionConfig{}, nil
	case NodeKindTransform:
		return &TransformConfig{}, nil
	case NodeKindDelay:
		return &DelayConfig{}, nil
	case NodeKindHumanApproval:
		return &HumanApprovalConfig{}, nil
	case NodeKindLLMAgent:
		return &LLMAgentConfig{}, nil
	case NodeKindEnd:
		return &EndConfig{}, nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
}

// TriggerConfig configures the entry node. Its output is the execution input.
type TriggerConfig struct {
	Source string `json:"source,omitempty"`
}

// ActionType selects the adapter used by an action node.
type ActionType string

const (
	ActionTypeHTTP     ActionType = "http"
	ActionTypeDatabase ActionType = "database"
	ActionTypeEmail    ActionType = "email"
	ActionTypeWebhook  ActionType = "webhook"
)

// ActionConfig configures an action node. Exactly the block matching Type is used.
type ActionConfig struct {
	Type     ActionType            `json:"type"               validate:"required,oneof=http database email webhook"`
	HTTP     *HTTPActionConfig     `json:"http,omitempty"     validate:"required_if=Type http"`
	Database *DatabaseActionConfig `json:"database,omitempty" validate:"required_if=Type database"`
	Email    *EmailActionConfig    `json:"email,omitempty"    validate:"required_if=Type email"`
	Webhook  *WebhookActionConfig  `json:"webhook,omitempty"  validate:"required_if=Type webhook"`
}

type HTTPActionConfig struct {
	URL     string            `json:"url"               validate:"required"`
	Method  string            `json:"method,omitempty"  validate:"omitempty,oneof=GET POST PUT PATCH DELETE HEAD get post put patch delete head"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

type DatabaseActionConfig struct {
	Query string   `json:"query"          validate:"required"`
	Args  []string `json:"args,omitempty"`
}

type EmailActionConfig struct {
	To      []string `json:"to"      validate:"required,min=1,dive,required"`
	Subject string   `json:"subject" validate:"required"`
	Body    string   `json:"body"`
}

type WebhookActionConfig struct {
	URL     string            `json:"url"               validate:"required"`
	Payload string            `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// ConditionConfig evaluates a boolean expression against the node inputs.
type ConditionConfig struct {
	Expression string `json:"expression" validate:"required"`
}

// TransformConfig builds an output object from templated values.
type TransformConfig struct {
	Mapping map[string]string `json:"mapping" validate:"required,min=1"`
}

// DelayConfig pauses the branch.
type DelayConfig struct {
	DurationMs int `json:"duration_ms" validate:"min=0"`
}

// HumanApprovalConfig blocks the branch until a decision is submitted.
type HumanApprovalConfig struct {
	Prompt    string   `json:"prompt"               validate:"required"`
	Approvers []string `json:"approvers,omitempty"`
	TimeoutMs int      `json:"timeout_ms,omitempty" validate:"min=0"`
}

// ContextFormat selects how the context summary is rendered.
type ContextFormat string

const (
	ContextFormatNarrative  ContextFormat = "narrative"
	ContextFormatStructured ContextFormat = "structured"
	ContextFormatCompact    ContextFormat = "compact"
)

const DefaultMaxContextLength = 2000

// LLMAgentConfig configures the context-aware LLM node.
type LLMAgentConfig struct {
	Prompt           string        `json:"prompt"                       validate:"required"`
	Model            string        `json:"model"                        validate:"required"`
	Temperature      *float64      `json:"temperature,omitempty"        validate:"omitempty,min=0,max=2"`
	MaxTokens        int           `json:"max_tokens,omitempty"         validate:"min=0"`
	SystemPrompt     string        `json:"system_prompt,omitempty"`
	InjectContext    *bool         `json:"inject_context,omitempty"`
	ContextFormat    ContextFormat `json:"context_format,omitempty"     validate:"omitempty,oneof=narrative structured compact"`
	MaxContextLength int           `json:"max_context_length,omitempty" validate:"min=0"`
	FocusNodes       []string      `json:"focus_nodes,omitempty"`
	StoreInContext   *bool         `json:"store_in_context,omitempty"`
	ContextKey       string        `json:"context_key,omitempty"`
	GenerateSummary  *bool         `json:"generate_summary,omitempty"`
}

func (c *LLMAgentConfig) ShouldInjectContext() bool { return boolOr(c.InjectContext, true) }

func (c *LLMAgentConfig) ShouldStoreInContext() bool { return boolOr(c.StoreInContext, true) }

func (c *LLMAgentConfig) ShouldGenerateSummary() bool { return boolOr(c.GenerateSummary, true) }

// EffectiveContextFormat defaults to narrative.
func (c *LLMAgentConfig) EffectiveContextFormat() ContextFormat {
	if c.ContextFormat == "" {
		return ContextFormatNarrative
	}

	return c.ContextFormat
}

// EffectiveMaxContextLength defaults to DefaultMaxContextLength.
func (c *LLMAgentConfig) EffectiveMaxContextLength() int {
	if c.MaxContextLength <= 0 {
		return DefaultMaxContextLength
	}

	return c.MaxContextLength
}

// EndConfig optionally shapes the final output of the execution.
type EndConfig struct {
	Output map[string]string `json:"output,omitempty"`
}

func (*TriggerConfig) Kind() NodeKind       { return NodeKindTrigger }
func (*ActionConfig) Kind() NodeKind        { return NodeKindAction }
func (*ConditionConfig) Kind() NodeKind     { return NodeKindCondition }
func (*TransformConfig) Kind() NodeKind     { return NodeKindTransform }
func (*DelayConfig) Kind() NodeKind         { return NodeKindDelay }
func (*HumanApprovalConfig) Kind() NodeKind { return NodeKindHumanApproval }
func (*LLMAgentConfig) Kind() NodeKind      { return NodeKindLLMAgent }
func (*EndConfig) Kind() NodeKind           { return NodeKindEnd }

func (*TriggerConfig) nodeConfig()       {}
func (*ActionConfig) nodeConfig()        {}
func (*ConditionConfig) nodeConfig()     {}
func (*TransformConfig) nodeConfig()     {}
func (*DelayConfig) nodeConfig()         {}
func (*HumanApprovalConfig) nodeConfig() {}
func (*LLMAgentConfig) nodeConfig()      {}
func (*EndConfig) nodeConfig()           {}

//nolint:ireturn
func (c *TriggerConfig) Resolve(_ func(string) string) NodeConfig {
	clone := *c

	return &clone
}

//nolint:ireturn
func (c *ActionConfig) Resolve(fn func(string) string) NodeConfig {
	clone := *c

	if c.HTTP != nil {
		http := *c.HTTP
		http.URL = fn(http.URL)
		http.Body = fn(http.Body)
		http.Headers = resolveStringMap(http.Headers, fn)
		clone.HTTP = &http
	}

	// The query stays literal; values reach it only as bound args.
	if c.Database != nil {
		database := *c.Database
		database.Args = resolveStrings(database.Args, fn)
		clone.Database = &database
	}

	if c.Email != nil {
		email := *c.Email
		email.To = resolveStrings(email.To, fn)
		email.Subject = fn(email.Subject)
		email.Body = fn(email.Body)
		clone.Email = &email
	}

	if c.Webhook != nil {
		webhook := *c.Webhook
		webhook.URL = fn(webhook.URL)
		webhook.Payload = fn(webhook.Payload)
		webhook.Headers = resolveStringMap(webhook.Headers, fn)
		clone.Webhook = &webhook
	}

	return &clone
}

//nolint:ireturn
func (c *ConditionConfig) Resolve(fn func(string) string) NodeConfig {
	return &ConditionConfig{Expression: fn(c.Expression)}
}

// Resolve leaves the mapping untouched: the transform executor evaluates it so
// that single-token values keep their type.
//
//nolint:ireturn
func (c *TransformConfig) Resolve(_ func(string) string) NodeConfig {
	return &TransformConfig{Mapping: maps.Clone(c.Mapping)}
}

//nolint:ireturn
func (c *DelayConfig) Resolve(_ func(string) string) NodeConfig {
	clone := *c

	return &clone
}

//nolint:ireturn
func (c *HumanApprovalConfig) Resolve(fn func(string) string) NodeConfig {
	clone := *c
	clone.Prompt = fn(c.Prompt)
	clone.Approvers = resolveStrings(c.Approvers, fn)

	return &clone
}

//nolint:ireturn
func (c *LLMAgentConfig) Resolve(fn func(string) string) NodeConfig {
	clone := *c
	clone.Prompt = fn(c.Prompt)
	clone.SystemPrompt = fn(c.SystemPrompt)

	return &clone
}

// Resolve leaves the output mapping to the end executor, like TransformConfig.
//
//nolint:ireturn
func (c *EndConfig) Resolve(_ func(string) string) NodeConfig {
	return &EndConfig{Output: maps.Clone(c.Output)}
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}

	return *value
}

func resolveStrings(values []string, fn func(string) string) []string {
	if values == nil {
		return nil
	}

	resolved := make([]string, len(values))
	for i, value := range values {
		resolved[i] = fn(value)
	}

	return resolved
}

func resolveStringMap(values map[string]string, fn func(string) string) map[string]string {
	if values == nil {
		return nil
	}

	resolved := maps.Clone(values)
	for key, value := range resolved {
		resolved[key] = fn(value)
	}

	return resolved
}
