package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidGraphDocument is returned when graph JSON does not match GraphSchema.
var ErrInvalidGraphDocument = errors.New("invalid graph document")

// GraphSchema is the JSON schema of the graph document accepted by the engine.
var GraphSchema = map[string]any{
	"type":     "object",
	"required": []any{"nodes"},
	"properties": map[string]any{
		"nodes": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "kind"},
				"properties": map[string]any{
					"id":                map[string]any{"type": "string", "minLength": 1},
					"kind":              map[string]any{"type": "string", "enum": nodeKindEnum()},
					"label":             map[string]any{"type": "string"},
					"config":            map[string]any{"type": []any{"object", "null"}},
					"continue_on_error": map[string]any{"type": "boolean"},
					"timeout_ms":        map[string]any{"type": "integer", "minimum": 0},
					"cost_tier":         map[string]any{"type": "integer", "minimum": 0},
					"retry": map[string]any{
						"type":     "object",
						"required": []any{"max_attempts"},
						"properties": map[string]any{
							"max_attempts": map[string]any{"type": "integer", "minimum": 1},
							"delay_ms":     map[string]any{"type": "integer", "minimum": 0},
							"backoff":      map[string]any{"type": "string", "enum": []any{"fixed", "exponential"}},
							"max_delay_ms": map[string]any{"type": "integer", "minimum": 0},
						},
					},
				},
			},
		},
		"edges": map[string]any{
			"type": []any{"array", "null"},
			"items": map[string]any{
				"type":     "object",
				"required": []any{"from", "to"},
				"properties": map[string]any{
					"from":      map[string]any{"type": "string", "minLength": 1},
					"to":        map[string]any{"type": "string", "minLength": 1},
					"condition": map[string]any{"type": "string"},
					"optional":  map[string]any{"type": "boolean"},
					"when":      map[string]any{"type": "string", "enum": []any{"", "success", "error"}},
				},
			},
		},
	},
}

func nodeKindEnum() []any {
	kinds := make([]any, len(NodeKinds))
	for i, kind := range NodeKinds {
		kinds[i] = string(kind)
	}

	return kinds
}

// ValidateGraphDocument checks raw graph JSON against GraphSchema.
func ValidateGraphDocument(data []byte) error {
	schemaLoader := gojsonschema.NewGoLoader(GraphSchema)
	dataLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGraphDocument, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidGraphDocument, strings.Join(messages, "; "))
	}

	return nil
}

// ParseGraph validates data against the schema and decodes it.
func ParseGraph(data []byte) (*WorkflowGraph, error) {
	if err := ValidateGraphDocument(data); err != nil {
		return nil, err
	}

	var graph WorkflowGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraphDocument, err)
	}

	return &graph, nil
}
