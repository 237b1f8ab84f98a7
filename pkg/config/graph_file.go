// Package config loads graph documents and execution inputs from disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/conduit/pkg/models"
	"gopkg.in/yaml.v3"
)

// LoadGraphFile reads a graph document written in JSON or YAML and validates
// it against the graph schema.
func LoadGraphFile(path string) (*models.WorkflowGraph, error) {
	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	graph, err := models.ParseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("graph file %s: %w", path, err)
	}

	return graph, nil
}

// LoadInputFile reads the execution input object from a JSON or YAML file.
// An empty path yields an empty input.
func LoadInputFile(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}

	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("input file %s must hold an object: %w", path, err)
	}

	if input == nil {
		input = map[string]any{}
	}

	return input, nil
}

// readDocument returns the file content as JSON, converting YAML files first.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		return data, nil
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	converted, err := json.Marshal(normalize(document))
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
	}

	return converted, nil
}

// normalize turns the map[any]any values yaml produces for non-string keys
// into JSON-compatible maps.
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalize(item)
		}

		return v
	case map[any]any:
		converted := make(map[string]any, len(v))
		for key, item := range v {
			converted[fmt.Sprint(key)] = normalize(item)
		}

		return converted
	case []any:
		for i, item := range v {
			v[i] = normalize(item)
		}

		return v
	default:
		return value
	}
}
