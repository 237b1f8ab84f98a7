// Package template resolves {{token}} references in node configuration strings.
package template

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const legacyLeadData = "{leadData}"

var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}|\{leadData\}`)

// Scope holds everything a token may refer to.
type Scope struct {
	Input          map[string]any
	TriggerPayload map[string]any
	NodeOutputs    map[string]map[string]any
	Variables      map[string]any
}

// Interpolate replaces every resolvable token in text. Tokens that do not
// resolve are left in place and returned in unresolved.
func Interpolate(text string, scope *Scope) (string, []string) {
	if !strings.Contains(text, "{") {
		return text, nil
	}

	var unresolved []string

	result := tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		value, ok := scope.resolve(token)
		if !ok {
			unresolved = append(unresolved, token)

			return token
		}

		return value
	})

	return result, unresolved
}

// Resolver returns a function suitable for NodeConfig.Resolve that logs a
// warning for every unresolved token.
func (s *Scope) Resolver(logger *slog.Logger) func(string) string {
	return func(text string) string {
		result, unresolved := Interpolate(text, s)
		for _, token := range unresolved {
			logger.Warn("Unresolved template token left in place", "token", token)
		}

		return result
	}
}

// Value returns the raw value when text is exactly one token, so callers can
// keep numbers and objects typed. It falls back to string interpolation.
func (s *Scope) Value(text string) (any, []string) {
	trimmed := strings.TrimSpace(text)

	if match := tokenPattern.FindStringSubmatchIndex(trimmed); match != nil && match[0] == 0 && match[1] == len(trimmed) {
		if value, ok := s.lookupToken(trimmed); ok {
			return value, nil
		}

		return text, []string{trimmed}
	}

	return Interpolate(text, s)
}

func (s *Scope) resolve(token string) (string, bool) {
	if token == legacyLeadData {
		return s.leadData()
	}

	value, ok := s.lookupToken(token)
	if !ok {
		return "", false
	}

	return Format(value), true
}

func (s *Scope) lookupToken(token string) (any, bool) {
	if s == nil {
		return nil, false
	}

	if token == legacyLeadData {
		dump, ok := s.leadData()

		return dump, ok
	}

	path := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(token, "{{"), "}}"))
	if path == "" {
		return nil, false
	}

	if path == "input" && s.Input != nil {
		return s.Input, true
	}

	if rest, found := strings.CutPrefix(path, "trigger.payload"); found && s.TriggerPayload != nil {
		if rest == "" {
			return s.TriggerPayload, true
		}

		if strings.HasPrefix(rest, ".") {
			if value, ok := Lookup(s.TriggerPayload, rest[1:]); ok {
				return value, true
			}
		}
	}

	nodeID, rest, _ := strings.Cut(path, ".")
	if output, exists := s.NodeOutputs[nodeID]; exists && output != nil {
		if rest == "" {
			return output, true
		}

		if value, ok := Lookup(output, rest); ok {
			return value, true
		}
	}

	if value, ok := Lookup(s.Variables, path); ok {
		return value, true
	}

	return nil, false
}

func (s *Scope) leadData() (string, bool) {
	if s.Input == nil {
		return "", false
	}

	keys := make([]string, 0, len(s.Input))
	for key := range s.Input {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+": "+Format(s.Input[key]))
	}

	return strings.Join(lines, "\n"), true
}

// Lookup walks a dotted path through nested maps and slices.
func Lookup(root any, path string) (any, bool) {
	if root == nil || path == "" {
		return nil, false
	}

	current := root

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case map[string]string:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		case []string:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}

// Format renders a value the way it is substituted into text. Whole numbers
// have no decimal part and composite values are JSON encoded.
func Format(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", typed)
	case json.Number:
		return typed.String()
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}

		return string(encoded)
	}
}
