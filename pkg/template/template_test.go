package template_test

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/dukex/conduit/pkg/template"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func newScope() *template.Scope {
	return &template.Scope{
		Input: map[string]any{
			"name":  "Ada",
			"score": 42.0,
		},
		TriggerPayload: map[string]any{
			"customer": map[string]any{"email": "ada@example.com"},
		},
		NodeOutputs: map[string]map[string]any{
			"nodeA": {"result": map[string]any{"total": 42.0}},
			"fetch": {"items": []any{"first", "second"}},
		},
		Variables: map[string]any{
			"region": "eu",
			"limits": map[string]any{"max": 10.0},
		},
	}
}

func TestInterpolateNodeOutputPath(t *testing.T) {
	t.Parallel()

	result, unresolved := template.Interpolate("Total: {{nodeA.result.total}}", newScope())

	assert.Equal(t, "Total: 42", result)
	assert.Empty(t, unresolved)
}

func TestInterpolatePrecedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"input as json", "{{input}}", `{"name":"Ada","score":42}`},
		{"trigger payload", "{{trigger.payload.customer.email}}", "ada@example.com"},
		{"node output slice index", "{{ fetch.items.1 }}", "second"},
		{"variables", "{{region}}-{{limits.max}}", "eu-10"},
		{"node output object", "{{nodeA.result}}", `{"total":42}`},
		{"legacy lead data", "Lead:\n{leadData}", "Lead:\nname: Ada\nscore: 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, unresolved := template.Interpolate(tt.text, newScope())
			assert.Equal(t, tt.expected, result)
			assert.Empty(t, unresolved)
		})
	}
}

func TestInterpolateNodeOutputWinsOverVariables(t *testing.T) {
	t.Parallel()

	scope := newScope()
	scope.Variables["nodeA"] = map[string]any{"result": map[string]any{"total": "from variables"}}

	result, _ := template.Interpolate("{{nodeA.result.total}}", scope)
	assert.Equal(t, "42", result)

	result, _ = template.Interpolate("{{nodeA.missing}}", scope)
	assert.Equal(t, "{{nodeA.missing}}", result)
}

func TestInterpolateLeavesUnresolvedTokens(t *testing.T) {
	t.Parallel()

	text := "Hello {{unknown.path}} and {{trigger.payload.nope}} {{}}"
	result, unresolved := template.Interpolate(text, newScope())

	assert.Equal(t, text, result)
	assert.Equal(t, []string{"{{unknown.path}}", "{{trigger.payload.nope}}", "{{}}"}, unresolved)
}

func TestResolverLogsUnresolved(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	resolve := newScope().Resolver(logger)
	assert.Equal(t, "eu {{ghost}}", resolve("eu {{ghost}}"))
	assert.Contains(t, buf.String(), "ghost")
}

func TestScopeValueKeepsType(t *testing.T) {
	t.Parallel()

	value, unresolved := newScope().Value("{{nodeA.result.total}}")
	assert.Equal(t, 42.0, value)
	assert.Empty(t, unresolved)

	value, _ = newScope().Value("total={{nodeA.result.total}}")
	assert.Equal(t, "total=42", value)

	value, unresolved = newScope().Value("{{missing}}")
	assert.Equal(t, "{{missing}}", value)
	assert.Len(t, unresolved, 1)
}

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "42", template.Format(42.0))
	assert.Equal(t, "4.5", template.Format(4.5))
	assert.Equal(t, "7", template.Format(7))
	assert.Equal(t, "true", template.Format(true))
	assert.Equal(t, "null", template.Format(nil))
	assert.Equal(t, `["a","b"]`, template.Format([]string{"a", "b"}))
}

func TestInterpolateIsIdempotent(t *testing.T) {
	t.Parallel()

	word := rapid.StringMatching(`[a-z]{1,8}`)
	plain := rapid.StringMatching(`[A-Za-z0-9 .,:-]{0,12}`)

	rapid.Check(t, func(t *rapid.T) {
		variables := rapid.MapOfN(word, plain, 1, 5).Draw(t, "variables")
		scope := &template.Scope{
			Input:     map[string]any{"value": plain.Draw(t, "input")},
			Variables: map[string]any{},
			NodeOutputs: map[string]map[string]any{
				"node": {"out": plain.Draw(t, "output")},
			},
		}

		keys := make([]string, 0, len(variables))
		for key, value := range variables {
			scope.Variables[key] = value
			keys = append(keys, key)
		}

		pieces := rapid.SliceOfN(rapid.OneOf(
			plain,
			rapid.Map(rapid.SampledFrom(keys), func(key string) string { return "{{" + key + "}}" }),
			rapid.Just("{{node.out}}"),
			rapid.Just("{{input}}"),
			rapid.Just("{leadData}"),
		), 0, 8).Draw(t, "pieces")

		text := strings.Join(pieces, " ")

		once, unresolved := template.Interpolate(text, scope)
		if len(unresolved) != 0 {
			t.Fatalf("expected every token to resolve, got %v", unresolved)
		}

		twice, _ := template.Interpolate(once, scope)
		if once != twice {
			t.Fatalf("interpolation not idempotent: %q != %q", once, twice)
		}
	})
}
