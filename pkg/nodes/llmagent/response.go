package llmagent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukex/conduit/pkg/llm"
	"github.com/dukex/conduit/pkg/models"
)

const summaryPreviewLength = 80

// parseJSON returns the response as an object when it is one, also inside a
// fenced code block. Anything else yields nil.
func parseJSON(content string) map[string]any {
	text := strings.TrimSpace(content)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	if !strings.HasPrefix(text, "{") {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil
	}

	return parsed
}

// significant excludes null, empty strings and empty collections.
func significant(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(typed) != ""
	case []any:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	default:
		return true
	}
}

// summarize builds the one-line summary attached to the stored entry.
func summarize(node *models.Node, response *llm.Response, parsed map[string]any) string {
	tokens := response.InputTokens + response.OutputTokens

	if parsed != nil {
		return fmt.Sprintf("%s produced %d keys (%d tokens)", node.DisplayName(), len(parsed), tokens)
	}

	preview := strings.Join(strings.Fields(response.Content), " ")
	if runes := []rune(preview); len(runes) > summaryPreviewLength {
		preview = string(runes[:summaryPreviewLength]) + "..."
	}

	return fmt.Sprintf("%s: %s (%d tokens)", node.DisplayName(), preview, tokens)
}
