package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
)

const simulatedPreviewLength = 120

// Simulated answers without calling a model. It is only selected explicitly
// and every response carries Simulated=true.
type Simulated struct{}

func (Simulated) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preview := strings.Join(strings.Fields(req.Prompt), " ")
	if runes := []rune(preview); len(runes) > simulatedPreviewLength {
		preview = string(runes[:simulatedPreviewLength]) + "..."
	}

	content := fmt.Sprintf("[simulated %s response] %s", req.Model, preview)

	return &Response{
		Content:      content,
		Model:        req.Model,
		InputTokens:  approximateTokens(req.SystemPrompt + req.Prompt),
		OutputTokens: approximateTokens(content),
		Simulated:    true,
	}, nil
}

func approximateTokens(text string) int {
	return int(math.Ceil(float64(len([]rune(text))) / 4))
}
