package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultMaxTokens = 1024

// OpenAI calls the Chat Completions API. A custom base URL supports
// OpenAI-compatible services.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates the adapter. Retries are left to the engine.
func NewOpenAI(apiKey, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrMissingCredentials
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAI{client: openai.NewClient(opts...)}, nil
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               req.Model,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.SystemPrompt))
	}

	params.Messages = append(params.Messages, openai.UserMessage(req.Prompt))

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		providerErr := &ProviderError{Provider: "openai", Err: err}

		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			providerErr.StatusCode = apiErr.StatusCode
		}

		return nil, providerErr
	}

	response := &Response{
		Model:        completion.Model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}

	if len(completion.Choices) > 0 {
		response.Content = completion.Choices[0].Message.Content
	}

	return response, nil
}
