package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

// executeWebhook POSTs a JSON document. The payload is sent as is when it is
// valid JSON, wrapped as {"payload": ...} otherwise, and the node inputs are
// sent when it is empty.
func (e *Executor) executeWebhook(
	ctx context.Context,
	config *models.WebhookActionConfig,
	inputs map[string]any,
) (*protocol.Output, error) {
	if config == nil {
		return nil, protocol.Permanent(errors.New("webhook action requires a webhook block"))
	}

	body, err := webhookBody(config.Payload, inputs)
	if err != nil {
		return nil, protocol.Permanent(err)
	}

	headers := map[string]string{"Content-Type": "application/json"}
	for key, value := range config.Headers {
		headers[key] = value
	}

	result, err := e.performRequest(ctx, http.MethodPost, config.URL, body, headers)
	if err != nil {
		return nil, err
	}

	return protocol.NewOutput(result), nil
}

func webhookBody(payload string, inputs map[string]any) (string, error) {
	if payload == "" {
		if inputs == nil {
			inputs = map[string]any{}
		}

		data, err := json.Marshal(inputs)
		if err != nil {
			return "", fmt.Errorf("failed to encode webhook inputs: %w", err)
		}

		return string(data), nil
	}

	if json.Valid([]byte(payload)) {
		return payload, nil
	}

	data, err := json.Marshal(map[string]string{"payload": payload})
	if err != nil {
		return "", fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	return string(data), nil
}
