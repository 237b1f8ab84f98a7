// Package action provides the action node executor and its adapters: HTTP
// requests, webhooks, database queries and email.
package action

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/protocol"
)

const defaultHTTPTimeout = 30 * time.Second

// Executor runs action nodes. Adapters without a configured collaborator
// fail permanently.
type Executor struct {
	client  *http.Client
	queries QueryRunner
	mailer  EmailSender
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the client used by http and webhook actions.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithQueryRunner enables database actions.
func WithQueryRunner(runner QueryRunner) Option {
	return func(e *Executor) { e.queries = runner }
}

// WithEmailSender enables email actions.
func WithEmailSender(sender EmailSender) Option {
	return func(e *Executor) { e.mailer = sender }
}

// NewExecutor creates an action executor.
func NewExecutor(opts ...Option) *Executor {
	executor := &Executor{client: &http.Client{Timeout: defaultHTTPTimeout}}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

func (e *Executor) Execute(
	ctx context.Context,
	node *models.Node,
	execCtx *protocol.ExecutionContext,
	inputs map[string]any,
) (*protocol.Output, error) {
	config, ok := node.Config.(*models.ActionConfig)
	if !ok {
		return nil, protocol.Permanent(fmt.Errorf("action node %s has %T config", node.ID, node.Config))
	}

	logger := execCtx.NodeLogger(node).With("action_type", config.Type)

	var (
		output *protocol.Output
		err    error
	)

	switch config.Type {
	case models.ActionTypeHTTP:
		output, err = e.executeHTTP(ctx, config.HTTP)
	case models.ActionTypeWebhook:
		output, err = e.executeWebhook(ctx, config.Webhook, inputs)
	case models.ActionTypeDatabase:
		output, err = e.executeQuery(ctx, config.Database)
	case models.ActionTypeEmail:
		output, err = e.executeEmail(ctx, config.Email)
	default:
		err = protocol.Permanent(fmt.Errorf("unsupported action type %q", config.Type))
	}

	if err != nil {
		logger.WarnContext(ctx, "Action failed", "error", err, "permanent", protocol.IsPermanent(err))

		return nil, err
	}

	output.Metadata["action_type"] = string(config.Type)

	return output, nil
}
