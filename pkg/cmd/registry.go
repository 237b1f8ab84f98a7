// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/conduit/pkg/llm"
	"github.com/dukex/conduit/pkg/nodes/action"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/dukex/conduit/pkg/persistence/postgresql"
	"github.com/dukex/conduit/pkg/registry"
)

const httpClientTimeout = 60 * time.Second

// LLMOptions selects the language model provider.
type LLMOptions struct {
	Simulation bool
	APIKey     string
	BaseURL    string
}

// SMTPOptions configures the email action. An empty Addr leaves email
// actions without a sender.
type SMTPOptions struct {
	Addr     string
	From     string
	Username string
	Password string
}

// NewLLMProvider returns the simulated provider when simulation is on, the
// OpenAI adapter when a key is present, and otherwise a provider that fails
// every call with missing credentials.
func NewLLMProvider(ctx context.Context, logger *slog.Logger, opts LLMOptions) llm.Provider {
	if opts.Simulation {
		logger.WarnContext(ctx, "LLM simulation mode enabled, responses are not generated by a model")

		return llm.Simulated{}
	}

	provider, err := llm.NewOpenAI(opts.APIKey, opts.BaseURL)
	if err != nil {
		logger.WarnContext(ctx, "No LLM provider configured, llm_agent nodes will fail", "error", err)

		return llm.Unavailable{}
	}

	return provider
}

// NewRegistry registers every built-in node executor. Database actions share
// the PostgreSQL pool when the main persistence is PostgreSQL.
func NewRegistry(
	logger *slog.Logger,
	store persistence.Persistence,
	provider llm.Provider,
	smtp SMTPOptions,
) *registry.Registry {
	reg := registry.NewRegistry(logger)

	deps := registry.Dependencies{
		HTTPClient:  &http.Client{Timeout: httpClientTimeout},
		LLMProvider: provider,
	}

	if pg, ok := store.(*postgresql.Persistence); ok {
		deps.QueryRunner = action.NewSQLRunner(pg.DB())
	}

	if smtp.Addr != "" {
		deps.EmailSender = action.NewSMTPSender(smtp.Addr, smtp.From, smtp.Username, smtp.Password)
	}

	reg.RegisterDefaultNodes(deps)

	return reg
}
