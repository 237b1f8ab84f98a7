package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/conduit/pkg/budget"
	"github.com/dukex/conduit/pkg/cmd"
	"github.com/dukex/conduit/pkg/engine"
	"github.com/dukex/conduit/pkg/eventbus"
	"github.com/dukex/conduit/pkg/log"
	"github.com/dukex/conduit/pkg/metrics"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/otelhelper"
	"github.com/dukex/conduit/pkg/persistence"
	"github.com/dukex/conduit/pkg/pipelinecontext"
	"github.com/dukex/conduit/pkg/registry"
	cli "github.com/urfave/cli/v3"
)

// runtime holds everything an engine needs, built from command flags.
type runtime struct {
	logger       *slog.Logger
	persistence  persistence.Persistence
	registry     *registry.Registry
	contextStore *pipelinecontext.Store
	guard        *budget.Guard
	eventBus     eventbus.EventBus
	metrics      *metrics.Metrics
	engine       *engine.Engine

	closers []func(ctx context.Context) error
}

func newRuntime(ctx context.Context, command *cli.Command, module string) (*runtime, error) {
	log.SetupWithFormat(command.String("log-level"), command.String("log-format"))

	rt := &runtime{logger: log.WithModule(module)}

	if err := rt.build(ctx, command); err != nil {
		rt.close(ctx)

		return nil, err
	}

	return rt, nil
}

func (rt *runtime) build(ctx context.Context, command *cli.Command) error {
	store, err := cmd.NewPersistence(ctx, rt.logger, command.String("database-url"))
	if err != nil {
		return err
	}

	rt.persistence = store
	rt.closers = append(rt.closers, store.Close)

	budgetRepo, closeBudget, err := cmd.NewBudgetRepository(ctx, rt.logger, command.String("budget-store-url"), store)
	if err != nil {
		return err
	}

	rt.closers = append(rt.closers, func(context.Context) error { return closeBudget() })

	rt.guard = budget.NewGuard(budgetRepo, budget.Config{
		DefaultLimits: models.BudgetLimits{
			DailyLimitUSD:         command.Float("daily-limit-usd"),
			MonthlyLimitUSD:       command.Float("monthly-limit-usd"),
			AlertThresholdPercent: command.Float("alert-threshold-percent"),
		},
	}, rt.logger)

	bus, err := cmd.NewEventBus(command.String("event-bus"), rt.logger, command.String("kafka-brokers"))
	if err != nil {
		return err
	}

	rt.eventBus = bus
	rt.closers = append(rt.closers, func(context.Context) error { return bus.Close() })

	tracer := otelhelper.NoopTracer()

	if command.Bool("tracing") {
		var shutdown otelhelper.ShutdownFunc

		tracer, shutdown, err = otelhelper.NewTracer(ctx, "conduit")
		if err != nil {
			return err
		}

		rt.closers = append(rt.closers, shutdown)
	}

	provider := cmd.NewLLMProvider(ctx, rt.logger, cmd.LLMOptions{
		Simulation: command.Bool("llm-simulation"),
		APIKey:     command.String("openai-api-key"),
		BaseURL:    command.String("openai-base-url"),
	})

	rt.registry = cmd.NewRegistry(rt.logger, store, provider, cmd.SMTPOptions{
		Addr:     command.String("smtp-addr"),
		From:     command.String("smtp-from"),
		Username: command.String("smtp-username"),
		Password: command.String("smtp-password"),
	})

	rt.contextStore = pipelinecontext.NewStore(store.ContextRepository(), rt.logger)
	rt.metrics = metrics.New()

	rt.engine, err = engine.New(engine.Dependencies{
		Persistence: store,
		Registry:    rt.registry,
		Context:     rt.contextStore,
		Budget:      rt.guard,
		EventBus:    bus,
		Metrics:     rt.metrics,
		Tracer:      tracer,
		Logger:      rt.logger,
	}, engine.Config{
		MaxParallel: command.Int("max-parallel"),
		NodeTimeout: command.Duration("node-timeout"),
	})
	if err != nil {
		return err
	}

	rt.closers = append(rt.closers, func(context.Context) error {
		rt.engine.Close()

		return nil
	})

	return nil
}

// close releases resources in reverse order of creation.
func (rt *runtime) close(ctx context.Context) {
	var errs []error

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		rt.logger.ErrorContext(ctx, "Failed to release resources", "error", err)
	}
}
