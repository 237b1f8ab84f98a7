package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/conduit/pkg/web"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

func ServeCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	}

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the execution API",
		Flags:   append(flags, runtimeFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx, command, "api")
			if err != nil {
				return err
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), command.Duration("shutdown-timeout"))
				defer cancel()

				rt.close(shutdownCtx)
			}()

			rt.logger.InfoContext(ctx, "Initializing conduit API")

			recovered, err := rt.engine.Recover(ctx)
			if err != nil {
				return fmt.Errorf("failed to recover interrupted executions: %w", err)
			}

			if recovered > 0 {
				rt.logger.WarnContext(ctx, "Finalized executions interrupted by a previous process", "count", recovered)
			}

			handlers := web.NewAPIHandlers(
				rt.engine,
				rt.contextStore,
				rt.guard,
				rt.persistence,
				rt.registry,
				validator.New(validator.WithRequiredStructEnabled()),
				rt.logger,
			)

			app := web.NewApp(handlers, rt.metrics)

			go func() {
				<-ctx.Done()

				if err := app.Shutdown(); err != nil {
					rt.logger.Error("Failed to stop API server", "error", err)
				}
			}()

			return app.Listen(":" + strconv.Itoa(command.Int("port")))
		},
	}
}
