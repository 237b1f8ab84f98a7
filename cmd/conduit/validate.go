package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/conduit/pkg/config"
	"github.com/dukex/conduit/pkg/engine"
	"github.com/dukex/conduit/pkg/llm"
	"github.com/dukex/conduit/pkg/log"
	"github.com/dukex/conduit/pkg/persistence/file"
	"github.com/dukex/conduit/pkg/registry"
	cli "github.com/urfave/cli/v3"
)

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check graph files without running them",
		ArgsUsage: "<graph.(json|yaml)>...",
		Flags:     logFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.SetupWithFormat(command.String("log-level"), command.String("log-format"))

			if command.Args().Len() == 0 {
				return errGraphFileRequired
			}

			e, err := newValidationEngine(log.WithModule("validate"))
			if err != nil {
				return err
			}
			defer e.Close()

			failed := 0

			for _, path := range command.Args().Slice() {
				if err := validateFile(e, path); err != nil {
					failed++

					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)

					continue
				}

				fmt.Fprintf(os.Stdout, "%s: ok\n", path)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d graph files are invalid", failed, command.Args().Len())
			}

			return nil
		},
	}
}

// newValidationEngine builds an engine that is never started; it only
// compiles plans.
func newValidationEngine(logger *slog.Logger) (*engine.Engine, error) {
	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes(registry.Dependencies{LLMProvider: llm.Unavailable{}})

	return engine.New(engine.Dependencies{
		Persistence: file.NewPersistence(os.TempDir()),
		Registry:    reg,
		Logger:      logger,
	}, engine.Config{})
}

func validateFile(e *engine.Engine, path string) error {
	graph, err := config.LoadGraphFile(path)
	if err != nil {
		return err
	}

	return e.Validate(graph)
}
