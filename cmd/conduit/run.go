package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/conduit/pkg/config"
	"github.com/dukex/conduit/pkg/engine"
	"github.com/dukex/conduit/pkg/models"
	"github.com/dukex/conduit/pkg/web"
	cli "github.com/urfave/cli/v3"
)

var errGraphFileRequired = errors.New("a graph file is required")

// errExecutionFailed makes the process exit non-zero after the report is printed.
var errExecutionFailed = errors.New("execution finished with errors")

func RunCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "JSON or YAML file with the execution input",
		},
		&cli.StringFlag{
			Name:  "workflow-id",
			Usage: "Workflow identifier recorded on the execution",
		},
		&cli.StringFlag{
			Name:    "user-id",
			Usage:   "User charged for LLM spend",
			Sources: cli.EnvVars("CONDUIT_USER_ID"),
		},
		&cli.BoolFlag{
			Name:  "test",
			Usage: "Mark the execution as a test run",
		},
	}

	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Execute a graph file once and print the result",
		ArgsUsage: "<graph.(json|yaml)>",
		Flags:     append(flags, runtimeFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errGraphFileRequired
			}

			graph, err := config.LoadGraphFile(path)
			if err != nil {
				return err
			}

			input, err := config.LoadInputFile(command.String("input"))
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, command, "run")
			if err != nil {
				return err
			}

			defer rt.close(context.Background())

			id, err := rt.engine.Start(ctx, graph, input, engine.StartOptions{
				WorkflowID: command.String("workflow-id"),
				UserID:     command.String("user-id"),
				IsTest:     command.Bool("test"),
			})
			if err != nil {
				return err
			}

			rt.logger.InfoContext(ctx, "Execution started", "execution_id", id)

			if err := rt.engine.Wait(ctx, id); err != nil {
				return err
			}

			record, states, err := rt.engine.GetStatus(ctx, id)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")

			if err := encoder.Encode(web.ExecutionResponse{Record: record, NodeStates: states}); err != nil {
				return fmt.Errorf("failed to print execution: %w", err)
			}

			if record.Status != models.ExecutionStatusSuccess {
				return errExecutionFailed
			}

			return nil
		},
	}
}
