// Package main provides the conduit command line: the API server, one-shot
// graph runs and graph validation.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "conduit",
		Usage:                 "Execute pipeline graphs with budgets, approvals and shared context",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			ServeCommand(),
			RunCommand(),
			ValidateCommand(),
			EventsCommand(),
		},
	}
}

func main() {
	err := newApp().Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
