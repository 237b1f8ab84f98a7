package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dukex/conduit/pkg/cmd"
	"github.com/dukex/conduit/pkg/events"
	"github.com/dukex/conduit/pkg/log"
	cli "github.com/urfave/cli/v3"
)

var lifecycleEvents = []events.EventType{
	events.ExecutionStartedEvent,
	events.ExecutionCompletedEvent,
	events.ExecutionFailedEvent,
	events.ExecutionCancelledEvent,
	events.NodeCompletedEvent,
	events.NodeFailedEvent,
	events.NodeRetriedEvent,
}

func EventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Follow execution lifecycle events from the event bus",
		Flags: append(eventBusFlags(), logFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.SetupWithFormat(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("events")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.String("kafka-brokers"))
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			for _, eventType := range lifecycleEvents {
				err := bus.Handle(eventType, func(ctx context.Context, event any) error {
					logger.InfoContext(ctx, "Lifecycle event", "type", eventType, "event", event)

					return nil
				})
				if err != nil {
					return err
				}
			}

			if err := bus.Subscribe(ctx); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Listening for lifecycle events", "bus", command.String("event-bus"))

			<-ctx.Done()

			return nil
		},
	}
}
