package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/dukex/devicegroups/pkg/backend"
	"github.com/dukex/devicegroups/pkg/cmd"
	"github.com/dukex/devicegroups/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func NewRespondCommand() *cli.Command {
	return &cli.Command{
		Name:  "respond",
		Usage: "Answer group requests for the devices listed in the config file",
		Flags: configFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			log.Setup(cfg.LogLevel)
			logger := log.WithModule("devicegroups-respond")

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			clientID := "backend-" + uuid.New().String()[:8]

			bus, err := cmd.NewBus(ctx, cfg.Transport.Provider, busSettings(cfg, clientID), logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := bus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			responder := backend.NewResponder(bus, directoryFrom(cfg), cfg.EventName, logger)
			if err := responder.Start(ctx); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Backend simulator ready", "devices", len(cfg.Devices))

			<-ctx.Done()
			logger.Info("Shutting down")

			return nil
		},
	}
}
