package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/devicegroups/pkg/backend"
	"github.com/dukex/devicegroups/pkg/cmd"
	"github.com/dukex/devicegroups/pkg/config"
	"github.com/dukex/devicegroups/pkg/driver"
	"github.com/dukex/devicegroups/pkg/groups"
	"github.com/dukex/devicegroups/pkg/log"
	"github.com/dukex/devicegroups/pkg/models"
	"github.com/dukex/devicegroups/pkg/otelhelper"
	"github.com/dukex/devicegroups/pkg/payload"
	"github.com/dukex/devicegroups/pkg/web"
	cli "github.com/urfave/cli/v3"
)

const shutdownTimeout = 5 * time.Second

func NewRunCommand() *cli.Command {
	flags := append(configFlags(),
		&cli.StringFlag{
			Name:    "mode",
			Usage:   "Retrieval mode (manual, at_start, periodic)",
			Value:   config.Default().Retrieval.Mode,
			Sources: cli.EnvVars("RETRIEVAL_MODE"),
		},
		&cli.DurationFlag{
			Name:    "interval",
			Usage:   "Time between retrievals in periodic mode",
			Sources: cli.EnvVars("RETRIEVAL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "response-timeout",
			Usage:   "How long to wait for a response",
			Value:   groups.DefaultResponseTimeout,
			Sources: cli.EnvVars("RESPONSE_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "retry-timeout",
			Usage:   "How long to wait before retrying after a timeout",
			Value:   groups.DefaultRetryTimeout,
			Sources: cli.EnvVars("RETRY_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "tick",
			Usage:   "How often the retrieval state machine runs (minimum 1s)",
			Value:   config.DefaultTick,
			Sources: cli.EnvVars("TICK"),
		},
		&cli.IntFlag{
			Name:    "http-port",
			Aliases: []string{"p"},
			Usage:   "Port of the command and query API",
			Value:   config.DefaultHTTPPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:  "no-http",
			Usage: "Do not start the HTTP API",
		},
		&cli.BoolFlag{
			Name:  "simulate-backend",
			Usage: "Answer group requests in-process using the devices of the config file",
		},
	)

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run a device that keeps its group list up to date",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			if err != nil {
				return err
			}

			cfg = cfg.WithDeviceID()

			log.Setup(cfg.LogLevel)
			logger := log.WithModule("devicegroups").With("device_id", cfg.DeviceID)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Tracing {
				tracerProvider, err := otelhelper.InitTracer(ctx, "devicegroups")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
					defer cancel()

					if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
						logger.Error("Failed to shutdown tracer provider", "error", err)
					}
				}()
			}

			logger.InfoContext(ctx, "Initializing device", "transport", cfg.Transport.Provider, "mode", cfg.Retrieval.Mode)

			bus, err := cmd.NewBus(ctx, cfg.Transport.Provider, busSettings(cfg, cfg.DeviceID), logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := bus.Close(); err != nil {
					logger.Error("Failed to close event bus", "error", err)
				}
			}()

			if command.Bool("simulate-backend") {
				responder := backend.NewResponder(bus, directoryFrom(cfg), cfg.EventName, logger)
				if err := responder.Start(ctx); err != nil {
					return err
				}
			}

			helper, err := groups.NewHelper(groups.Options{
				DeviceID:  cfg.DeviceID,
				EventName: cfg.EventName,
				Config:    cfg.SchedulerConfig(),
			}, bus, payload.Parse, driver.NewMonotonicClock(), logger)
			if err != nil {
				return err
			}

			helper.SetNotificationSink(groups.SinkFunc(func(event models.NotificationEvent) {
				switch event.Type {
				case models.NotificationAdded:
					logger.Info("Added to group", "group", event.Group)
				case models.NotificationRemoved:
					logger.Info("Removed from group", "group", event.Group)
				case models.NotificationUpdated:
					logger.Info("Group list updated", "groups", helper.Groups())
				}
			}))

			if err := helper.Setup(ctx); err != nil {
				return err
			}

			runner := driver.NewRunner(helper, cfg.Tick, logger)
			if err := runner.Start(ctx); err != nil {
				return err
			}
			defer runner.Stop()

			if !cfg.HTTP.Enabled {
				<-ctx.Done()
				logger.Info("Shutting down")

				return nil
			}

			app := web.NewApp(helper)
			errCh := make(chan error, 1)

			go func() {
				errCh <- web.Listen(app, cfg.HTTP.Port)
			}()

			logger.InfoContext(ctx, "Serving HTTP API", "port", cfg.HTTP.Port)

			select {
			case <-ctx.Done():
				logger.Info("Shutting down")

				if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
					logger.Error("Failed to shutdown HTTP API", "error", err)
				}

				return nil
			case err := <-errCh:
				if err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("HTTP API stopped: %w", err)
				}

				return nil
			}
		},
	}
}

func directoryFrom(cfg config.Config) *backend.Directory {
	directory := backend.NewDirectory()

	for _, device := range cfg.Devices {
		directory.Put(device.DeviceID, backend.Record{
			Groups:      device.Groups,
			Name:        device.Name,
			ProductID:   device.ProductID,
			Notes:       device.Notes,
			Development: device.Development,
		})
	}

	return directory
}
