package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/devicegroups/pkg/config"
	cli "github.com/urfave/cli/v3"
)

var ErrConfigRequired = errors.New("a configuration file is required")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Validate a configuration file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				Sources: cli.EnvVars("DEVICEGROUPS_CONFIG"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.String("config")
			if path == "" {
				return ErrConfigRequired
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(os.Stdout, "Configuration: %s\n", path)

			if err := cfg.Validate(); err != nil {
				_, _ = fmt.Fprintf(os.Stdout, "  ❌ INVALID: %v\n", err)

				return err
			}

			deviceID := cfg.DeviceID
			if deviceID == "" {
				deviceID = "(generated at start)"
			}

			scheduler := cfg.SchedulerConfig()

			_, _ = fmt.Fprintf(os.Stdout, "  Device ID: %s\n", deviceID)
			_, _ = fmt.Fprintf(os.Stdout, "  Event name: %s\n", cfg.EventName)
			_, _ = fmt.Fprintf(os.Stdout, "  Transport: %s\n", cfg.Transport.Provider)
			_, _ = fmt.Fprintf(os.Stdout, "  Mode: %s (interval %s, response timeout %s, retry timeout %s)\n",
				scheduler.Mode, scheduler.Interval, scheduler.ResponseTimeout, scheduler.RetryTimeout)
			_, _ = fmt.Fprintf(os.Stdout, "  Backend devices: %d\n", len(cfg.Devices))
			_, _ = fmt.Fprintln(os.Stdout, "Configuration is valid! ✅")

			return nil
		},
	}
}
