package main

import (
	"context"
	"os"

	"github.com/dukex/devicegroups/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "devicegroups",
		Usage:                 "Keep a device's group membership in sync with the backend",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewRespondCommand(),
			NewValidateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.WithModule("devicegroups").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
