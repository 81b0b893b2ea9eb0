package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/crateline/cmd"
	"github.com/crateline/internal/logging"
)

const (
	version = "0.1.0"
)

func main() {
	logging.Setup()

	app := &cli.App{
		Name:    "crateline",
		Usage:   "Conversation synchronization service for the Crateline logistics platform",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			cmd.APICommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
