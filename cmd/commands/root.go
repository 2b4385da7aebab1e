package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/sidekick/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "sidekick",
		Usage: "Resumable agent task server and client runtime",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewAskCommand(),
			NewTasksCommand(),
			NewStatusCommand(),
		},
	}
}
