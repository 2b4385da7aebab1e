package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/sidekick/clients/api"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show Sidekick gateway status",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway base URL",
				Value: "http://127.0.0.1:18520",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			client := api.New(cmd.String("gateway"), "")
			health, err := client.Health(ctx)
			if err != nil {
				fmt.Println("Gateway: NOT RUNNING")
				return nil
			}

			fmt.Println("Gateway: ALIVE")
			if streaming, ok := health["streaming"].(float64); ok {
				fmt.Printf("Streaming tasks: %d\n", int(streaming))
			}
			return nil
		},
	}
}
