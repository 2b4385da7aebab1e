package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/sidekick/clients/api"
	"github.com/dohr-michael/sidekick/clients/runner"
	"github.com/dohr-michael/sidekick/internal/config"
	"github.com/dohr-michael/sidekick/internal/tools"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send a message to the agent and run its tool calls locally",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway base URL",
				Value: "http://127.0.0.1:18520",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "User id sent with each request",
			},
			&cli.IntFlag{
				Name:    "task",
				Aliases: []string{"t"},
				Usage:   "Task id to resume (0 = new task)",
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "Overall timeout in seconds",
				Value: 300,
			},
		},
		Action: runAsk,
	}
}

func runAsk(_ context.Context, cmd *cli.Command) error {
	message := cmd.Args().First()
	if message == "" {
		return fmt.Errorf("usage: sidekick ask <message>")
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}

	timeoutSecs := cmd.Int("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	// Local tool runtime: builtins, the server-approved set, and any
	// configured MCP servers, all behind one serialized dispatcher.
	registry := tools.NewRegistry(tools.DefaultBuiltins(int(cfg.Tools.CommandTimeout.Duration().Seconds()))...)
	if approved, err := tools.LoadApprovedFile(cfg.Tools.ApprovedFile); err != nil {
		slog.Warn("load approved tools", "path", cfg.Tools.ApprovedFile, "error", err)
	} else if len(approved) > 0 {
		registry.SetApproved(approved)
	}
	if len(cfg.Tools.MCPServers) > 0 {
		external := tools.NewMCPRegistry(ctx, cfg.Tools.MCPServers)
		defer external.Close()
		registry.SetExternal(external)
	}

	userID := cmd.String("user")
	client := api.New(cmd.String("gateway"), userID)
	dispatcher := tools.NewDispatcher(registry, nil, userID)
	defer dispatcher.Close()

	run := runner.New(client, dispatcher, os.Stdout)
	result, err := run.Run(ctx, int64(cmd.Int("task")), message, runner.BuildEnvironment())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "task: %d (%s)\n", result.TaskID, result.UID)
	return nil
}
