package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	wsclient "github.com/dohr-michael/sidekick/clients/ws"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and manage tasks on the gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway",
				Usage: "Gateway WebSocket URL",
				Value: "ws://127.0.0.1:18520/api/ws",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "User id sent with each request",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.IntFlag{Name: "limit", Value: 20},
					&cli.StringFlag{Name: "cwd", Usage: "Only tasks created in this directory"},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details and conversation",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "delete",
				Usage:     "Delete a task",
				ArgsUsage: "<task_id>",
				Action:    runTasksDelete,
			},
		},
		DefaultCommand: "list",
	}
}

func dialGateway(ctx context.Context, cmd *cli.Command) (*wsclient.Client, error) {
	client, err := wsclient.Dial(ctx, cmd.String("gateway"), cmd.String("user"))
	if err != nil {
		return nil, fmt.Errorf("connect to gateway: %w", err)
	}
	return client, nil
}

func parseTaskID(cmd *cli.Command, usage string) (int64, error) {
	arg := cmd.Args().First()
	if arg == "" {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	client, err := dialGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	page, err := client.ListTasks(cmd.Int("page"), cmd.Int("limit"), cmd.String("cwd"))
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(page.Tasks) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tUPDATED\tTITLE")
	for _, t := range page.Tasks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			t.TaskID,
			t.Status,
			t.UpdatedAt.Format("2006-01-02 15:04:05"),
			t.Title(),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if page.TotalPages > 1 {
		fmt.Printf("\npage %d/%d (%d tasks)\n", page.Current, page.TotalPages, page.TotalCount)
	}
	return nil
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	taskID, err := parseTaskID(cmd, "sidekick tasks show <task_id>")
	if err != nil {
		return err
	}

	client, err := dialGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	t, err := client.GetTask(taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:       %d\n", t.TaskID)
	fmt.Printf("UID:      %s\n", t.UID)
	fmt.Printf("Status:   %s\n", t.Status)
	fmt.Printf("Created:  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:  %s\n", t.UpdatedAt.Format("2006-01-02 15:04:05"))
	if t.TotalTokens != nil {
		fmt.Printf("Tokens:   %d\n", *t.TotalTokens)
	}
	if t.Environment != nil {
		fmt.Printf("CWD:      %s\n", t.Environment.Info.CWD)
	}
	if t.Error != nil {
		fmt.Printf("\nError: [%s] %s\n", t.Error.Kind, t.Error.Message)
	}

	if len(t.Conversation) > 0 {
		fmt.Println("\nConversation:")
		for _, msg := range t.Conversation {
			fmt.Printf("  [%s]\n", msg.Role)
			for _, part := range msg.Parts {
				switch {
				case part.Type == "text" && strings.TrimSpace(part.Text) != "":
					fmt.Printf("    %s\n", strings.ReplaceAll(strings.TrimSpace(part.Text), "\n", "\n    "))
				case part.ToolInvocation != nil:
					inv := part.ToolInvocation
					line := fmt.Sprintf("    tool %s (%s)", inv.ToolName, inv.State)
					if inv.Error != "" {
						line += ": " + inv.Error
					}
					fmt.Println(line)
				}
			}
		}
	}
	return nil
}

func runTasksDelete(ctx context.Context, cmd *cli.Command) error {
	taskID, err := parseTaskID(cmd, "sidekick tasks delete <task_id>")
	if err != nil {
		return err
	}

	client, err := dialGateway(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.DeleteTask(taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	fmt.Printf("Task %d deleted.\n", taskID)
	return nil
}
