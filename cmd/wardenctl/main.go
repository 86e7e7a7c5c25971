// wardenctl is the command-line client for warden-server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"warden/internal/scheduler"
	"warden/internal/server/app"
)

var (
	serverURL string
	userID    string

	statusColor = map[scheduler.Status]*color.Color{
		scheduler.StatusQueued:    color.New(color.FgYellow),
		scheduler.StatusRunning:   color.New(color.FgCyan),
		scheduler.StatusCompleted: color.New(color.FgGreen),
		scheduler.StatusFailed:    color.New(color.FgRed),
		scheduler.StatusCancelled: color.New(color.FgMagenta),
	}
)

func paintStatus(status scheduler.Status) string {
	if c, ok := statusColor[status]; ok {
		return c.Sprint(string(status))
	}
	return string(status)
}

func main() {
	root := &cobra.Command{
		Use:           "wardenctl",
		Short:         "Control a warden-server instance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "warden-server base URL")
	root.PersistentFlags().StringVar(&userID, "user", defaultUser(), "user id for submissions")

	root.AddCommand(submitCmd(), statusCmd(), cancelCmd(), tasksCmd(), sessionsCmd(), streamCmd())

	if err := root.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}

func submitCmd() *cobra.Command {
	var (
		sessionID string
		timeout   time.Duration
		follow    bool
	)
	cmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Submit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewClient(serverURL)
			req := scheduler.SubmitRequest{
				Prompt:    args[0],
				UserID:    userID,
				SessionID: sessionID,
			}
			if timeout > 0 {
				req.TimeoutMs = timeout.Milliseconds()
			}
			task, err := client.SubmitTask(req)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", task.ID, paintStatus(task.Status))
			if !follow {
				return nil
			}
			return followTask(client, task.ID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-task timeout override")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream events until the task finishes")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := NewClient(serverURL).GetTask(args[0])
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := NewClient(serverURL).CancelTask(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", task.ID, paintStatus(task.Status))
			return nil
		},
	}
}

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := NewClient(serverURL).ListTasks()
			if err != nil {
				return err
			}
			for _, task := range tasks {
				fmt.Printf("%s  %-10s  %s\n", task.ID, paintStatus(task.Status), truncate(task.Prompt, 60))
			}
			return nil
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions for the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := NewClient(serverURL).ListSessions(userID)
			if err != nil {
				return err
			}
			for _, sess := range sessions {
				fmt.Printf("%s  tasks=%d  expires=%s\n",
					sess.ID, sess.TaskCount, sess.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func streamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream <task-id>",
		Short: "Follow the live event stream of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return followTask(NewClient(serverURL), args[0])
		},
	}
}

func followTask(client *Client, taskID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return client.StreamTask(ctx, taskID, func(ev app.StreamEvent) {
		switch ev.Type {
		case app.StreamConnected:
			color.HiBlack("connected, task is %s", ev.Status)
		case app.StreamOutput:
			fmt.Println(ev.Content)
		case app.StreamProgress:
			if ev.ToolName != "" {
				color.HiBlack("[%s] %s", ev.ToolName, ev.Content)
			} else {
				color.HiBlack("%s", ev.Content)
			}
		case app.StreamCompleted:
			fmt.Printf("%s\n", paintStatus(ev.Status))
		case app.StreamError:
			if ev.Status.Terminal() {
				color.Red("failed: %s", ev.Error)
			} else {
				color.Red("agent error: %s", ev.Error)
			}
		}
	})
}

func printTask(task scheduler.Task) {
	fmt.Printf("id:       %s\n", task.ID)
	fmt.Printf("status:   %s\n", paintStatus(task.Status))
	fmt.Printf("session:  %s\n", task.SessionID)
	fmt.Printf("created:  %s\n", task.CreatedAt.Format(time.RFC3339))
	if task.Result != "" {
		fmt.Printf("result:\n%s\n", task.Result)
	}
	if task.Error != "" {
		color.Red("error (%s): %s", task.ErrorKind, task.Error)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
