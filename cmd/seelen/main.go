// Command seelen runs the Seelenmaschine conversational agent: a Telegram
// front-end over the three-tier memory engine, with the persistent scheduler
// for proactive turns.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fluviusmagnus/Seelenmaschine/internal/app"
	"github.com/fluviusmagnus/Seelenmaschine/internal/config"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "seelen",
		Short: "Stateful conversational agent with three-tier memory",
		Long: "Seelenmaschine fronts a chat model over Telegram and keeps a single\n" +
			"user's dialogue coherent across time: a live turn window, semantic\n" +
			"retrieval over past sessions, and an LLM-curated persona document.",
	}
	rootCmd.AddCommand(buildServeCmd(), buildTasksCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the agent: Telegram transport, scheduler, and memory engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}
}

func buildTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List persisted scheduled tasks and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.Store.ListTasks(ctx)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("no scheduled tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Printf("%s\t%s\t%s\t%s\tnext=%d\n", t.ID, t.Name, t.TriggerType, t.Status, t.NextRunAt)
			}
			return nil
		},
	}
}
