package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/joescharf/critic/internal/mcp"
	"github.com/joescharf/critic/internal/service"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for coding agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets a coding agent submit reviews and poll results natively.
Configure with:

  {
    "mcpServers": {
      "critic": { "command": "critic", "args": ["mcp"] }
    }
  }

Available tools: critic_analyze, critic_status, critic_result,
critic_list_tasks, critic_cancel`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStore()
		if err != nil {
			return err
		}

		logger := newLogger()
		eng, err := buildEngine(st, logger)
		if err != nil {
			return err
		}
		svc := service.New(st, eng, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng.Start(ctx)
		defer eng.Stop()
		if err := eng.Recover(ctx); err != nil {
			logger.Warn("recovery failed", "error", err)
		}

		return mcpserver.NewServer(svc).ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
