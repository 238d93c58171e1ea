package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/critic/internal/models"
	"github.com/joescharf/critic/internal/output"
	"github.com/joescharf/critic/internal/service"
)

var (
	analyzePR    int
	analyzeType  string
	analyzeToken string
	analyzeJSON  bool
	analyzeAsync bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <owner/repo>",
	Short: "Analyze a repository or pull request",
	Long: `Submit a repository or pull request for analysis and wait for the report.

With --async the command returns immediately after submission; use
'critic status' and 'critic result' to follow the task.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return analyzeRun(cmd.Context(), args[0])
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzePR, "pr", 0, "Pull request number (omit to analyze the whole repository)")
	analyzeCmd.Flags().StringVarP(&analyzeType, "type", "t", "full", "Analysis type: full, security, performance, quality")
	analyzeCmd.Flags().StringVar(&analyzeToken, "token", "", "GitHub token (default from config github.token)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the report as JSON")
	analyzeCmd.Flags().BoolVar(&analyzeAsync, "async", false, "Submit and return without waiting")
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeRun(ctx context.Context, repo string) error {
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

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eng.Start(runCtx)
	defer eng.Stop()

	token := analyzeToken
	if token == "" {
		token = viper.GetString("github.token")
	}

	t, err := svc.Submit(ctx, service.SubmitRequest{
		Repo:         repo,
		ChangeSet:    analyzePR,
		AnalysisType: analyzeType,
		AuthToken:    token,
	})
	if err != nil {
		return err
	}
	ui.Info("task %s submitted (%s)", output.Cyan(t.ID), t.AnalysisType)

	if analyzeAsync {
		return nil
	}
	return waitAndRender(ctx, svc, t.ID)
}

// waitAndRender polls the task until it terminates and prints the outcome.
func waitAndRender(ctx context.Context, svc *service.Service, id string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastMsg := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		t, err := svc.Status(ctx, id)
		if err != nil {
			return err
		}
		if t.Message != lastMsg {
			ui.VerboseLog("%3d%% %s", t.Progress, t.Message)
			lastMsg = t.Message
		}
		if !t.State.Terminal() {
			continue
		}

		for _, d := range t.Diagnostics {
			ui.Warning("%s", d)
		}
		if t.State == models.TaskStateFailed {
			return fmt.Errorf("analysis failed: %s", t.Error.Error())
		}

		rep, err := svc.Result(ctx, id)
		if err != nil {
			return err
		}
		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		ui.RenderReport(rep)
		return nil
	}
}
