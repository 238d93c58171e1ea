package cmd

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/critic/internal/output"
	"github.com/joescharf/critic/internal/service"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the status of an analysis task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStore()
		if err != nil {
			return err
		}
		svc := service.New(st, nil, nil)

		t, err := svc.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(t)
		}

		repo := t.Repo.String()
		if t.Repo.ChangeSet > 0 {
			repo += "#" + strconv.Itoa(t.Repo.ChangeSet)
		}
		ui.Info("task %s", output.Cyan(t.ID))
		ui.Info("repo: %s  type: %s", repo, t.AnalysisType)
		ui.Info("state: %s  progress: %d%%  attempts: %d",
			output.StateColor(string(t.State)), t.Progress, t.AttemptCount)
		if t.Message != "" {
			ui.Info("message: %s", t.Message)
		}
		for _, d := range t.Diagnostics {
			ui.Warning("%s", d)
		}
		if t.Error != nil {
			ui.Error("%s", t.Error.Error())
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the task as JSON")
	rootCmd.AddCommand(statusCmd)
}
