package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/critic/internal/output"
	"github.com/joescharf/critic/internal/service"
	"github.com/joescharf/critic/internal/store"
)

var (
	listRepo  string
	listPR    int
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis tasks, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStore()
		if err != nil {
			return err
		}
		svc := service.New(st, nil, nil)

		tasks, err := svc.List(cmd.Context(), store.ListFilter{
			Repo:      listRepo,
			ChangeSet: listPR,
			Limit:     listLimit,
		})
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			ui.Info("no tasks")
			return nil
		}

		table := ui.Table([]string{"ID", "Repo", "Type", "State", "Progress", "Created"})
		for _, t := range tasks {
			table.Append(output.RenderTaskRow(t))
		}
		return table.Render()
	},
}

func init() {
	listCmd.Flags().StringVar(&listRepo, "repo", "", "Filter by repository (owner/name)")
	listCmd.Flags().IntVar(&listPR, "pr", 0, "Filter by pull request number")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of tasks")
	rootCmd.AddCommand(listCmd)
}
