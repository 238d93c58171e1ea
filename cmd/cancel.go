package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/critic/internal/service"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a queued or running analysis task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStore()
		if err != nil {
			return err
		}
		svc := service.New(st, nil, newLogger())

		t, err := svc.Cancel(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ui.Success("task %s cancelled", t.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
