package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/critic/internal/service"
)

var resultJSON bool

var resultCmd = &cobra.Command{
	Use:   "result <task-id>",
	Short: "Show the report of a completed analysis task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := getStore()
		if err != nil {
			return err
		}
		svc := service.New(st, nil, nil)

		rep, err := svc.Result(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if resultJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		ui.RenderReport(rep)
		return nil
	},
}

func init() {
	resultCmd.Flags().BoolVar(&resultJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(resultCmd)
}
