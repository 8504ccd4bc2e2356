package cli

import (
	"github.com/spf13/cobra"

	"exrate-watch/internal/app"
)

var (
	checkBlock  uint64
	checkOutput string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate a single block and print any findings",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.CheckOptions{
			Height: checkBlock,
			Output: checkOutput,
		}
		return getApp().Check(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	checkCmd.Flags().Uint64Var(&checkBlock, "block", 0, "Block height to evaluate (defaults to chain head)")
	checkCmd.Flags().StringVarP(&checkOutput, "output", "o", "table", "Output format: table, json or yaml")
}
