package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"exrate-watch/internal/app"
)

var (
	exportMarket    string
	exportFrom      uint64
	exportTo        uint64
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a market's exchange-rate history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportMarket == "" {
			return fmt.Errorf("--market must be provided")
		}

		opts := app.ExportOptions{
			Market:    exportMarket,
			From:      exportFrom,
			To:        exportTo,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportMarket, "market", "", "cToken contract address")
	exportCmd.Flags().Uint64Var(&exportFrom, "from", 0, "First block height (inclusive)")
	exportCmd.Flags().Uint64Var(&exportTo, "to", 0, "Last block height (inclusive, defaults to chain head)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
