package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"exrate-watch/internal/app"
)

var (
	backfillFrom    uint64
	backfillTo      uint64
	backfillNotify  bool
	backfillWorkers int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Evaluate a historical block range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("from") || !cmd.Flags().Changed("to") {
			return fmt.Errorf("--from and --to must be provided")
		}
		if backfillFrom > backfillTo {
			return fmt.Errorf("--from must not be after --to")
		}

		opts := app.BackfillOptions{
			From:    backfillFrom,
			To:      backfillTo,
			Notify:  backfillNotify,
			Workers: backfillWorkers,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from", 0, "First block height (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to", 0, "Last block height (inclusive)")
	backfillCmd.Flags().BoolVar(&backfillNotify, "notify", false, "Send findings to the configured alert channels")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 4, "Number of blocks evaluated concurrently")
}
