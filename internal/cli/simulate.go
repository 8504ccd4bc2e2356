package cli

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateName    string
	simulateMarket  string
	simulatePrior   string
	simulateCurrent string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic exchange-rate regression through the alert channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		prior, err := decimal.NewFromString(simulatePrior)
		if err != nil {
			return fmt.Errorf("invalid --prior value: %w", err)
		}
		current, err := decimal.NewFromString(simulateCurrent)
		if err != nil {
			return fmt.Errorf("invalid --current value: %w", err)
		}
		if !common.IsHexAddress(simulateMarket) {
			return errors.New("--market must be a hex address")
		}

		return getApp().SimulateAlert(cmd.Context(), simulateName, common.HexToAddress(simulateMarket), prior, current)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateName, "name", "Compound Simulated", "Market name shown in the alert")
	simulateCmd.Flags().StringVar(&simulateMarket, "market", "0x0000000000000000000000000000000000000001", "cToken address shown in the alert")
	simulateCmd.Flags().StringVar(&simulatePrior, "prior", "0.0200", "Exchange rate at the previous block")
	simulateCmd.Flags().StringVar(&simulateCurrent, "current", "0.0199", "Exchange rate at the current block")
}
