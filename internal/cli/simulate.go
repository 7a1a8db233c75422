package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"nodesentinel/internal/app"
)

var (
	simulateFrom float64
	simulateTo   float64
	simulateFee  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Replay a synthetic BTC price move and send the resulting alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFrom <= 0 || simulateTo <= 0 {
			return errors.New("--from and --to must be greater than zero")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			From: decimal.NewFromFloat(simulateFrom),
			To:   decimal.NewFromFloat(simulateTo),
			Fee:  simulateFee,
		})
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateFrom, "from", 0, "BTC/USD price at the start of the lookback window")
	simulateCmd.Flags().Float64Var(&simulateTo, "to", 0, "BTC/USD price now")
	simulateCmd.Flags().Float64Var(&simulateFee, "fee", 8, "Fastest fee (sat/vB) fed to the fee state")
}
