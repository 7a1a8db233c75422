package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"nodesentinel/internal/app"
)

var (
	showLimit   int
	showSamples bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alert records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Samples: showSamples,
		}

		return getApp().Show(cmd.Context(), cmd.OutOrStdout(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showSamples, "samples", false, "Show market samples instead of alerts")
}
