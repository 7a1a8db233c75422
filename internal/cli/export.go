package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"nodesentinel/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportSince     time.Duration
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export market samples as CSV and/or a price/fee PNG chart",
	Example: `  nodesentinel export --since 24h --png out/day.png
  nodesentinel export --from 2025-03-01T00:00:00Z --to 2025-03-08T00:00:00Z --csv week.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := exportOptions(time.Now().UTC())
		if err != nil {
			return err
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func exportOptions(now time.Time) (app.ExportOptions, error) {
	opts := app.ExportOptions{
		PNGPath:   exportPNGPath,
		CSVPath:   exportCSVPath,
		MaxPoints: exportMaxPoints,
	}
	if exportSince > 0 && exportFrom != "" {
		return opts, errors.New("--since and --from are mutually exclusive")
	}

	var err error
	if opts.From, err = parseTimeFlag("from", exportFrom); err != nil {
		return opts, err
	}
	if opts.To, err = parseTimeFlag("to", exportTo); err != nil {
		return opts, err
	}
	if exportSince > 0 {
		end := now
		if opts.To != nil {
			end = *opts.To
		}
		from := end.Add(-exportSince)
		opts.From = &from
	}
	return opts, nil
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return &t, nil
}

func init() {
	flags := exportCmd.Flags()
	flags.StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	flags.StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive)")
	flags.DurationVar(&exportSince, "since", 0, "Export the window of this length ending at --to (or now)")
	flags.StringVar(&exportPNGPath, "png", "", "Path to write the price/fee PNG chart")
	flags.StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	flags.IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
