package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
	"github.com/lurioneli/Sleep-Suivour/internal/timer"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [fast|sleep]",
		Short: "List recorded sessions, most recent first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []document.Kind{document.KindFast, document.KindSleep}
			if len(args) == 1 {
				kind, err := parseKind(args[0])
				if err != nil {
					return err
				}
				kinds = []document.Kind{kind}
			}
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			doc := a.engine.Document()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tENDED\tDURATION\tGOAL\tFEELING")
			for _, kind := range kinds {
				entries := doc.History(kind)
				if opts.Limit > 0 && len(entries) > opts.Limit {
					entries = entries[:opts.Limit]
				}
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.1fh\t%s\n",
						kind,
						e.EndTime.Time().Local().Format("2006-01-02 15:04"),
						timer.FormatDuration(durationOf(e.Duration)),
						e.GoalHours,
						e.Feeling,
					)
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "max entries per kind (0 for all)")

	return cmd
}
