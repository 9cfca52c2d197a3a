package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lurioneli/Sleep-Suivour/internal/export"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Limit int
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search history notes and feelings on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.client.Search(cmd.Context(), args[0], opts.Limit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matches")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tENDED\tFEELING\tNOTE")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					r.Kind, r.EndTime.Time().Local().Format("2006-01-02 15:04"), r.Feeling, r.Note)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "max results")

	return cmd
}

// NewVersionsCommand creates the versions command.
func NewVersionsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions [hash]",
		Short: "List archived snapshot versions, or print one as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 1 {
				doc, err := a.client.VersionState(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return export.Encode(cmd.OutOrStdout(), doc)
			}

			versions, err := a.client.Versions(cmd.Context())
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no archived versions")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "HASH\tCOMMITTED\tMESSAGE")
			for _, v := range versions {
				fmt.Fprintf(tw, "%.12s\t%s\t%s\n",
					v.Hash, v.CommittedAt.Local().Format(time.RFC3339), v.Message)
			}
			return tw.Flush()
		},
	}
	return cmd
}
