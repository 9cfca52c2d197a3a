package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Watch bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync with the server now",
		Long: `Sync with the server now: fetch the remote snapshot, merge it into the
local document, and push the result. With --watch, stay subscribed and
apply every remote change as it arrives until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if opts.Watch {
				if err := a.engine.StartSync(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Watching for remote changes. Ctrl-C to stop.")
				<-ctx.Done()
				return nil
			}

			update, err := a.client.Fetch(ctx)
			if err != nil {
				return err
			}
			effects := a.engine.HandleRemote(ctx, update)
			if effects.Changed {
				fmt.Fprintf(out, "Merged remote snapshot: %d new fast, %d new sleep entries.\n",
					effects.NewFastEntries, effects.NewSleepEntries)
			} else {
				fmt.Fprintln(out, "Already up to date with the server.")
			}
			if err := a.engine.Push(ctx); err != nil {
				return err
			}
			// Refresh may have rotated the tokens during the round trip.
			return a.saveCredentials()
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "stay subscribed and apply changes live")

	return cmd
}
