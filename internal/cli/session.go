package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lurioneli/Sleep-Suivour/internal/timer"
)

// StartOptions holds flags for the start command.
type StartOptions struct {
	*RootOptions
	Goal float64
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start <fast|sleep>",
		Short: "Start a fasting or sleep session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			session, err := a.engine.StartSession(cmd.Context(), kind, opts.Goal)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %s session with a %.1fh goal.\n", kind, session.GoalHours)
			return nil
		},
	}

	cmd.Flags().Float64Var(&opts.Goal, "goal", 0, "goal in hours (default per kind)")

	return cmd
}

// StopOptions holds flags for the stop command.
type StopOptions struct {
	*RootOptions
	Feeling string
	Note    string
}

// NewStopCommand creates the stop command.
func NewStopCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StopOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stop <fast|sleep>",
		Short: "Stop the active session and record it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			entry, err := a.engine.StopSession(cmd.Context(), kind, opts.Feeling, opts.Note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s session: %s (goal %.1fh).\n",
				kind, timer.FormatDuration(durationOf(entry.Duration)), entry.GoalHours)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Feeling, "feeling", "", "how it went")
	cmd.Flags().StringVar(&opts.Note, "note", "", "free-form note")

	return cmd
}
