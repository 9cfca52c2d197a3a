package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
	"github.com/lurioneli/Sleep-Suivour/internal/timer"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Watch bool
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active sessions and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if !opts.Watch {
				printStatus(out, a)
				return nil
			}

			// Live view: recompute from the fixed start instant on every
			// render; nothing accumulates between ticks.
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				printStatus(out, a)
				for _, kind := range a.engine.CheckGoals() {
					fmt.Fprintf(out, "*** %s goal reached! ***\n", kind)
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "refresh every second")

	return cmd
}

func printStatus(w io.Writer, a *app) {
	doc := a.engine.Document()
	now := document.Now()

	printSession(w, document.KindFast, doc.ActiveFast, now)
	printSession(w, document.KindSleep, doc.ActiveSleep, now)

	if until := doc.Passes.ActiveUntil(now); until != 0 {
		fmt.Fprintf(w, "pass:  active until %s\n", until.Time().Local().Format("Mon 15:04"))
	}
	if a.client.SignedIn() {
		fmt.Fprintf(w, "sync:  %s (%s)\n", a.client.Status(), a.client.Credentials().Email)
	} else {
		fmt.Fprintln(w, "sync:  signed out")
	}
}

func printSession(w io.Writer, kind document.Kind, s document.Session, now document.Millis) {
	if !s.IsActive {
		fmt.Fprintf(w, "%-6s no active session\n", kind+":")
		return
	}
	elapsed := timer.Elapsed(s, now)
	fmt.Fprintf(w, "%-6s %s elapsed, %.0f%% of %.1fh goal",
		kind+":", timer.FormatDuration(elapsed), timer.Progress(s, now)*100, s.GoalHours)
	if timer.GoalReached(s, now) {
		fmt.Fprint(w, " — goal reached")
	} else {
		fmt.Fprintf(w, ", %s to go", timer.FormatDuration(timer.Remaining(s, now)))
	}
	fmt.Fprintln(w)
}

func durationOf(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
