package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lurioneli/Sleep-Suivour/internal/export"
)

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write all data as JSON (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				defer f.Close()
				out = f
			}
			return a.engine.Export(out)
		},
	}
	return cmd
}

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Mode string
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a previously exported JSON file",
		Long: `Import a previously exported JSON file.

Modes:
  merge    combine the file with current data using the sync merge rules
           (history union, settings from the file, per-skill max)
  replace  discard current data and take the file wholesale`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode export.Mode
			switch opts.Mode {
			case "merge":
				mode = export.ModeMerge
			case "replace":
				mode = export.ModeReplace
			default:
				return fmt.Errorf("invalid --mode %q: must be merge or replace", opts.Mode)
			}

			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			effects, err := a.engine.Import(cmd.Context(), f, mode)
			if err != nil {
				return err
			}
			if mode == export.ModeMerge {
				fmt.Fprintf(cmd.OutOrStdout(), "Imported: %d new fast, %d new sleep entries.\n",
					effects.NewFastEntries, effects.NewSleepEntries)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Imported: replaced all data with the file.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "merge", "import mode (merge|replace)")

	return cmd
}
