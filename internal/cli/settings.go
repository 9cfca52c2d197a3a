package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings [key on|off]",
		Short: "Show or change settings",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 0 {
				settings := a.engine.Document().Settings
				keys := make([]string, 0, len(settings))
				for k := range settings {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, onOff(settings[k]))
				}
				return nil
			}
			if len(args) != 2 {
				return fmt.Errorf("usage: suivour settings <key> <on|off>")
			}
			value, err := parseBool(args[1])
			if err != nil {
				return err
			}
			if err := a.engine.SetSetting(cmd.Context(), args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], onOff(value))
			return nil
		},
	}
	return cmd
}

// NewSkillsCommand creates the skills command.
func NewSkillsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills [name amount]",
		Short: "Show skill counters or add experience",
		Args:  cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 0 {
				skills := a.engine.Document().Skills
				if len(skills) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no skills yet")
					return nil
				}
				names := make([]string, 0, len(skills))
				for name := range skills {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", name, skills[name])
				}
				return nil
			}
			if len(args) != 2 {
				return fmt.Errorf("usage: suivour skills <name> <amount>")
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			if err := a.engine.AddExperience(cmd.Context(), args[0], amount); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", args[0], a.engine.Document().Skills[args[0]])
			return nil
		},
	}
	return cmd
}

// NewPassCommand creates the pass command.
func NewPassCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Activate a rest pass (limited per rolling week)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			until, err := a.engine.UsePass(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pass active until %s.\n", until.Time().Local().Format("Mon 15:04"))
			return nil
		},
	}
	return cmd
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func parseBool(arg string) (bool, error) {
	switch arg {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", arg)
	}
}
