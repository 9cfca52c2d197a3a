package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewSignUpCommand creates the signup command.
func NewSignUpCommand(rootOpts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "signup <email>",
		Short: "Create a sync account and sign in on this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			creds, err := a.engine.SignUp(cmd.Context(), args[0], password, name)
			if err != nil {
				return err
			}
			if err := a.saveCredentials(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed up as %s.\n", creds.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")

	return cmd
}

// NewSignInCommand creates the signin command.
func NewSignInCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin <email>",
		Short: "Sign in to an existing sync account",
		Long: `Sign in to an existing sync account. Local data is kept: the first
snapshot from the server merges into it, so nothing recorded while
signed out is lost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			creds, err := a.engine.SignIn(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			if err := a.saveCredentials(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", creds.Email)
			return nil
		},
	}
	return cmd
}

// NewSignOutCommand creates the signout command.
func NewSignOutCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signout",
		Short: "Sign out and clear synced data from this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			a.engine.SignOut(cmd.Context())
			if err := a.saveCredentials(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out. Device settings were kept.")
			return nil
		},
	}
	return cmd
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	// Piped stdin (tests, scripts).
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
