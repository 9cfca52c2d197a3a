// Package cli implements the suivour command tree. Every command opens the
// local store and engine on demand; sync-aware commands additionally carry
// the cached credentials from the config file.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lurioneli/Sleep-Suivour/internal/document"
	"github.com/lurioneli/Sleep-Suivour/internal/localstore"
	"github.com/lurioneli/Sleep-Suivour/internal/syncclient"
	"github.com/lurioneli/Sleep-Suivour/internal/tracker"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Server     string
	Verbose    bool
}

// NewRootCommand creates the root command for the suivour CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "suivour",
		Short: "suivour - fasting and sleep tracker with device sync",
		Long: `suivour tracks fasting and sleep sessions on this device and keeps the
state in sync across devices through a suivour server. All data lives
locally; signing in is optional.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default ~/.config/suivour/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "sync server URL (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewStopCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewSettingsCommand(opts))
	cmd.AddCommand(NewSkillsCommand(opts))
	cmd.AddCommand(NewPassCommand(opts))
	cmd.AddCommand(NewSignUpCommand(opts))
	cmd.AddCommand(NewSignInCommand(opts))
	cmd.AddCommand(NewSignOutCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewVersionsCommand(opts))

	return cmd
}

// app wires the store, sync client and engine for one command invocation.
type app struct {
	cfg     *Config
	cfgPath string
	client  *syncclient.Client
	engine  *tracker.Tracker
	load    localstore.LoadResult
}

func openApp(opts *RootOptions) (*app, error) {
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		var err error
		cfgPath, err = DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if opts.Server != "" {
		cfg.Server = opts.Server
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	var store localstore.Store
	store, err = localstore.Open(filepath.Join(cfg.DataDir, "state.db"), logger)
	if err != nil {
		// Memory-only still works; warn and carry on.
		logger.Warn("local store unavailable, running memory-only", "error", err)
		store = localstore.NewMemory()
	}

	client := syncclient.New(cfg.Server, logger)
	if cfg.Credentials.AccessToken != "" {
		client.SetCredentials(cfg.Credentials)
	}

	engine, load := tracker.New(store, client, logger)
	a := &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		client:  client,
		engine:  engine,
		load:    load,
	}
	if load.Corrupt {
		fmt.Fprintf(os.Stderr, "warning: saved data was invalid and has been backed up (%s); starting fresh\n", load.BackupKey)
	}
	return a, nil
}

func (a *app) close() {
	a.engine.Close()
}

// saveCredentials persists rotated or cleared credentials back to the config
// file so the next invocation picks them up.
func (a *app) saveCredentials() error {
	a.cfg.Credentials = a.client.Credentials()
	return SaveConfig(a.cfgPath, a.cfg)
}

func parseKind(arg string) (document.Kind, error) {
	switch arg {
	case "fast":
		return document.KindFast, nil
	case "sleep":
		return document.KindSleep, nil
	default:
		return "", fmt.Errorf("unknown session kind %q: must be fast or sleep", arg)
	}
}
