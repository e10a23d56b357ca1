// ABOUTME: Entry point for the plugshell extension host
// ABOUTME: Cobra root command with run, list, describe, call and init subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/plugshell/internal/config"
	"github.com/2389/plugshell/internal/shell"
)

// version is set at build time with -ldflags.
var version = "dev"

const banner = `
   ___  __             __       ____
  / _ \/ /_ _____ ____ / /  ___ / / /
 / ___/ / // / _ '(_-</ _ \/ -_) / /
/_/  /_/\_,_/\_, /___/_//_/\__/_/_/
            /___/
`

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the plugshell command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "plugshell",
		Short:         "Host self-contained extension bundles over a shared SQLite store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $PLUGSHELL_CONFIG or $XDG_CONFIG_HOME/plugshell/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		NewRunCommand(opts),
		NewListCommand(opts),
		NewDescribeCommand(opts),
		NewCallCommand(opts),
		NewInitCommand(opts),
	)
	return cmd
}

func (o *RootOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	return config.DefaultPath()
}

// loadConfig reads the config file, or the defaults when there is none.
// An explicit --config must exist.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath != "" {
		return config.Load(o.ConfigPath)
	}
	return config.LoadOrDefault(o.configPath())
}

// startApp loads config, builds the shell and loads every bundle.
func (o *RootOptions) startApp(ctx context.Context, logOut io.Writer) (*shell.App, *config.Config, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, logOut, o.Verbose)

	app, err := shell.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := app.Start(ctx); err != nil {
		app.Close(context.Background())
		return nil, nil, err
	}
	return app, cfg, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprint(os.Stderr, "Error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printBanner(w io.Writer) {
	cyan := color.New(color.FgCyan)
	cyan.Fprint(w, banner)

	gray := color.New(color.FgHiBlack)
	gray.Fprintf(w, "    version: %s\n\n", version)
}

func runShell(cmd *cobra.Command, opts *RootOptions) error {
	out := cmd.OutOrStdout()
	printBanner(out)

	cfg, err := opts.loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, cmd.ErrOrStderr(), opts.Verbose)

	green := color.New(color.FgGreen)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", opts.configPath())
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)
	for _, dir := range cfg.Plugins.Dirs {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Plugins:   %s\n", dir)
	}
	if cfg.Metrics.Enabled {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Metrics:   http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	if cfg.Plugins.ForceClearCache {
		color.New(color.FgYellow).Fprintln(out, "    ! artifact cache will be cleared")
	}
	fmt.Fprintln(out)

	logger.Info("starting plugshell",
		"config", opts.configPath(),
		"app", cfg.App.Name,
		"database", cfg.Database.Path,
	)

	app, err := shell.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating shell: %w", err)
	}
	return app.Run(cmd.Context())
}

// logOutput discards logs of read-only commands unless --verbose is set.
func (o *RootOptions) logOutput(cmd *cobra.Command) io.Writer {
	if o.Verbose {
		return cmd.ErrOrStderr()
	}
	return io.Discard
}
