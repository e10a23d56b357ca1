// ABOUTME: Subcommands: run the shell, inspect bundles, call extension actions, scaffold config
// ABOUTME: Read-only commands start the shell, report, and close it again

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/2389/plugshell/internal/builtins"
	"github.com/2389/plugshell/internal/config"
	"github.com/2389/plugshell/internal/loader"
	"github.com/2389/plugshell/internal/schema"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load every bundle and keep the extensions running",
		Long: `Load every bundle found in the configured plugin directories, initialize
the extensions and keep running until interrupted. When metrics are enabled
they are served over HTTP.

Example:
  plugshell run
  plugshell run --config ./plugshell.yaml --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd, rootOpts)
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	JSON bool
}

// listEntry is the JSON shape of one bundle in list output.
type listEntry struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Version string `json:"version,omitempty"`
	Entry   string `json:"entry,omitempty"`
	Table   string `json:"table,omitempty"`
	Path    string `json:"path"`
	Error   string `json:"error,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered bundles and their load state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listBundles(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

func listBundles(cmd *cobra.Command, opts *ListOptions) error {
	app, _, err := opts.startApp(cmd.Context(), opts.logOutput(cmd))
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	records := app.Extensions()
	entries := make([]listEntry, 0, len(records))
	for _, r := range records {
		e := listEntry{Name: r.Name, State: r.State.String(), Path: r.Path}
		if r.Manifest != nil {
			e.Version = r.Manifest.Version
			e.Entry = r.Manifest.Entry
			e.Table = r.Manifest.Data.Table
		}
		if r.Err != nil {
			e.Error = r.Err.Error()
		}
		entries = append(entries, e)
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No bundles found.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tVERSION\tENTRY\tTABLE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Name, stateLabel(e.State), dash(e.Version), dash(e.Entry), dash(e.Table))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Error != "" {
			color.New(color.FgRed).Fprintf(out, "\n%s: ", e.Name)
			fmt.Fprintln(out, e.Error)
		}
	}
	return nil
}

func stateLabel(state string) string {
	switch state {
	case loader.StateActive.String():
		return color.GreenString(state)
	case loader.StateFailed.String():
		return color.RedString(state)
	default:
		return state
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// DescribeOptions holds flags for the describe command.
type DescribeOptions struct {
	*RootOptions
	Readme bool
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DescribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "describe <name>",
		Short: "Show a bundle's manifest, table and actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return describeBundle(cmd, opts, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.Readme, "readme", false, "print the rendered README HTML")
	return cmd
}

func describeBundle(cmd *cobra.Command, opts *DescribeOptions, name string) error {
	app, _, err := opts.startApp(cmd.Context(), opts.logOutput(cmd))
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	r, ok := app.Extension(name)
	if !ok {
		return fmt.Errorf("no bundle named %q", name)
	}

	var ts *schema.TableSchema
	for _, s := range app.Schemas() {
		if s.Extension == r.Name {
			ts = &s
			break
		}
	}

	rows := -1
	if ts != nil && ts.Materialized {
		if n, err := app.TableRows(cmd.Context(), ts.Table); err == nil {
			rows = n
		}
	}

	return writeDescription(cmd.OutOrStdout(), r, ts, rows, opts.Readme)
}

// writeDescription prints one bundle. rows is negative when the table could
// not be counted.
func writeDescription(out io.Writer, r loader.Record, ts *schema.TableSchema, rows int, readme bool) error {
	bold := color.New(color.Bold)
	bold.Fprintln(out, r.Name)

	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "  %-12s %s\n", label+":", value)
		}
	}
	if m := r.Manifest; m != nil {
		field("version", m.Version)
		field("description", m.Description)
		field("entry", m.Entry)
	}
	field("state", stateLabel(r.State.String()))
	if r.Err != nil {
		field("error", r.Err.Error())
	}
	field("path", r.Path)
	if r.Digest != "" {
		field("digest", r.Digest[:12])
	}
	if r.Host != nil {
		field("cache", r.Host.CacheDir())
	}

	if ts != nil {
		fmt.Fprintln(out)
		bold.Fprintln(out, "table")
		field("name", ts.Table)
		if ts.Materialized {
			cols := make([]string, len(ts.Columns))
			for i, c := range ts.Columns {
				cols[i] = c
				if ts.IsJSONColumn(c) {
					cols[i] += " (json)"
				}
			}
			field("columns", strings.Join(cols, ", "))
			field("key", ts.PrimaryKey)
			if rows >= 0 {
				field("rows", humanize.Comma(int64(rows)))
			}
		} else {
			field("columns", "(not materialized)")
		}
		if ts.Source != nil {
			field("schema", ts.Source.Origin)
		}
	}

	if a, ok := r.Extension.(builtins.Actioner); ok {
		actions := a.Actions()
		sort.Slice(actions, func(i, j int) bool { return actions[i].Name < actions[j].Name })
		fmt.Fprintln(out)
		bold.Fprintln(out, "actions")
		for _, action := range actions {
			fmt.Fprintf(out, "  %-14s %s\n", action.Name, action.Description)
		}
	}

	if r.ReadmeHTML != "" {
		fmt.Fprintln(out)
		if readme {
			fmt.Fprint(out, r.ReadmeHTML)
		} else {
			color.New(color.FgHiBlack).Fprintf(out, "README: %s rendered (--readme to print)\n", humanize.Bytes(uint64(len(r.ReadmeHTML))))
		}
	}
	return nil
}

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Args string
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <extension> <action>",
		Short: "Run an action of a loaded extension",
		Long: `Run an action of a loaded extension and print its JSON result.

Example:
  plugshell call notes note_add --args '{"title":"groceries","tags":["home"]}'
  plugshell call notes note_list --args '{"limit":5,"order":"-id"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAction(cmd, opts, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&opts.Args, "args", "{}", "action arguments as JSON")
	return cmd
}

func callAction(cmd *cobra.Command, opts *CallOptions, name, action string) error {
	if !json.Valid([]byte(opts.Args)) {
		return errors.New("invalid --args JSON")
	}

	app, _, err := opts.startApp(cmd.Context(), opts.logOutput(cmd))
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	result, err := app.Invoke(cmd.Context(), name, action, []byte(opts.Args))
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		return fmt.Errorf("formatting result: %w", err)
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(cmd.OutOrStdout())
	return err
}

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Force     bool
	NoBundles bool
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and the built-in bundles",
		Long: `Write a default config file and copy the bundles of the built-in
extensions into the first plugin directory.

Existing files are left alone unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite existing files")
	cmd.Flags().BoolVar(&opts.NoBundles, "no-bundles", false, "only write the config file")
	return cmd
}

func initConfig(cmd *cobra.Command, opts *InitOptions) error {
	out := cmd.OutOrStdout()
	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	path := opts.configPath()
	if _, err := os.Stat(path); err == nil && !opts.Force {
		gray.Fprintf(out, "    · config exists: %s\n", path)
	} else {
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		green.Fprint(out, "    ✓ ")
		fmt.Fprintf(out, "config: %s\n", path)
	}

	if opts.NoBundles {
		return nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	dir := cfg.Plugins.Dirs[0]
	for _, b := range builtins.Bundles() {
		written, err := writeBundle(dir, b, opts.Force)
		if err != nil {
			return fmt.Errorf("writing bundle %s: %w", b.Name, err)
		}
		if written {
			green.Fprint(out, "    ✓ ")
			fmt.Fprintf(out, "bundle: %s\n", filepath.Join(dir, b.Name))
		} else {
			gray.Fprintf(out, "    · bundle exists: %s\n", filepath.Join(dir, b.Name))
		}
	}
	return nil
}

// writeBundle writes the files of b under dir/b.Name. An existing bundle
// directory is left alone unless force is set.
func writeBundle(dir string, b builtins.Bundle, force bool) (bool, error) {
	bundleDir := filepath.Join(dir, b.Name)
	if _, err := os.Stat(bundleDir); err == nil && !force {
		return false, nil
	}
	for name, content := range b.Files {
		path := filepath.Join(bundleDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return false, err
		}
		if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
			return false, err
		}
	}
	return true, nil
}
