package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/hanibalsk/trackd/internal/config"
	"github.com/hanibalsk/trackd/internal/controlapi"
	"github.com/hanibalsk/trackd/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	API        string // control API address of the running agent
	Database   string // overrides the configured database for local commands
	Timeout    time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the trackd CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "trackd",
		Short: "trackd - location tracking agent",
		Long: `trackd captures location fixes on a schedule, uploads them in ordered
batches to the ingestion service and raises proximity alerts for nearby peers.

Run the agent with "trackd run". The other commands talk to a running
agent over its local control API, or work on the database directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.API, "api", config.Default().API.Listen, "control API address of the running agent")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite database (defaults to the configured one)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "control API request timeout")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStartCommand(opts))
	cmd.AddCommand(NewStopCommand(opts))
	cmd.AddCommand(NewIntervalCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewAlertsCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// client returns a control API client. The configured listen address is
// used when --api is not given explicitly.
func (o *RootOptions) client(cmd *cobra.Command) *controlapi.Client {
	addr := o.API
	if !cmd.Flags().Changed("api") && o.ConfigPath != "" {
		if cfg, err := config.Load(o.ConfigPath); err == nil && cfg.API.Listen != "" {
			addr = cfg.API.Listen
		}
	}
	return controlapi.NewClient(addr, o.Timeout)
}

// databasePath resolves the database for local commands: --db, then the
// config file, then the default.
func (o *RootOptions) databasePath() (string, error) {
	if o.Database != "" {
		return o.Database, nil
	}
	if o.ConfigPath == "" {
		return config.Default().Database, nil
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Database, nil
}

func (o *RootOptions) openStore() (*store.Store, error) {
	path, err := o.databasePath()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// loadConfig reads the config file, or the defaults when none is given,
// and applies the --db override.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, nil
}

// requestError reports a failed control API call and maps it to an exit
// code: refusals by the agent are failures, anything else means the agent
// could not be reached.
func requestError(f *OutputFormatter, op string, err error) error {
	var apiErr *controlapi.Error
	if errors.As(err, &apiErr) {
		code := "E_REFUSED"
		switch {
		case apiErr.IsPermissionDenied():
			code = "E_PERMISSION"
		case apiErr.StatusCode >= 500:
			code = "E_AGENT"
		}
		var details any
		if len(apiErr.Errors) > 0 {
			details = apiErr.Errors
		}
		_ = f.Error(code, apiErr.Message, details)
		return WrapExitError(ExitFailure, op+" failed", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	_ = f.Error("E_UNREACHABLE", err.Error(), nil)
	return WrapExitError(ExitCommandError, "agent unreachable", err)
}
