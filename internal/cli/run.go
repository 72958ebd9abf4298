package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/agent"
	"github.com/hanibalsk/trackd/internal/logging"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the tracking agent",
		Long: `Run the tracking agent in the foreground.

The agent opens the database (creating it if it doesn't exist), loads the
proximity alerts, resumes tracking if it was running before the last
shutdown and serves the control API until interrupted.

Example:
  trackd run --config /etc/trackd/trackd.yaml
  trackd run --db /tmp/trackd.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(rootOpts, cmd)
		},
	}
}

func runAgent(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	defer func() { _ = log.Sync() }()

	a, err := agent.New(cfg, agent.Options{ConfigPath: opts.ConfigPath, Logger: log})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to assemble agent", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			log.Error("error closing database", zap.Error(closeErr))
		}
	}()

	// Use command's context if available (for testing), otherwise create one
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("agent starting",
		zap.String("db", cfg.Database),
		zap.String("api", cfg.API.Listen),
		zap.String("device_id", cfg.DeviceID))

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "agent error", err)
	}

	log.Info("agent stopped gracefully")
	return nil
}
