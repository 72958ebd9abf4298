package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hanibalsk/trackd/internal/config"
	"github.com/hanibalsk/trackd/internal/model"
)

// NewAlertsCommand creates the alerts command group.
func NewAlertsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Manage proximity alerts",
	}
	cmd.AddCommand(newAlertsLoadCommand(rootOpts))
	cmd.AddCommand(newAlertsListCommand(rootOpts))
	return cmd
}

// LoadResult is the output of alerts load.
type LoadResult struct {
	File string `json:"file"`
	config.SyncResult
}

func newAlertsLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load [file]",
		Short: "Replace the stored alerts with a CUE alerts file",
		Long: `Validate a CUE alerts file and make the stored alerts match it.

Alerts that already exist keep their proximity state and last trigger
time; alerts no longer in the file are deleted. Without an argument the
file configured under alerts.file is used.

A running agent picks up changes to its configured alerts file on its own.

Example:
  trackd alerts load ./alerts.cue --db /var/lib/trackd/trackd.db`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			file, err := alertsFile(rootOpts, args)
			if err != nil {
				return err
			}
			alerts, err := config.LoadAlerts(file)
			if err != nil {
				_ = f.Error("E_INVALID_ALERTS", err.Error(), nil)
				return WrapExitError(ExitCommandError, "invalid alerts file", err)
			}
			f.VerboseLog("loaded %d alert(s) from %s", len(alerts), file)

			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := config.SyncAlerts(cmd.Context(), st, alerts, time.Now().UTC())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to store alerts", err)
			}
			out := LoadResult{File: file, SyncResult: res}
			return f.Render(out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Loaded %s: %d upserted, %d deleted\n", file, res.Upserted, res.Deleted)
				return err
			})
		},
	}
}

func alertsFile(opts *RootOptions, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if opts.ConfigPath == "" {
		return "", NewExitError(ExitCommandError, "no alerts file given and no --config to read alerts.file from")
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Alerts.File == "" {
		return "", NewExitError(ExitCommandError, "alerts.file is not set in "+opts.ConfigPath)
	}
	return cfg.Alerts.File, nil
}

func newAlertsListCommand(rootOpts *RootOptions) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List stored alerts and their proximity state",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			alerts, err := st.ListAlerts(cmd.Context(), activeOnly)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list alerts", err)
			}
			if alerts == nil {
				alerts = []model.ProximityAlert{}
			}
			return f.Render(alerts, func(w io.Writer) error {
				return writeAlerts(w, alerts)
			})
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "only list active alerts")
	return cmd
}

func writeAlerts(w io.Writer, alerts []model.ProximityAlert) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "No alerts.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tTHRESHOLD\tDIRECTION\tCOOLDOWN\tSTATE\tLAST TRIGGERED\tACTIVE")
	for _, a := range alerts {
		target := a.TargetDeviceID
		if a.TargetDisplayName != "" {
			target = fmt.Sprintf("%s (%s)", a.TargetDisplayName, a.TargetDeviceID)
		}
		last := "-"
		if !a.LastTriggeredAt.IsZero() {
			last = a.LastTriggeredAt.UTC().Format(time.RFC3339)
		}
		active := "yes"
		if !a.Active {
			active = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%gm\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, target, a.ThresholdMeters, a.Direction, a.Cooldown(), a.LastState, last, active)
	}
	return tw.Flush()
}
