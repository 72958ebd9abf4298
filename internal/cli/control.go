package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hanibalsk/trackd/internal/controlapi"
	"github.com/hanibalsk/trackd/internal/service"
)

// ControlResult is the output of start, stop and interval.
type ControlResult struct {
	Action  string          `json:"action"`
	Outcome service.Outcome `json:"outcome"`
	Minutes int             `json:"minutes,omitempty"`
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start location tracking",
		Long: `Ask the running agent to start tracking.

Starting an agent that is already tracking succeeds and reports
ALREADY_IN_STATE.

Exit codes:
  0 - Tracking started (or already running)
  1 - The agent refused (location permission or provider unavailable)
  2 - The agent could not be reached`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			outcome, err := rootOpts.client(cmd).Start(cmd.Context())
			if err != nil {
				return requestError(f, "start", err)
			}
			return renderControl(f, ControlResult{Action: "start", Outcome: outcome})
		},
	}
}

// NewStopCommand creates the stop command.
func NewStopCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stop",
		Short:         "Stop location tracking",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			outcome, err := rootOpts.client(cmd).Stop(cmd.Context())
			if err != nil {
				return requestError(f, "stop", err)
			}
			return renderControl(f, ControlResult{Action: "stop", Outcome: outcome})
		},
	}
}

// NewIntervalCommand creates the interval command.
func NewIntervalCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interval <minutes>",
		Short: "Change the capture interval",
		Long: `Change the capture interval of the running agent.

The interval must be between 1 and 1440 minutes. A running capture loop
is restarted with the new interval; a stopped one keeps it for the next
start.

Example:
  trackd interval 10`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid interval %q: must be a whole number of minutes", args[0]))
			}
			outcome, err := rootOpts.client(cmd).SetInterval(cmd.Context(), minutes)
			if err != nil {
				return requestError(f, "interval", err)
			}
			return renderControl(f, ControlResult{Action: "interval", Outcome: outcome, Minutes: minutes})
		},
	}
}

func renderControl(f *OutputFormatter, res ControlResult) error {
	return f.Render(res, func(w io.Writer) error {
		var msg string
		switch {
		case res.Action == "interval" && res.Outcome == service.OutcomeAlreadyInState:
			msg = fmt.Sprintf("Interval already %d minutes", res.Minutes)
		case res.Action == "interval":
			msg = fmt.Sprintf("Interval set to %d minutes", res.Minutes)
		case res.Action == "start" && res.Outcome == service.OutcomeAlreadyInState:
			msg = "Tracking already running"
		case res.Action == "start":
			msg = "Tracking started"
		case res.Outcome == service.OutcomeAlreadyInState:
			msg = "Tracking already stopped"
		default:
			msg = "Tracking stopped"
		}
		_, err := fmt.Fprintln(w, msg)
		return err
	})
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show tracking health",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			h, err := rootOpts.client(cmd).Health(cmd.Context())
			if err != nil {
				return requestError(f, "status", err)
			}
			return f.Render(h, func(w io.Writer) error {
				return writeHealth(w, h)
			})
		},
	}
}

func writeHealth(w io.Writer, h controlapi.HealthResponse) error {
	running := "no"
	if h.IsRunning {
		running = "yes"
	}
	last := "never"
	if !h.LastCaptureAt.IsZero() {
		last = h.LastCaptureAt.UTC().Format(time.RFC3339)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Running:\t%s\n", running)
	fmt.Fprintf(tw, "Status:\t%s\n", h.Status)
	fmt.Fprintf(tw, "Interval:\t%g min\n", h.IntervalMinutes)
	fmt.Fprintf(tw, "Last capture:\t%s\n", last)
	fmt.Fprintf(tw, "Locations:\t%d\n", h.LocationCount)
	if h.ErrorMessage != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", h.ErrorMessage)
	}
	return tw.Flush()
}
