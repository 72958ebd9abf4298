package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hanibalsk/trackd/internal/controlapi"
	"github.com/hanibalsk/trackd/internal/queue"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the upload queue",
	}
	cmd.AddCommand(newQueueStatsCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	cmd.AddCommand(newQueuePurgeCommand(rootOpts))
	return cmd
}

func newQueueStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stats",
		Short:         "Show queue counts by status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			stats, err := rootOpts.client(cmd).QueueStats(cmd.Context())
			if err != nil {
				return requestError(f, "queue stats", err)
			}
			return f.Render(stats, func(w io.Writer) error {
				return writeQueueStats(w, stats)
			})
		},
	}
}

func writeQueueStats(w io.Writer, s controlapi.QueueStatsResponse) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Pending:\t%d\n", s.Pending)
	fmt.Fprintf(tw, "Uploading:\t%d\n", s.Uploading)
	fmt.Fprintf(tw, "Retry pending:\t%d\n", s.RetryPending)
	fmt.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(tw, "Uploaded:\t%d\n", s.Uploaded)
	fmt.Fprintf(tw, "Total:\t%d\n", s.Total)
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d awaiting upload\n", s.NeedsUpload)
	return err
}

// RetryResult is the output of queue retry-failed.
type RetryResult struct {
	Reset int64 `json:"reset"`
}

func newQueueRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Requeue items that exhausted their retries",
		Long: `Reset every Failed queue item to Pending with a fresh retry budget.
The uploader picks them up on its next pass.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			n, err := rootOpts.client(cmd).RetryFailed(cmd.Context())
			if err != nil {
				return requestError(f, "retry-failed", err)
			}
			res := RetryResult{Reset: n}
			return f.Render(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Requeued %d failed item(s)\n", n)
				return err
			})
		},
	}
}

// PurgeResult is the output of queue purge.
type PurgeResult struct {
	Deleted   int64  `json:"deleted"`
	OlderThan string `json:"older_than"`
}

func newQueuePurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete uploaded items from the local database",
		Long: `Delete Uploaded queue items last attempted more than --older-than ago.
Items that are pending, retrying or failed are never purged.

Works on the database directly, so the agent need not be running.

Example:
  trackd queue purge --older-than 72h --db /var/lib/trackd/trackd.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return NewExitError(ExitCommandError, "--older-than must be positive")
			}
			f := rootOpts.formatter(cmd)

			st, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := queue.New(st, queue.Options{}).Purge(cmd.Context(), olderThan)
			if err != nil {
				return WrapExitError(ExitFailure, "purge failed", err)
			}
			res := PurgeResult{Deleted: n, OlderThan: olderThan.String()}
			return f.Render(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Purged %d uploaded item(s) older than %s\n", n, olderThan)
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", queue.DefaultRetention, "purge items uploaded before this long ago")
	return cmd
}
