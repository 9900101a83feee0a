package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"flowsight/internal/coordinator"
	api "flowsight/pkg/api/lookout"
	lookoutclient "flowsight/pkg/clients/lookout"
	"flowsight/pkg/logging"
)

func newLookoutClient() *lookoutclient.Client {
	logger := logging.NewNopLogger()
	if verbose {
		logger = logging.NewLoggerWithService("flowctl")
	}
	return lookoutclient.NewClient(lookoutclient.Config{
		BaseURL:   viper.GetString("server"),
		AuthToken: viper.GetString("token"),
		Logger:    logger,
	})
}

func newReportsCmd() *cobra.Command {
	reportsCmd := &cobra.Command{
		Use:   "reports",
		Short: "Generate and manage flow reports",
	}

	reportsCmd.AddCommand(newReportsGenerateCmd())
	reportsCmd.AddCommand(newReportsListCmd())
	reportsCmd.AddCommand(newReportsArchiveCmd())
	reportsCmd.AddCommand(newReportsRestoreCmd())
	reportsCmd.AddCommand(newReportsDeleteCmd())

	return reportsCmd
}

// cliNotifier prints generation outcomes to the terminal.
type cliNotifier struct {
	cmd  *cobra.Command
	done chan struct{}
}

func (n *cliNotifier) Success(message string) {
	fmt.Fprintln(n.cmd.OutOrStdout(), message)
	close(n.done)
}

func (n *cliNotifier) Warning(message string) {
	fmt.Fprintln(n.cmd.OutOrStdout(), message)
	close(n.done)
}

func (n *cliNotifier) Error(message string) {
	// Rejections surface through the command's returned error instead
}

func newReportsGenerateCmd() *cobra.Command {
	var (
		hours int
		name  string
		wait  bool
	)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Trigger generation of a new flow report",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newLookoutClient()

			notifier := &cliNotifier{cmd: cmd, done: make(chan struct{})}
			coord := coordinator.New(coordinator.Config{
				Client:           client,
				Notifier:         notifier,
				PollInterval:     coordinator.DefaultPollInterval,
				MaxPolls:         coordinator.DefaultMaxPolls,
				FastRefreshDelay: coordinator.DefaultFastRefreshDelay,
			})
			defer coord.Close()

			// Baseline the current listing so only a genuinely new
			// report counts as our result
			if err := coord.RefreshListing(cmd.Context()); err != nil {
				return fmt.Errorf("failed to fetch current reports: %w", err)
			}

			title := name
			if title == "" {
				title = fmt.Sprintf("Flow report (last %dh)", hours)
			}

			request := api.CreateReportRequest{DurationHours: hours}
			if name != "" {
				request.ReportName = name
			}

			if err := coord.Generate(cmd.Context(), request, title); err != nil {
				var rejected *coordinator.CreationRejectedError
				if errors.As(err, &rejected) {
					return errors.New(rejected.Reason)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Report generation started")
			if !wait {
				return nil
			}

			select {
			case <-notifier.done:
				return nil
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		},
	}

	generateCmd.Flags().IntVar(&hours, "hours", 24, "traffic window to cover, in hours")
	generateCmd.Flags().StringVar(&name, "name", "", "custom report name")
	generateCmd.Flags().BoolVar(&wait, "wait", true, "wait for the report to complete")

	return generateCmd
}

func newReportsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			listing, err := newLookoutClient().ListReports(ctx)
			if err != nil {
				return err
			}
			flat := listing.Flatten()

			if output == "json" {
				payload, err := json.MarshalIndent(flat, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(payload))
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tDATE\tRISK\tFLOWS\tSIZE")
			for _, r := range flat {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Status, r.Title, r.Date, r.RiskLevel, r.FlowsAnalyzed, r.Size)
			}
			return w.Flush()
		},
	}
}

func newReportsArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <report-id>",
		Short: "Archive a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newLookoutClient().ArchiveReport(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Report archived")
			return nil
		},
	}
}

func newReportsRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <report-id>",
		Short: "Restore an archived report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newLookoutClient().RestoreReport(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Report restored")
			return nil
		},
	}
}

func newReportsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <report-id>",
		Short: "Permanently delete a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newLookoutClient().DeleteReport(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Report deleted")
			return nil
		},
	}
}
