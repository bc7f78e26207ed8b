package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupDays int

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one document sync and exit",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove documents not refreshed within the retention window",
	Long: `Delete documents whose last sync is older than --days from both the
vector index and the metadata store.

Examples:
  askverse cleanup             # use sync.retention_days from config
  askverse cleanup --days 7    # remove documents not synced in a week`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention window in days (default: sync.retention_days)")
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := initRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sc, err := initSources(rt)
	if err != nil {
		return err
	}
	svc := initDocSync(rt, sc)
	if svc == nil {
		return fmt.Errorf("confluence is disabled; nothing to sync")
	}

	report, err := svc.Run(ctx)
	if report != nil {
		rec := report.Record
		fmt.Fprintf(cmd.OutOrStdout(), "sync %s: %s, %d/%d documents indexed, %d failed\n",
			rec.ID, rec.Status, rec.DocumentsProcessed, report.Total, rec.DocumentsFailed)
		for _, line := range rec.ErrorLog {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", line)
		}
	}
	return err
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	rt, err := initRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	days := cleanupDays
	if days == 0 {
		days = rt.Config.Sync.RetentionDays
	}

	sc, err := initSources(rt)
	if err != nil {
		return err
	}
	svc := initDocSync(rt, sc)
	if svc == nil {
		return fmt.Errorf("confluence is disabled; nothing to clean up")
	}
	n, err := svc.Cleanup(ctx, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d documents older than %d days\n", n, days)
	return nil
}
