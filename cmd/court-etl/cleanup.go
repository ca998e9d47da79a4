package main

import (
	"context"
	"fmt"

	"court-availability-etl/etl"

	"github.com/spf13/cobra"
)

func newCleanupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run retention",
	}

	cmd.AddCommand(newCleanupAvailabilityCmd(a))
	cmd.AddCommand(newCleanupFilesCmd(a))

	return cmd
}

func newCleanupAvailabilityCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "availability",
		Short: "Delete warehouse slots dated before today",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(ctx context.Context, p *etl.Pipeline) error {
				n, err := p.CleanupOldAvailability(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired slots\n", n)
				return nil
			})
		},
	}
}

func newCleanupFilesCmd(a *app) *cobra.Command {
	var (
		days          int
		includeFailed bool
	)

	cmd := &cobra.Command{
		Use:   "files",
		Short: "Delete old file records and their files",
		Long: `Delete processed file records older than --days together with the files
they point to. Pending records are never touched. Failed records are included
only with --include-failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days") {
				days = a.cfg.Retention.FileDays
			}
			if !cmd.Flags().Changed("include-failed") {
				includeFailed = a.cfg.Retention.IncludeFailed
			}
			return a.withPipeline(cmd.Context(), func(ctx context.Context, p *etl.Pipeline) error {
				n, err := p.CleanupProcessedFiles(ctx, days, includeFailed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d file records\n", n)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", etl.DefaultFileRetentionDays, "Age in days after which records are removed (overrides retention.file_days)")
	cmd.Flags().BoolVar(&includeFailed, "include-failed", false, "Also remove failed records (overrides retention.include_failed)")

	return cmd
}
