package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"court-availability-etl/etl"

	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		kind string
		file string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ETL for courts, availability, or both",
		Long: `Run registers the input file, validates it, replaces the staging table and
merges it into the warehouse in one transaction.

Without --file, courts come from inputs.courts and availability from the newest
file matching inputs.availability.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(ctx context.Context, p *etl.Pipeline) error {
				reports, err := runSelected(ctx, p, kind, file)
				printReports(cmd.OutOrStdout(), reports)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "both", "What to load: courts, availability, both")
	cmd.Flags().StringVar(&file, "file", "", "Availability CSV to load instead of the newest match")

	return cmd
}

func runSelected(ctx context.Context, p *etl.Pipeline, kind string, file string) ([]etl.RunReport, error) {
	if strings.TrimSpace(file) == "" {
		return p.RunETL(ctx, kind)
	}
	k, err := etl.ParseKind(kind)
	if err != nil || k != etl.KindAvailability {
		return nil, fmt.Errorf("%w: --file requires --kind availability", etl.ErrInvalidSelector)
	}
	rep, err := p.RunAvailabilityETL(ctx, file)
	return []etl.RunReport{rep}, err
}

func printReports(w io.Writer, reports []etl.RunReport) {
	for _, r := range reports {
		if r.FileID == 0 {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\tfile=%d\tstatus=%s\trows=%d\tinserted=%d\tupdated=%d\tunchanged=%d\trun=%s\n",
			r.Kind, r.Path, r.FileID, r.Status, r.Rows,
			r.Merge.Inserted, r.Merge.Updated, r.Merge.Unchanged, r.RunID)
		if r.QuarantinedTo != "" {
			fmt.Fprintf(w, "%s\tmoved to %s\n", r.Kind, r.QuarantinedTo)
		}
	}
}
