package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/lcf-connectors/internal/history"
)

type reportFlags struct {
	activities []string
	since      time.Duration
	entity     string
	result     string
	sort       string
	limit      int
	offset     int
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Reports on and prunes connection activity history",
	}
	cmd.AddCommand(newHistoryReportCmd(), newHistoryCleanupCmd())
	return cmd
}

func newHistoryReportCmd() *cobra.Command {
	var f reportFlags
	cmd := &cobra.Command{
		Use:   "report CONNECTION",
		Short: "Lists the history rows of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryReport(cmd, args[0], f)
		},
	}
	cmd.Flags().StringSliceVar(&f.activities, "activity", nil, "activity types to include (default all)")
	cmd.Flags().DurationVar(&f.since, "since", 0, "only rows that started within this window, e.g. 24h")
	cmd.Flags().StringVar(&f.entity, "entity", "", "regular expression the entity id must match")
	cmd.Flags().StringVar(&f.result, "result", "", "regular expression the result code must match")
	cmd.Flags().StringVar(&f.sort, "sort", "-starttime", "sort columns, e.g. -bytes,identifier")
	cmd.Flags().IntVar(&f.limit, "limit", 50, "maximum rows")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "rows to skip")
	return cmd
}

func (f reportFlags) criteria(now time.Time) history.FilterCriteria {
	var c history.FilterCriteria
	if len(f.activities) > 0 {
		c.Activities = f.activities
	}
	if f.since > 0 {
		start := now.Add(-f.since)
		c.StartTime = &start
	}
	if f.entity != "" {
		c.EntityMatch = &history.RegexpClause{Pattern: f.entity}
	}
	if f.result != "" {
		c.ResultCodeMatch = &history.RegexpClause{Pattern: f.result}
	}
	return c
}

func runHistoryReport(cmd *cobra.Command, connection string, f reportFlags) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := a.Connections.Load(cmd.Context(), connection); err != nil {
		return err
	}
	order := history.ParseSortOrder(f.sort)
	if err := order.Validate(history.SimpleSortable); err != nil {
		return err
	}
	criteria := f.criteria(time.Now())
	total, err := a.Connections.CountHistoryRows(cmd.Context(), connection, criteria)
	if err != nil {
		return err
	}
	rows, err := a.Connections.SimpleHistoryReport(cmd.Context(), connection, criteria, order, f.offset, f.limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tACTIVITY\tELAPSED\tRESULT\tBYTES\tIDENTIFIER")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartTime.Format(time.RFC3339),
			r.Activity,
			r.ElapsedTime.Round(time.Millisecond),
			r.ResultCode,
			humanize.IBytes(uint64(max(r.Bytes, 0))),
			r.Identifier,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s of %s rows\n", humanize.Comma(int64(len(rows))), humanize.Comma(total))
	return nil
}

func newHistoryCleanupCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Deletes history older than --older-than (default history.retention_days)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			window := olderThan
			if window <= 0 {
				window = a.Config.Retention()
			}
			if window <= 0 {
				return fmt.Errorf("no retention configured; pass --older-than")
			}
			cutoff := time.Now().Add(-window)
			n, err := a.Connections.CleanUpHistoryData(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s rows older than %s\n", humanize.Comma(n), humanize.Time(cutoff))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age of the oldest row to keep, e.g. 720h")
	return cmd
}
