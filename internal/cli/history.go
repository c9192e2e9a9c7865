package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/utils"
	"github.com/pratik-mahalle/wsaudit/internal/repository/sqlstore"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse stored audit runs and alerts",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryAlertsCmd())

	return cmd
}

// withStore opens the history database for the duration of fn.
func withStore(fn func(db *sqlstore.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func newHistoryListCmd() *cobra.Command {
	var page, pageSize int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := utils.NewPaginationParams(page, pageSize)
			return withStore(func(db *sqlstore.DB) error {
				headers, total, err := sqlstore.NewReportRepository(db).
					ListWithPagination(cmd.Context(), params.PageSize, params.Offset)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if getOutputFormat() != "table" {
					return printOutput(out, utils.NewPaginatedResponse(headers, params.Page, params.PageSize, total))
				}
				if len(headers) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}

				now := time.Now()
				table := NewTable(out, "RUN", "TRIGGER", "STARTED", "BASELINE", "ALERTS", "HIGHEST", "FAILED")
				for _, h := range headers {
					highest := "-"
					if h.HighestSeverity != "" {
						highest = h.HighestSeverity
					}
					table.AddRow(h.ID, h.Trigger, formatWhen(h.StartedAt, now), fmt.Sprintf("%t", h.Baseline),
						fmt.Sprintf("%d", h.AlertCount), highest, fmt.Sprintf("%d", h.FailedDeliveries))
				}
				table.Render()
				fmt.Fprintf(out, "\nPage %d, %d of %d run(s)\n", params.Page, len(headers), total)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "runs per page")

	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored run report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(db *sqlstore.DB) error {
				rep, err := sqlstore.NewReportRepository(db).GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if getOutputFormat() != "table" {
					return printOutput(out, rep)
				}
				printRunReport(out, rep)
				return nil
			})
		},
	}
}

func newHistoryAlertsCmd() *cobra.Command {
	var (
		runID    string
		severity string
		category string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List stored alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter alert.Filter
			if severity != "" {
				s, err := alert.ParseSeverity(severity)
				if err != nil {
					return err
				}
				filter.Severity = s
			}
			filter.Category = alert.Category(category)

			return withStore(func(db *sqlstore.DB) error {
				repo := sqlstore.NewAlertRepository(db)

				var records []*alert.Record
				var err error
				if runID != "" {
					records, err = repo.ListByRun(cmd.Context(), runID)
					records = filterRecords(records, filter)
				} else {
					records, _, err = repo.ListWithPagination(cmd.Context(), filter, limit, 0)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if getOutputFormat() != "table" {
					return printOutput(out, records)
				}
				printRecords(out, records)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "only alerts raised by this run")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum alerts to show")

	return cmd
}

func filterRecords(records []*alert.Record, f alert.Filter) []*alert.Record {
	out := make([]*alert.Record, 0, len(records))
	for _, r := range records {
		if f.Match(r.Alert) {
			out = append(out, r)
		}
	}
	return out
}

func printRecords(w io.Writer, records []*alert.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No alerts.")
		return
	}
	now := time.Now()
	table := NewTable(w, "RUN", "DETECTED", "SEVERITY", "CATEGORY", "MESSAGE")
	for _, r := range records {
		table.AddRow(truncate(r.RunID, 8), formatWhen(r.DetectedAt, now), formatSeverity(r.Severity),
			string(r.Category), truncate(r.Message, 70))
	}
	table.Render()
}
