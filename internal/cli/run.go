package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/report"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
)

func newRunCmd() *cobra.Command {
	var (
		pairPath string
		noNotify bool
		failOn   string
	)

	cmd := &cobra.Command{
		Use:   "run [snapshot]",
		Short: "Run the full audit pipeline and notify configured channels",
		Long: `Diff the snapshot against the latest stored capture, evaluate the alert
rules, notify every configured channel, and record the run in history.

Without a snapshot argument the newest document in the spool directory is
used. With --pair the given previous file is used instead of history and
nothing is stored.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var threshold alert.Severity
			if failOn != "" {
				s, err := alert.ParseSeverity(failOn)
				if err != nil {
					return err
				}
				threshold = s
			}
			if pairPath != "" && len(args) == 0 {
				return fmt.Errorf("--pair requires a current snapshot argument")
			}

			a, err := newApp(appOptions{store: pairPath == "", notify: !noNotify})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			var rep *report.RunReport
			switch {
			case pairPath != "":
				previous, current, err := loadPair([]string{pairPath, args[0]})
				if err != nil {
					return err
				}
				rep, err = a.service.RunPair(ctx, previous, current)
				if err != nil {
					return err
				}
			case len(args) == 1:
				current, err := snapshot.LoadFile(args[0])
				if err != nil {
					return err
				}
				if rep, err = a.service.Run(ctx, current); err != nil {
					return err
				}
			default:
				collector := snapshot.NewFileCollector(a.cfg.Audit.SpoolDir)
				if rep, err = a.service.Collect(ctx, collector, report.TriggerManual); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if getOutputFormat() != "table" {
				if err := printOutput(out, rep); err != nil {
					return err
				}
			} else {
				printRunReport(out, rep)
			}

			if threshold != 0 {
				if top := alert.Highest(rep.Alerts); top >= threshold {
					return fmt.Errorf("run %s raised %s alerts", rep.ID, top.String())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pairPath, "pair", "", "previous snapshot file; compare against it instead of history")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "do not send notifications")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "exit non-zero when an alert at or above this severity is raised")

	return cmd
}

func printRunReport(w io.Writer, rep *report.RunReport) {
	h := report.HeaderOf(rep)
	fmt.Fprintf(w, "Run:      %s\n", rep.ID)
	fmt.Fprintf(w, "Trigger:  %s\n", rep.Trigger)
	fmt.Fprintf(w, "Started:  %s\n", formatWhen(rep.StartedAt, time.Now()))
	fmt.Fprintf(w, "Duration: %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	if h.Baseline {
		fmt.Fprintln(w, "Baseline: yes (no previous capture)")
	}
	if rep.Diff != nil {
		c := rep.Diff.Counts()
		fmt.Fprintf(w, "Changes:  users +%d -%d ~%d, channels +%d -%d ~%d\n",
			c.UsersAdded, c.UsersRemoved, c.UsersModified,
			c.ChannelsAdded, c.ChannelsRemoved, c.ChannelsModified)
	}
	fmt.Fprintln(w)

	printAlerts(w, rep.Alerts)

	if len(rep.Deliveries) > 0 {
		fmt.Fprintln(w)
		table := NewTable(w, "OBSERVER", "STATUS", "ERROR")
		for _, d := range rep.Deliveries {
			table.AddRow(d.ObserverID, formatDelivery(d.Success), truncate(d.Error, 60))
		}
		table.Render()
	}
}
