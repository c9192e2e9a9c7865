package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
)

func newDetectCmd() *cobra.Command {
	var (
		previousPath string
		minSeverity  string
	)

	cmd := &cobra.Command{
		Use:   "detect <current>",
		Short: "Evaluate alert rules against a snapshot without notifying or storing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var floor alert.Severity
			if minSeverity != "" {
				s, err := alert.ParseSeverity(minSeverity)
				if err != nil {
					return err
				}
				floor = s
			}

			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			var previous *snapshot.Snapshot
			if previousPath != "" {
				if previous, err = snapshot.LoadFile(previousPath); err != nil {
					return err
				}
			}
			current, err := snapshot.LoadFile(args[0])
			if err != nil {
				return err
			}

			rep, err := a.service.RunPair(cmd.Context(), previous, current)
			if err != nil {
				return err
			}

			alerts := rep.Alerts
			if floor != 0 {
				alerts = alert.AtLeast(alerts, floor)
			}

			out := cmd.OutOrStdout()
			if getOutputFormat() != "table" {
				return printOutput(out, alerts)
			}
			printAlerts(out, alerts)
			return nil
		},
	}

	cmd.Flags().StringVar(&previousPath, "previous", "", "previous snapshot file (omit for a baseline)")
	cmd.Flags().StringVar(&minSeverity, "min-severity", "", "only show alerts at or above this severity")

	return cmd
}

func printAlerts(w io.Writer, alerts []alert.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts.")
		return
	}

	table := NewTable(w, "SEVERITY", "CATEGORY", "ENTITY", "MESSAGE")
	for _, a := range alerts {
		entity := a.EntityID()
		if entity == "" {
			entity = "-"
		}
		table.AddRow(formatSeverity(a.Severity), string(a.Category), entity, truncate(a.Message, 80))
	}
	table.Render()

	s := alert.Summarize(alerts)
	fmt.Fprintf(w, "\n%d alert(s)", s.Total)
	for _, sev := range alert.AllSeverities() {
		if n := s.BySeverity[sev.String()]; n > 0 {
			fmt.Fprintf(w, ", %d %s", n, sev.String())
		}
	}
	fmt.Fprintln(w)
}
