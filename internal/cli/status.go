package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pratik-mahalle/wsaudit/pkg/client"
)

func newStatusCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running wsaudit server",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := viper.GetString("server_url")
			if serverURL != "" {
				url = serverURL
			}
			c := client.NewClient(client.Config{BaseURL: url, Timeout: 10 * time.Second})
			ctx := cmd.Context()

			ready, err := c.Ready(ctx)
			if err != nil {
				return fmt.Errorf("server at %s is not ready: %w", url, err)
			}
			summary, err := c.Alerts().Summary(ctx)
			if err != nil {
				return err
			}
			runs, err := c.Reports().List(ctx, &client.ListOptions{Page: 1, PageSize: 5})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat() != "table" {
				return printOutput(out, map[string]interface{}{
					"server":      url,
					"status":      ready.Status,
					"database":    ready.Database,
					"alerts":      summary,
					"recent_runs": runs.Data,
					"total_runs":  runs.TotalItems,
				})
			}

			fmt.Fprintln(out, "wsaudit server")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "  Server:    %s\n", url)
			fmt.Fprintf(out, "  Status:    %s (database %s)\n", ready.Status, ready.Database)
			fmt.Fprintf(out, "  Runs:      %d recorded\n", runs.TotalItems)
			fmt.Fprintf(out, "  Alerts:    %d stored (%d critical, %d warning, %d info)\n\n", summary.Total,
				summary.BySeverity["critical"], summary.BySeverity["warning"], summary.BySeverity["info"])

			if len(runs.Data) == 0 {
				return nil
			}
			now := time.Now()
			table := NewTable(out, "RUN", "TRIGGER", "STARTED", "ALERTS", "HIGHEST")
			for _, r := range runs.Data {
				highest := r.HighestSeverity
				if highest == "" {
					highest = "-"
				}
				table.AddRow(r.ID, r.Trigger, formatWhen(r.StartedAt, now), fmt.Sprintf("%d", r.AlertCount), highest)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "server URL (overrides server_url in the config file)")

	return cmd
}
