package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/wsaudit/internal/config"
	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate alert rules",
	}

	cmd.AddCommand(newRulesValidateCmd())
	cmd.AddCommand(newRulesDefaultsCmd())
	cmd.AddCommand(newRulesListCmd())

	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a rules file for errors",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rulesPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path = cfg.Audit.RulesPath
			}
			if path == "" {
				return fmt.Errorf("no rules file given")
			}

			set, err := config.LoadRuleSet(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rule(s), %d enabled\n", path, set.Len(), len(set.EnabledRules()))
			return nil
		},
	}
}

func newRulesDefaultsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in rules as a starting rules file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.MarshalRules(alert.DefaultRules(), format)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(data); err != nil {
				return err
			}
			if len(data) > 0 && data[len(data)-1] != '\n' {
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", config.FormatYAML, "file format: yaml or json")

	return cmd
}

func newRulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the active rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			set, err := config.LoadRuleSet(cfg.Audit.RulesPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat() != "table" {
				return printOutput(out, set.Rules())
			}
			printRules(out, set.Rules())
			return nil
		},
	}
}

func printRules(w io.Writer, rules []alert.Rule) {
	table := NewTable(w, "ID", "CATEGORY", "ENABLED", "THRESHOLD", "SEVERITY", "PARAMS")
	for _, r := range rules {
		table.AddRow(r.ID, string(r.Category), fmt.Sprintf("%t", r.Enabled),
			fmt.Sprintf("%g", r.Threshold), formatSeverity(r.Severity), formatParams(r.Params))
	}
	table.Render()
}

func formatParams(params map[string]float64) string {
	if len(params) == 0 {
		return "-"
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%g", name, params[name])
	}
	return strings.Join(parts, " ")
}
