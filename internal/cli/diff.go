package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/wsaudit/internal/domain/drift"
	"github.com/pratik-mahalle/wsaudit/internal/domain/snapshot"
)

func newDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <previous> [current]",
		Short: "Show what changed between two snapshot files",
		Long: `Compare two snapshot documents and print added, removed, and modified
users and channels plus the storage delta. With a single file the snapshot is
treated as a baseline and every entity is reported as added.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			engine, err := newDiffEngine(cfg.Audit)
			if err != nil {
				return err
			}

			previous, current, err := loadPair(args)
			if err != nil {
				return err
			}

			result, err := engine.Diff(previous, current)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if getOutputFormat() != "table" {
				return printOutput(out, result)
			}
			printDiff(out, result)
			return nil
		},
	}
}

// loadPair reads [previous] current from args. One argument means no previous.
func loadPair(args []string) (*snapshot.Snapshot, *snapshot.Snapshot, error) {
	if len(args) == 1 {
		current, err := snapshot.LoadFile(args[0])
		return nil, current, err
	}
	previous, err := snapshot.LoadFile(args[0])
	if err != nil {
		return nil, nil, err
	}
	current, err := snapshot.LoadFile(args[1])
	if err != nil {
		return nil, nil, err
	}
	return previous, current, nil
}

func printDiff(w io.Writer, d *drift.Result) {
	c := d.Counts()
	if d.Baseline || d.PreviousCapturedAt == nil {
		fmt.Fprintf(w, "Baseline capture at %s\n", d.CurrentCapturedAt.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Fprintf(w, "Changes from %s to %s\n",
			d.PreviousCapturedAt.Format("2006-01-02 15:04:05 MST"),
			d.CurrentCapturedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(w, "Users:    +%d -%d ~%d\n", c.UsersAdded, c.UsersRemoved, c.UsersModified)
	fmt.Fprintf(w, "Channels: +%d -%d ~%d\n", c.ChannelsAdded, c.ChannelsRemoved, c.ChannelsModified)
	fmt.Fprintf(w, "Storage:  %s -> %s (%+.2f%%)\n\n",
		formatBytes(d.Storage.PreviousUsed), formatBytes(d.Storage.CurrentUsed), d.Storage.PercentDelta)

	if d.Empty() {
		fmt.Fprintln(w, "No changes.")
		return
	}

	table := NewTable(w, "KIND", "CHANGE", "ID", "NAME", "DETAILS")
	for _, u := range d.Users.Added {
		table.AddRow("user", "added", u.ID, truncate(u.DisplayName, 30), u.Email)
	}
	for _, u := range d.Users.Removed {
		table.AddRow("user", "removed", u.ID, truncate(u.DisplayName, 30), u.Email)
	}
	for _, u := range d.Users.Modified {
		table.AddRow("user", "modified", u.ID, truncate(u.New.DisplayName, 30), describeChanges(u.Changes))
	}
	for _, ch := range d.Channels.Added {
		table.AddRow("channel", "added", ch.ID, truncate(ch.Name, 30), "")
	}
	for _, ch := range d.Channels.Removed {
		table.AddRow("channel", "removed", ch.ID, truncate(ch.Name, 30), "")
	}
	for _, ch := range d.Channels.Modified {
		table.AddRow("channel", "modified", ch.ID, truncate(ch.New.Name, 30), describeChanges(ch.Changes))
	}
	table.Render()
}

func describeChanges(changes []drift.FieldChange) string {
	parts := make([]string, 0, len(changes))
	for _, ch := range changes {
		if ch.Field == drift.FieldMembers {
			parts = append(parts, "members changed")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v -> %v", ch.Field, ch.Old, ch.New))
	}
	return truncate(strings.Join(parts, ", "), 80)
}
