package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"stagewise/internal/daemonctl"
	"stagewise/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, engine, and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, snap)
			}
			out := cmd.OutOrStdout()
			renderStatus(out, snap, shouldColorize(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func renderStatus(out io.Writer, snap *daemonctl.Snapshot, colorize bool) {
	lines := renderSectionHeader("System", colorize)
	for _, check := range snap.SystemChecks {
		lines = append(lines, renderStatusLine(check.Label, parseSeverity(check.Severity), check.Detail, colorize))
	}

	if snap.Running {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Engine", colorize)...)
		lines = append(lines,
			renderStatusLine("Fired", statusInfo, strconv.FormatInt(snap.Engine.Fired, 10), colorize),
			renderStatusLine("Completed", statusInfo, strconv.FormatInt(snap.Engine.Completed, 10), colorize),
			renderStatusLine("Suspended", statusInfo, strconv.FormatInt(snap.Engine.Suspended, 10), colorize),
			renderStatusLine("Failed", statusInfo, strconv.FormatInt(snap.Engine.Failed, 10), colorize),
			renderStatusLine("Running", statusInfo, formatIDs(snap.RunningTasks), colorize),
		)
		if !snap.LastFire.IsZero() {
			lines = append(lines, renderStatusLine("Last fire", statusInfo, formatTime(snap.LastFire), colorize))
		}
		for _, p := range snap.Processors {
			kind := statusOK
			detail := "Ready"
			if !p.Ready {
				kind = statusError
				detail = p.Detail
			}
			lines = append(lines, renderStatusLine("Processor "+p.Name, kind, detail, colorize))
		}
	}
	if snap.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, snap.LastError, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Tasks", colorize)...)
	fmt.Fprintln(out, strings.Join(lines, "\n"))
	rows := buildStatsRows(snap.TaskStats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No tasks")
		return
	}
	fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func buildStatsRows(stats map[string]int) [][]string {
	var rows [][]string
	for _, status := range queue.AllStatuses() {
		if count := stats[string(status)]; count > 0 {
			rows = append(rows, []string{statusLabel(string(status)), strconv.Itoa(count)})
		}
	}
	return rows
}

func formatIDs(ids []int64) string {
	if len(ids) == 0 {
		return "none"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
