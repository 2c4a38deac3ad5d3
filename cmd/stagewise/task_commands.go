package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stagewise/internal/ipc"
	"stagewise/internal/queueaccess"
)

func newTaskCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newAddCommand(ctx),
		newListCommand(ctx),
		newShowCommand(ctx),
		newRemoveCommand(ctx),
		newResumeCommand(ctx),
		newSuspendCommand(ctx),
		newFireCommand(ctx),
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "add <kind>",
		Short: "Queue a task of the given kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				task, err := access.Add(cmd.Context(), args[0], payload)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued task %d (%s) at %s\n", task.ID, task.Kind, task.Stage)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "Opaque payload handed to processors")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				tasks, err := access.List(cmd.Context(), statuses)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, tasks)
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Kind", "Stage", "Status", "Updated", "Error"},
					buildTaskRows(tasks),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

func buildTaskRows(tasks []ipc.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			strconv.FormatInt(task.ID, 10),
			task.Kind,
			task.Stage,
			statusLabel(task.Status),
			formatTime(task.UpdatedAt),
			truncate(task.ErrorMessage, 48),
		})
	}
	return rows
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task and its chain position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				resp, err := access.Show(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				task := resp.Task
				fmt.Fprintf(out, "Task %d\n", task.ID)
				fmt.Fprintf(out, "  Kind:     %s\n", task.Kind)
				fmt.Fprintf(out, "  Status:   %s\n", statusLabel(task.Status))
				fmt.Fprintf(out, "  Stage:    %s\n", task.Stage)
				fmt.Fprintf(out, "  Chain:    %s\n", renderChain(resp.Stages, task.Stage))
				if task.Payload != "" {
					fmt.Fprintf(out, "  Payload:  %s\n", task.Payload)
				}
				if task.ErrorMessage != "" {
					fmt.Fprintf(out, "  Error:    %s\n", task.ErrorMessage)
				}
				fmt.Fprintf(out, "  Created:  %s\n", formatTime(task.CreatedAt))
				fmt.Fprintf(out, "  Updated:  %s\n", formatTime(task.UpdatedAt))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}

// renderChain joins stage names and brackets the current one.
func renderChain(stages []string, current string) string {
	if len(stages) == 0 {
		return "(unknown kind)"
	}
	parts := make([]string, len(stages))
	for i, stage := range stages {
		if stage == current {
			stage = "[" + stage + "]"
		}
		parts[i] = stage
	}
	return strings.Join(parts, " -> ")
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Delete tasks that are not in flight",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				removed, err := access.Remove(cmd.Context(), ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d task(s)\n", removed)
				return nil
			})
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [id]...",
		Short: "Resume suspended or failed tasks (all when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withAccess(cmd, func(access queueaccess.Access) error {
				resumed, err := access.Resume(cmd.Context(), ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %d task(s)\n", resumed)
				return nil
			})
		},
	}
}

func newSuspendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "suspend <id>...",
		Short: "Ask the daemon to suspend running tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Suspend(ids)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, id := range resp.Requested {
					fmt.Fprintf(out, "Suspension requested for task %d\n", id)
				}
				for _, id := range resp.Pending {
					fmt.Fprintf(out, "Suspension already pending for task %d\n", id)
				}
				return nil
			})
		},
	}
}

func newFireCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fire",
		Short: "Run one fire cycle on the daemon now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Fire()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Fired %d task(s)\n", resp.Fired)
				return nil
			})
		},
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid task id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
