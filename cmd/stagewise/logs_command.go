package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"stagewise/internal/logging"
	"stagewise/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var taskID int64

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
			opts := logs.TailOptions{Offset: -1, Limit: lines}
			if taskID > 0 {
				opts.Filter = logs.TaskFilter(taskID)
			}
			out := cmd.OutOrStdout()
			for {
				result, err := logs.Tail(cmd.Context(), path, opts)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				for _, line := range result.Lines {
					fmt.Fprintln(out, line)
				}
				if !follow {
					return nil
				}
				opts.Offset = result.Offset
				opts.Follow = true
				opts.Wait = 5 * time.Second
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to print")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().Int64Var(&taskID, "task", 0, "Only print records for this task id")
	return cmd
}
