package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"avatarreel/internal/history"
	"avatarreel/internal/stage"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				runs, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				fmt.Fprintln(out, renderHistoryTable(runs, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultListLimit, "Maximum number of runs to show")
	cmd.AddCommand(newHistoryClearCommand(ctx))
	return cmd
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove finished runs from the history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(store *history.Store) error {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs\n", removed)
				return nil
			})
		},
	}
}

func renderHistoryTable(runs []*history.Run, now time.Time) string {
	headers := []string{"Run", "Started", "Status", "Engine", "Device", "Output", "Length", "Size", "Took", "Failure"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortRunID(run.RunID),
			humanize.RelTime(run.StartedAt, now, "ago", "from now"),
			string(run.Status),
			run.Engine,
			run.Device,
			displayPath(run.OutputPath),
			formatMediaDuration(run.MediaDuration),
			formatSize(run.SizeBytes),
			formatElapsed(run.Elapsed()),
			failureSummary(run),
		})
	}
	return renderTable("", headers, rows, aligns)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatMediaDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}

func formatSize(size int64) string {
	if size <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(size))
}

func formatElapsed(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func failureSummary(run *history.Run) string {
	if run.Status != history.StatusFailed {
		return ""
	}
	label := stage.Name(run.FailedStage).Label()
	if label == "" {
		label = "Run"
	}
	if run.ErrorKind == "" {
		return label
	}
	return fmt.Sprintf("%s: %s", label, run.ErrorKind)
}
