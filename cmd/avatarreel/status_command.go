package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"avatarreel/internal/config"
	"avatarreel/internal/deps"
	"avatarreel/internal/device"
	"avatarreel/internal/history"
	"avatarreel/internal/preflight"
)

const statusProbeTimeout = 10 * time.Second

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check external tools, engine checkpoints, directories, and devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			probeCtx, cancel := context.WithTimeout(cmd.Context(), statusProbeTimeout)
			defer cancel()

			out := cmd.OutOrStdout()
			colorize := isTerminal(out)
			var lines []string
			failures := 0

			tools := append(preflight.CheckSystemDeps(cfg), preflight.CheckEncoders(probeCtx, cfg)...)
			lines = append(lines, renderSectionHeader("Tools", colorize)...)
			lines = append(lines, dependencyLines(tools, colorize)...)
			failures += len(deps.Missing(tools))

			engines := preflight.CheckEngines(cfg)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Engines", colorize)...)
			lines = append(lines, dependencyLines(engines, colorize)...)
			failures += len(deps.Missing(engines))

			checks := preflight.RunAll(probeCtx, cfg)
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Environment", colorize)...)
			for _, check := range checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			failures += len(preflight.Failed(checks))

			report := preflight.DetectDevices(probeCtx, cfg, device.NewSystemProber())
			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Device", colorize)...)
			if report.Selected == "" {
				lines = append(lines, renderStatusLine("Compute device", statusError, report.Detail, colorize))
				failures++
			} else {
				lines = append(lines, renderStatusLine("Compute device", statusOK, report.Detail, colorize))
			}
			lines = append(lines, renderStatusLine("Exclusive lease", statusInfo, yesNo(cfg.Device.ExclusiveLease), colorize))

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Runs", colorize)...)
			lines = append(lines, historyStatusLine(cmd.Context(), cfg, colorize))

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			if strict && failures > 0 {
				return fmt.Errorf("%d required checks failed", failures)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when a required check fails")
	return cmd
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses))
	for _, status := range statuses {
		message := status.Command
		if status.Detail != "" {
			message = status.Detail
		}
		if !status.Available && status.Description != "" {
			message = fmt.Sprintf("%s (%s)", message, status.Description)
		}
		lines = append(lines, renderStatusLine(status.Name, dependencyKind(status.Available, status.Optional), message, colorize))
	}
	return lines
}

func historyStatusLine(ctx context.Context, cfg *config.Config, colorize bool) string {
	store, err := history.Open(cfg)
	if err != nil {
		return renderStatusLine("History", statusWarn, err.Error(), colorize)
	}
	defer store.Close()
	summary, err := store.Summarize(ctx)
	if err != nil {
		return renderStatusLine("History", statusWarn, err.Error(), colorize)
	}
	message := fmt.Sprintf("%d runs (%d succeeded, %d failed, %d running)",
		summary.Total, summary.Succeeded, summary.Failed, summary.Running)
	return renderStatusLine("History", statusInfo, message, colorize)
}
