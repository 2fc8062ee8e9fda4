package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"avsync/internal/api"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect synchronization sessions",
	}

	sessionCmd.AddCommand(newSessionListCommand(ctx))
	sessionCmd.AddCommand(newSessionShowCommand(ctx))
	sessionCmd.AddCommand(newSessionEventsCommand(ctx))

	return sessionCmd
}

func newSessionListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := ctx.client().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions")
				return nil
			}
			rows := make([][]string, 0, len(sessions))
			for _, sess := range sessions {
				rows = append(rows, []string{
					sess.ID,
					sess.SourceFilename,
					statusLabel(sess.Status),
					formatShift(sess.CumulativeShiftMs),
					formatTimestamp(sess.UpdatedAt),
				})
			}
			table := renderTable(
				[]tableColumn{textCol("ID"), textCol("File"), textCol("Status"), numericCol("Shift"), textCol("Updated")},
				rows,
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newSessionShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := ctx.client()
			sess, err := client.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			iterations, err := client.Iterations(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printSessionDetail(cmd, sess, iterations)
			return nil
		},
	}
}

func printSessionDetail(cmd *cobra.Command, sess api.SessionView, iterations []api.IterationView) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session:    %s (%s)\n", sess.ID, sess.RefTag)
	fmt.Fprintf(out, "File:       %s\n", sess.SourceFilename)
	fmt.Fprintf(out, "Status:     %s\n", statusLabel(sess.Status))
	if sess.TerminationReason != "" {
		fmt.Fprintf(out, "Outcome:    %s\n", statusLabel(sess.TerminationReason))
	}
	fmt.Fprintf(out, "Shift:      %s\n", formatShift(sess.CumulativeShiftMs))
	if sess.FailingStage != "" {
		fmt.Fprintf(out, "Failed in:  %s\n", statusLabel(sess.FailingStage))
	}
	if sess.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:      %s\n", sess.ErrorMessage)
	}
	if sess.ProgressMessage != "" {
		fmt.Fprintf(out, "Progress:   %s\n", sess.ProgressMessage)
	}
	fmt.Fprintf(out, "Created:    %s\n", formatTimestamp(sess.CreatedAt))
	fmt.Fprintf(out, "Updated:    %s\n", formatTimestamp(sess.UpdatedAt))

	if len(iterations) == 0 {
		return
	}
	rows := make([][]string, 0, len(iterations))
	for _, it := range iterations {
		rows = append(rows, []string{
			fmt.Sprintf("%d", it.Index+1),
			formatOffset(it.OffsetMs),
			fmt.Sprintf("%.2f", it.Confidence),
			formatShift(it.AppliedShiftMs),
		})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable(
		[]tableColumn{numericCol("Pass"), numericCol("Offset"), numericCol("Confidence"), numericCol("Applied")},
		rows,
	))
}

func newSessionEventsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "events <session-id>",
		Short: "Stream a session's event feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamEvents(cmd, ctx.client(), args[0])
		},
	}
}
