package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and session counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			health, err := ctx.client().Health(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon:   %s\n", statusLabel(health.Status))
			fmt.Fprintf(out, "Workflow: %s\n", runningLabel(health.Running))
			if health.Error != "" {
				fmt.Fprintf(out, "Error:    %s\n", health.Error)
			}

			sessions := health.Sessions
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable(
				[]tableColumn{textCol("Sessions"), numericCol("Count")},
				[][]string{
					{"Waiting", fmt.Sprintf("%d", sessions.Waiting)},
					{"Processing", fmt.Sprintf("%d", sessions.Processing)},
					{"Completed", fmt.Sprintf("%d", sessions.Completed)},
					{"Failed", fmt.Sprintf("%d", sessions.Failed)},
					{"Total", fmt.Sprintf("%d", sessions.Total)},
				},
			))

			if len(health.Stages) == 0 {
				return nil
			}
			names := make([]string, 0, len(health.Stages))
			for name := range health.Stages {
				names = append(names, name)
			}
			sort.Strings(names)
			rows := make([][]string, 0, len(names))
			for _, name := range names {
				stage := health.Stages[name]
				rows = append(rows, []string{statusLabel(name), readyLabel(stage.Ready), stage.Detail})
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable(
				[]tableColumn{textCol("Stage"), textCol("Ready"), textCol("Detail")},
				rows,
			))
			return nil
		},
	}
}

func runningLabel(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

func readyLabel(ready bool) string {
	if ready {
		return "yes"
	}
	return "no"
}
