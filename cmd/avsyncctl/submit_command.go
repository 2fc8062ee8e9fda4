package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"avsync/internal/api"
	"avsync/internal/config"
	"avsync/internal/events"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload a video for synchronization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("inspect %q: %w", path, err)
			}
			if info.IsDir() {
				return fmt.Errorf("%q is a directory; submit a video file", path)
			}

			client := ctx.client()
			view, err := client.Submit(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Accepted %s as session %s (%s)\n", filepath.Base(path), view.ID, view.RefTag)
			if !watch {
				fmt.Fprintf(out, "Follow progress with `avsyncctl session events %s`\n", shortID(view.ID))
				return nil
			}
			return streamEvents(cmd, client, view.ID)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Stream session events until the session finishes")
	return cmd
}

func streamEvents(cmd *cobra.Command, client *api.Client, id string) error {
	ch, err := client.Watch(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for evt := range ch {
		fmt.Fprintln(out, formatEvent(evt))
		if evt.Type == events.TypeSucceeded || evt.Type == events.TypeFailed {
			return nil
		}
	}
	return cmd.Context().Err()
}

func formatEvent(evt events.Event) string {
	prefix := fmt.Sprintf("[%s] #%d", evt.Timestamp.Local().Format("15:04:05"), evt.Sequence)
	switch evt.Type {
	case events.TypeIterationCompleted:
		if evt.Iteration == nil {
			return fmt.Sprintf("%s pass completed", prefix)
		}
		it := evt.Iteration
		pass := it.Index + 1
		if it.OffsetMs == nil {
			return fmt.Sprintf("%s pass %d: no reading (cumulative %s)", prefix, pass, formatShift(it.CumulativeShiftMs))
		}
		return fmt.Sprintf("%s pass %d: offset %s, applied %s, cumulative %s",
			prefix, pass, formatShift(*it.OffsetMs), formatShift(it.AppliedShiftMs), formatShift(it.CumulativeShiftMs))
	case events.TypeStateChanged:
		return fmt.Sprintf("%s state: %s", prefix, statusLabel(evt.Status))
	case events.TypeSucceeded:
		return fmt.Sprintf("%s finished: %s", prefix, evt.Message)
	case events.TypeFailed:
		return fmt.Sprintf("%s failed: %s", prefix, evt.Message)
	default:
		return fmt.Sprintf("%s %s: %s", prefix, evt.Type, evt.Message)
	}
}
