package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"avsync/internal/config"
)

func newResultCommand(ctx *commandContext) *cobra.Command {
	var targetDir string

	cmd := &cobra.Command{
		Use:   "result <session-id>",
		Short: "Download a finished session's corrected video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := strings.TrimSpace(targetDir)
			if dir == "" {
				dir = "."
			} else {
				expanded, err := config.ExpandPath(dir)
				if err != nil {
					return fmt.Errorf("resolve target directory: %w", err)
				}
				dir = expanded
			}

			path, err := ctx.client().Download(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetDir, "dir", "d", "", "Directory to save the download into (default current directory)")
	return cmd
}
