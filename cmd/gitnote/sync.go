package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Flush unsynced notes and exchange changes with the repository remote",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ws, err := openWorkspace(ctx)
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		sessions, err := ws.Engine.Resume(ctx)
		if err != nil {
			return err
		}
		slog.Debug("resumed unsynced notes", "count", len(sessions))

		if err := ws.Engine.Sync(ctx); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced %d note(s)\n", len(sessions))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
