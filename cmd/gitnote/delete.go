package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a note from every tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		if err := ws.Engine.Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to delete note: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Note %s deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
