package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var moveCmd = &cobra.Command{
	Use:   "move [id] [folder]",
	Short: "Move a note to another folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		n, err := ws.Engine.Move(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to move note: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Note %s moved to %s\n", n.ID, n.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(moveCmd)
}
