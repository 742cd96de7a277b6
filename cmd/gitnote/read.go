package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

var readJSON bool

var readCmd = &cobra.Command{
	Use:   "read [id]",
	Short: "Print a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		n, confirmedAt, err := ws.Engine.LoadNote(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to read note: %w", err)
		}

		if readJSON {
			return printJSON(cmd, struct {
				Note        any   `json:"note"`
				ConfirmedAt int64 `json:"confirmedAt"`
			}{n, confirmedAt.UnixMilli()})
		}

		_, err = cmd.OutOrStdout().Write(notefile.Encode(notefile.FromNote(n, n.CreatedAt, n.UpdatedAt)))
		return err
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().BoolVar(&readJSON, "json", false, "Output in JSON format")
}
