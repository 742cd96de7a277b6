package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

var (
	resolveForce  bool
	resolveAccept bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "Resolve a sync conflict",
	Long: `Resolve the conflict of a note. --force writes the local content over
the metadata record and the repository file; --accept discards local edits
and keeps the remote side.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resolveForce == resolveAccept {
			return fmt.Errorf("exactly one of --force or --accept is required")
		}
		ctx := cmd.Context()
		id := args[0]

		ws, err := openWorkspace(ctx)
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		s, err := ws.Engine.Open(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to open note: %w", err)
		}
		// Flushing pending edits brings back the conflict of an earlier run.
		var ce *core.ConflictError
		if err := s.Sync(ctx); err != nil && !errors.As(err, &ce) {
			return err
		}

		if resolveAccept {
			n, err := ws.Engine.AcceptRemote(ctx, id)
			if errors.Is(err, core.ErrNoConflict) {
				fmt.Fprintf(cmd.OutOrStdout(), "Note %s has no conflict\n", id)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to accept remote: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Note %s now matches the remote (%s)\n", id, n.Path)
			return nil
		}

		n, err := ws.Engine.ForceOverwrite(ctx, s.Note())
		if err != nil {
			return fmt.Errorf("failed to force overwrite: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Note %s written to %s\n", id, n.Path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	resolveCmd.Flags().BoolVar(&resolveForce, "force", false, "Keep the local content")
	resolveCmd.Flags().BoolVar(&resolveAccept, "accept", false, "Keep the remote content")
}
