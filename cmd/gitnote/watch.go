package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YusukeImai797/Gitnote/pkg/adapters/lifecycle"
	"github.com/YusukeImai797/Gitnote/pkg/engine"
)

var watchNote string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep unsynced notes flushing and print sync events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ws, err := openWorkspace(ctx)
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		var filter func(engine.Event) bool
		if watchNote != "" {
			filter = func(e engine.Event) bool { return e.NoteID == watchNote }
		}
		src := lifecycle.NewSource(ws.Engine.Events(), filter)
		if err := src.Start(ctx); err != nil {
			return err
		}

		if _, err := ws.Engine.Resume(ctx); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for e := range src.Events() {
			fmt.Fprintln(out, watchLine(e))
		}
		return nil
	},
}

// watchLine renders one event; edits from another session stand out.
func watchLine(e fmt.Stringer) string {
	ev, ok := e.(engine.Event)
	if ok && ev.Type == engine.EventEditing {
		return fmt.Sprintf("warning: note %s is also being edited in session %s", ev.NoteID, ev.Session)
	}
	return e.String()
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchNote, "note", "", "Only print events of this note")
}
