package main

import (
	"github.com/aretw0/introspection"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the state of the engine and its stores as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ws, err := openWorkspace(ctx)
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		unsynced, err := ws.Engine.Unsynced(ctx)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(unsynced))
		for _, e := range unsynced {
			ids = append(ids, e.ID)
		}

		components := map[string]any{}
		for _, c := range []any{ws.Engine, ws.Cache, ws.Repository} {
			in, ok := c.(introspection.Introspectable)
			if !ok {
				continue
			}
			name := "component"
			if comp, ok := c.(introspection.Component); ok {
				name = comp.ComponentType()
			}
			components[name] = in.State()
		}

		return printJSON(cmd, struct {
			Root       string         `json:"root"`
			Online     bool           `json:"online"`
			Unsynced   []string       `json:"unsynced"`
			Components map[string]any `json:"components"`
		}{ws.Root, ws.Engine.Online(), ids, components})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
