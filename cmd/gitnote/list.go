package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

var (
	listJSON     bool
	listUnsynced bool
	listTag      string
)

type listItem struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Tags      []string `json:"tags"`
	Path      string   `json:"path,omitempty"`
	UpdatedAt int64    `json:"updatedAt"`
	Unsynced  bool     `json:"unsynced,omitempty"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List notes",
	Long: `List the notes held by the metadata store, most recently updated first.
With --unsynced, list the notes whose local edits are not confirmed yet.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ws, err := openWorkspace(ctx)
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		var items []listItem
		if listUnsynced {
			entries, err := ws.Engine.Unsynced(ctx)
			if err != nil {
				return err
			}
			for _, e := range entries {
				items = append(items, listItem{ID: e.ID, Title: e.Title, Tags: e.Tags, UpdatedAt: e.LocalEditedAt.UnixMilli(), Unsynced: true})
			}
		} else {
			records, err := ws.Metadata.List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list notes: %w", err)
			}
			for _, r := range records {
				items = append(items, listItem{ID: r.ID, Title: r.Title, Tags: r.Tags, Path: r.Path, UpdatedAt: r.UpdatedAt.UnixMilli()})
			}
		}

		if listTag != "" {
			items = slices.DeleteFunc(items, func(it listItem) bool {
				return !slices.Contains(notefile.NormalizeTags(it.Tags), listTag)
			})
		}

		if listJSON {
			if items == nil {
				items = []listItem{}
			}
			return printJSON(cmd, items)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, it := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\n", it.ID, it.Title, it.Path)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	listCmd.Flags().BoolVar(&listUnsynced, "unsynced", false, "Only list notes with unconfirmed local edits")
	listCmd.Flags().StringVar(&listTag, "tag", "", "Filter notes by tag")
}
