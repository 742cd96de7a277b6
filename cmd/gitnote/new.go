package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	newFolder string
	newTitle  string
	newBody   string
	newTags   []string
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a note and sync it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		s, err := ws.Engine.Create(cmd.Context(), newFolder)
		if err != nil {
			return fmt.Errorf("failed to create note: %w", err)
		}
		n := s.Note()
		if newTitle != "" {
			n.Title = newTitle
		}
		n.Body = newBody
		n.Tags = newTags
		if err := s.Edit(n); err != nil {
			return err
		}
		if err := s.Sync(cmd.Context()); err != nil {
			return explainConflict(s.ID(), err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), s.ID())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(newCmd)
	newCmd.Flags().StringVar(&newFolder, "folder", "", "Folder ID (default: the configured default folder)")
	newCmd.Flags().StringVarP(&newTitle, "title", "t", "", "Note title")
	newCmd.Flags().StringVarP(&newBody, "body", "b", "", "Note body")
	newCmd.Flags().StringSliceVar(&newTags, "tag", nil, "Tag (repeatable)")
}
