package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	editTitle    string
	editBody     string
	editBodyFile string
	editTags     []string
)

var editCmd = &cobra.Command{
	Use:   "edit [id]",
	Short: "Change a note and sync it",
	Long: `Change the title, body or tags of a note. Only the flags you pass are
applied; the rest of the note is kept. Use --body-file - to read the body
from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		flags := cmd.Flags()
		if flags.Changed("body") && flags.Changed("body-file") {
			return fmt.Errorf("--body and --body-file are mutually exclusive")
		}

		body := editBody
		if flags.Changed("body-file") {
			b, err := readBody(cmd, editBodyFile)
			if err != nil {
				return err
			}
			body = b
		}

		ws, err := openWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer closeWorkspace(ws)

		s, err := ws.Engine.Open(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to open note: %w", err)
		}
		n := s.Note()
		if flags.Changed("title") {
			n.Title = editTitle
		}
		if flags.Changed("body") || flags.Changed("body-file") {
			n.Body = body
		}
		if flags.Changed("tag") {
			n.Tags = editTags
		}
		if err := s.Edit(n); err != nil {
			return err
		}
		if err := s.Sync(cmd.Context()); err != nil {
			return explainConflict(id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Note %s synced\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().StringVarP(&editTitle, "title", "t", "", "New title")
	editCmd.Flags().StringVarP(&editBody, "body", "b", "", "New body")
	editCmd.Flags().StringVar(&editBodyFile, "body-file", "", "Read the new body from a file, or - for stdin")
	editCmd.Flags().StringSliceVar(&editTags, "tag", nil, "Replace the tags (repeatable)")
}
