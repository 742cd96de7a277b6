package notefile

import (
	"strings"
)

// Commit actions recorded in the repository history.
const (
	ActionCreate = "Create note"
	ActionUpdate = "Update note"
	ActionForce  = "Force update note"
	ActionMove   = "Move note"
	ActionDelete = "Delete note"
)

// CommitMessage builds the commit subject for an action on a note:
//
//	<action>: <title>
func CommitMessage(action, title string) string {
	var sb strings.Builder
	sb.WriteString(action)
	sb.WriteString(": ")
	sb.WriteString(displayTitle(title))
	return sb.String()
}

// MoveMessage builds the commit subject for moving a note into folder.
func MoveMessage(title, folder string) string {
	folder = strings.TrimSuffix(CleanFolder(folder), "/")
	if folder == "" {
		folder = "/"
	}
	return CommitMessage(ActionMove, title) + " to " + folder
}

func displayTitle(title string) string {
	title = strings.TrimSpace(title)
	// Commit subjects are single-line.
	if i := strings.IndexAny(title, "\r\n"); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if title == "" {
		return "Untitled Note"
	}
	return title
}
