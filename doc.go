// Package gitnote is the composition root of the note sync engine.
//
// A note lives in three tiers: a local cache on the device, an
// authoritative metadata store, and a repository holding one Markdown file
// per note. The engine writes every edit to the cache first and pushes it
// to the other tiers on independent debounce timers. The metadata store
// guards writes with a timestamp lock; the repository with file revisions.
// A rejected write becomes a conflict the user resolves by forcing the
// local copy or accepting the remote one.
//
// Backends:
//
//   - Repository: a git work tree (pkg/adapters/gitrepo) or a GitHub
//     repository through the contents API (pkg/adapters/github).
//   - Metadata: in memory, SQLite (pkg/adapters/metadata), or a gitnote
//     server over HTTP (pkg/adapters/remotemeta).
//   - Coordination: a shared directory or a websocket relay (pkg/bus).
//
// Usage:
//
//	ws, err := gitnote.Open(ctx, root, gitnote.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer ws.Close()
//
//	s, err := ws.Engine.Create(ctx, "")
//	n := s.Note()
//	n.Title, n.Body = "Groceries", "eggs"
//	err = s.Edit(n)
package gitnote
