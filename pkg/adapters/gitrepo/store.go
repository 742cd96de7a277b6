// Package gitrepo implements the repository tier on a local git work tree.
//
// Every write is applied atomically to the working tree and committed with
// the change reason carried by the context. Revisions are git blob ids, so a
// file read here and the same file read from a hosted copy of the repository
// report the same revision.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/YusukeImai797/Gitnote/internal/fsutil"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/git"
	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

// Config holds the configuration for the repository store.
type Config struct {
	Path string
	// SystemDir is ignored by git and by List (e.g. ".gitnote").
	SystemDir string
	// Gitless writes files without committing them.
	Gitless  bool
	AutoInit bool
	Identity git.Identity
	Logger   *slog.Logger
}

// Store is a core.FileStore over a directory, optionally versioned by git.
type Store struct {
	root   string
	config Config
	git    *git.Client
	logger *slog.Logger

	mu         sync.Mutex
	writes     int
	lastCommit *time.Time
	lastSync   *time.Time
}

var (
	_ core.FileStore = (*Store)(nil)
	_ core.Syncable  = (*Store)(nil)
)

// New creates a store rooted at cfg.Path. Call Initialize before use.
func New(cfg Config) *Store {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SystemDir == "" {
		cfg.SystemDir = ".gitnote"
	}
	client := git.NewClient(cfg.Path, filepath.Join(cfg.SystemDir, "git.lock"), cfg.Logger)
	client.Identity = cfg.Identity
	return &Store{
		root:   cfg.Path,
		config: cfg,
		git:    client,
		logger: cfg.Logger,
	}
}

// Root returns the work tree directory.
func (s *Store) Root() string {
	return s.root
}

// Initialize creates the directory and, unless gitless, the git repository.
func (s *Store) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("failed to create repository directory: %w", err)
	}
	if s.config.Gitless {
		return nil
	}
	if !git.IsInstalled() {
		return fmt.Errorf("git is not installed")
	}

	wasNewRepo := false
	if !s.git.IsRepo(ctx) {
		if !s.config.AutoInit {
			return fmt.Errorf("path is not a git repository: %s", s.root)
		}
		if err := s.git.Init(ctx); err != nil {
			return fmt.Errorf("failed to git init: %w", err)
		}
		wasNewRepo = true
	}

	mod, err := s.ensureIgnore()
	if err != nil {
		return fmt.Errorf("failed to ensure .gitignore: %w", err)
	}
	if mod && wasNewRepo {
		if err := s.git.Add(ctx, ".gitignore"); err != nil {
			return fmt.Errorf("failed to add .gitignore: %w", err)
		}
		if err := s.git.Commit(ctx, fmt.Sprintf("chore: configure %s ignore", s.config.SystemDir)); err != nil && !errors.Is(err, git.ErrNothingToCommit) {
			return fmt.Errorf("failed to commit .gitignore: %w", err)
		}
	}
	return nil
}

func (s *Store) ensureIgnore() (bool, error) {
	ignorePath := filepath.Join(s.root, ".gitignore")
	ignoreEntry := s.config.SystemDir + "/"

	content, err := os.ReadFile(ignorePath)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == ignoreEntry {
			return false, nil
		}
	}

	f, err := os.OpenFile(ignorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if len(content) > 0 && !strings.HasSuffix(string(content), "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return false, err
		}
	}
	if _, err := f.WriteString(ignoreEntry + "\n"); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) abs(p string) string {
	return filepath.Join(s.root, filepath.FromSlash(p))
}

func (s *Store) lock(ctx context.Context) (func(), error) {
	unlock, err := s.git.Lock(ctx)
	if err != nil {
		return nil, core.E(core.KindUnavailable, "repository.lock", err)
	}
	return unlock, nil
}

// read returns the current content and revision at p. ok is false when the
// file does not exist.
func (s *Store) read(p string) (content []byte, rev string, ok bool, err error) {
	data, err := os.ReadFile(s.abs(p))
	if os.IsNotExist(err) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, core.E(core.KindInternal, "repository.read", err)
	}
	return data, notefile.Revision(data), true, nil
}

func checkPath(op, p string) error {
	if err := notefile.ValidPath(p); err != nil {
		return core.E(core.KindValidation, op, err)
	}
	return nil
}

// Get reads the file at path.
func (s *Store) Get(ctx context.Context, path string) (core.RepositoryFile, error) {
	if err := checkPath("repository.get", path); err != nil {
		return core.RepositoryFile{}, err
	}
	data, rev, ok, err := s.read(path)
	if err != nil {
		return core.RepositoryFile{}, err
	}
	if !ok {
		return core.RepositoryFile{}, core.Errorf(core.KindNotFound, "repository.get", "file %s not found", path)
	}
	return core.RepositoryFile{Path: path, Revision: rev, Content: data}, nil
}

// Put writes content at path when baseRevision matches the stored file.
//
// Workflow:
//  1. Validate the path and take the repository lock.
//  2. Compare baseRevision against the file on disk.
//  3. Write atomically, then 'git add' and 'git commit' with the change reason.
func (s *Store) Put(ctx context.Context, path string, content []byte, baseRevision string) (string, error) {
	if err := checkPath("repository.put", path); err != nil {
		return "", err
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return "", err
	}
	defer unlock()

	_, current, exists, err := s.read(path)
	if err != nil {
		return "", err
	}
	switch {
	case baseRevision == "" && exists:
		return "", core.Errorf(core.KindConflict, "repository.put", "file %s already exists", path)
	case baseRevision != "" && !exists:
		return "", core.Errorf(core.KindNotFound, "repository.put", "file %s not found", path)
	case exists && baseRevision != current:
		return "", core.Errorf(core.KindConflict, "repository.put", "file %s is at revision %s, not %s", path, current, baseRevision)
	}

	if err := fsutil.WriteFileAtomic(s.abs(path), content, 0644); err != nil {
		return "", core.E(core.KindInternal, "repository.put", err)
	}

	action := notefile.ActionUpdate
	if !exists {
		action = notefile.ActionCreate
	}
	msg := core.ChangeReason(ctx, fmt.Sprintf("%s: %s", action, path))
	if err := s.commit(ctx, msg, func() error { return s.git.Add(ctx, path) }); err != nil {
		return "", err
	}
	return notefile.Revision(content), nil
}

// Delete removes the file at path when baseRevision matches.
func (s *Store) Delete(ctx context.Context, path string, baseRevision string) error {
	if err := checkPath("repository.delete", path); err != nil {
		return err
	}
	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	_, current, exists, err := s.read(path)
	if err != nil {
		return err
	}
	if !exists {
		return core.Errorf(core.KindNotFound, "repository.delete", "file %s not found", path)
	}
	if baseRevision != "" && baseRevision != current {
		return core.Errorf(core.KindConflict, "repository.delete", "file %s is at revision %s, not %s", path, current, baseRevision)
	}

	msg := core.ChangeReason(ctx, fmt.Sprintf("%s: %s", notefile.ActionDelete, path))
	if s.config.Gitless {
		if err := os.Remove(s.abs(path)); err != nil {
			return core.E(core.KindInternal, "repository.delete", err)
		}
		s.recordWrite(false)
		return nil
	}
	return s.commit(ctx, msg, func() error { return s.git.Rm(ctx, path) })
}

// commit stages a change with stage and commits it. Gitless stores only
// count the write.
func (s *Store) commit(ctx context.Context, msg string, stage func() error) error {
	if s.config.Gitless {
		s.recordWrite(false)
		return nil
	}
	if err := stage(); err != nil {
		return core.E(core.KindInternal, "repository.commit", fmt.Errorf("failed to stage: %w", err))
	}
	err := s.git.Commit(ctx, msg)
	if errors.Is(err, git.ErrNothingToCommit) {
		s.recordWrite(false)
		return nil
	}
	if err != nil {
		return core.E(core.KindInternal, "repository.commit", fmt.Errorf("failed to git commit: %w", err))
	}
	s.logger.Debug("committed", "message", msg)
	s.recordWrite(true)
	return nil
}

func (s *Store) recordWrite(committed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if committed {
		now := time.Now()
		s.lastCommit = &now
	}
}

// List returns the slash-separated paths of markdown files matching the
// doublestar pattern (e.g. "notes/**/*.md"), sorted.
func (s *Store) List(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "**/*.md"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, core.Errorf(core.KindValidation, "repository.list", "invalid pattern %q", pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(s.root), pattern)
	if err != nil {
		return nil, core.E(core.KindInternal, "repository.list", err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if strings.HasPrefix(m, ".git/") || strings.HasPrefix(m, s.config.SystemDir+"/") {
			continue
		}
		if notefile.ValidPath(m) != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// Sync exchanges commits with the configured remote. A gitless store has
// nothing to exchange.
func (s *Store) Sync(ctx context.Context) error {
	if s.config.Gitless {
		s.logger.Debug("gitless repository, skipping sync", "root", s.root)
		return nil
	}
	if !s.git.IsRepo(ctx) {
		return fmt.Errorf("path is not a git repository: %s", s.root)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.git.Sync(ctx); err != nil {
		return core.E(core.KindUnavailable, "repository.sync", err)
	}
	s.mu.Lock()
	now := time.Now()
	s.lastSync = &now
	s.mu.Unlock()
	return nil
}
