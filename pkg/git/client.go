package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/YusukeImai797/Gitnote/internal/fsutil"
)

// ErrNothingToCommit is returned by Commit when the index has no changes.
var ErrNothingToCommit = errors.New("nothing to commit")

// Identity is the author recorded on commits made by the client.
type Identity struct {
	Name  string
	Email string
}

// Client wraps git command execution with a global file-based lock for process safety.
type Client struct {
	WorkDir  string
	Logger   *slog.Logger
	Identity Identity
	lockPath string
}

// NewClient creates a new git client for the given working directory.
// lockPath is relative to workDir (e.g. ".gitnote/git.lock").
func NewClient(workDir, lockPath string, logger *slog.Logger) *Client {
	if lockPath == "" {
		lockPath = ".gitnote.lock"
	}
	return &Client{
		WorkDir:  workDir,
		Logger:   logger,
		lockPath: lockPath,
	}
}

// IsInstalled reports whether a git binary is available on PATH.
func IsInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// Lock acquires the repository lock. It blocks until the lock is acquired
// or ctx is done.
func (c *Client) Lock(ctx context.Context) (func(), error) {
	return fsutil.Lock(ctx, filepath.Join(c.WorkDir, c.lockPath))
}

// Run executes a raw git command in the working directory.
// NOTE: It does NOT acquire the lock automatically. The caller must manage transaction safety via Client.Lock().
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	if c.Logger != nil {
		c.Logger.Debug("executing git", "args", args, "dir", c.WorkDir)
	}

	full := args
	if c.Identity.Name != "" || c.Identity.Email != "" {
		full = append([]string{
			"-c", "user.name=" + c.Identity.Name,
			"-c", "user.email=" + c.Identity.Email,
		}, args...)
	}

	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = c.WorkDir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	out, err := cmd.CombinedOutput()
	output := string(out)

	if err != nil {
		return output, fmt.Errorf("git %s failed: %w\nOutput: %s", args[0], err, output)
	}

	return strings.TrimSpace(output), nil
}

// Init initializes a new git repository if one doesn't exist.
func (c *Client) Init(ctx context.Context) error {
	_, err := c.Run(ctx, "init")
	return err
}

// IsRepo reports whether WorkDir is inside a git work tree.
func (c *Client) IsRepo(ctx context.Context) bool {
	out, err := c.Run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Add adds files to the stage.
func (c *Client) Add(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, files...)
	_, err := c.Run(ctx, args...)
	return err
}

// Rm removes files from the working tree and from the index.
func (c *Client) Rm(ctx context.Context, files ...string) error {
	if len(files) == 0 {
		return nil
	}
	args := append([]string{"rm", "-f", "--"}, files...)
	_, err := c.Run(ctx, args...)
	return err
}

// Commit records staged changes. It returns ErrNothingToCommit when the
// index matches HEAD.
func (c *Client) Commit(ctx context.Context, msg string) error {
	if _, err := c.Run(ctx, "diff", "--cached", "--quiet"); err == nil {
		return ErrNothingToCommit
	}
	_, err := c.Run(ctx, "commit", "-m", msg)
	return err
}

// Status returns the porcelain status of the repo.
func (c *Client) Status(ctx context.Context) (string, error) {
	return c.Run(ctx, "status", "--porcelain")
}

// HasRemote reports whether any remote is configured.
func (c *Client) HasRemote(ctx context.Context) bool {
	out, err := c.Run(ctx, "remote")
	return err == nil && out != ""
}

// Pull rebases local commits onto the upstream branch.
func (c *Client) Pull(ctx context.Context) error {
	_, err := c.Run(ctx, "pull", "--rebase")
	return err
}

// Push publishes local commits to the upstream branch.
func (c *Client) Push(ctx context.Context) error {
	_, err := c.Run(ctx, "push")
	return err
}

// Sync pulls then pushes. Without a remote it is a no-op.
func (c *Client) Sync(ctx context.Context) error {
	if !c.HasRemote(ctx) {
		if c.Logger != nil {
			c.Logger.Debug("no git remote configured, skipping sync", "dir", c.WorkDir)
		}
		return nil
	}
	if err := c.Pull(ctx); err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}
	if err := c.Push(ctx); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}
	return nil
}
