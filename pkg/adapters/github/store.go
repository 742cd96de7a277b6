// Package github implements the repository tier on the GitHub contents API.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/YusukeImai797/Gitnote/internal/httpx"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/notefile"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

// Config configures a Store.
type Config struct {
	BaseURL    string
	Token      string
	Owner      string
	Repo       string
	Branch     string
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Store is a core.FileStore backed by one GitHub repository branch.
// Revisions are the blob SHAs GitHub reports.
type Store struct {
	client *httpx.Client
	owner  string
	repo   string
	branch string
}

var _ core.FileStore = (*Store)(nil)

// New creates a store. Owner and Repo are required.
func New(cfg Config) (*Store, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	return &Store{
		client: httpx.New(httpx.Config{
			BaseURL:    cfg.BaseURL,
			Token:      cfg.Token,
			UserAgent:  "gitnote",
			Headers:    map[string]string{"Accept": "application/vnd.github+json", "X-GitHub-Api-Version": "2022-11-28"},
			HTTPClient: cfg.HTTPClient,
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryDelay,
			Logger:     cfg.Logger,
		}),
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		branch: cfg.Branch,
	}, nil
}

type contentResponse struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Type     string `json:"type"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content,omitempty"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch"`
}

type writeResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (s *Store) contentsPath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(s.owner), url.PathEscape(s.repo), strings.Join(segments, "/"))
}

func checkPath(op, p string) error {
	if err := notefile.ValidPath(p); err != nil {
		return core.E(core.KindValidation, op, err)
	}
	return nil
}

// Get fetches the file at path on the configured branch.
func (s *Store) Get(ctx context.Context, path string) (core.RepositoryFile, error) {
	if err := checkPath("github.get", path); err != nil {
		return core.RepositoryFile{}, err
	}

	var resp contentResponse
	q := url.Values{"ref": {s.branch}}
	if err := s.client.Do(ctx, "github.get", http.MethodGet, s.contentsPath(path)+"?"+q.Encode(), nil, &resp); err != nil {
		return core.RepositoryFile{}, err
	}
	if resp.Type != "" && resp.Type != "file" {
		return core.RepositoryFile{}, core.Errorf(core.KindValidation, "github.get", "%s is a %s, not a file", path, resp.Type)
	}
	if resp.Encoding != "" && resp.Encoding != "base64" {
		return core.RepositoryFile{}, core.Errorf(core.KindInternal, "github.get", "unsupported content encoding %q", resp.Encoding)
	}

	// The API wraps base64 content at 60 columns.
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return core.RepositoryFile{}, core.E(core.KindInternal, "github.get", fmt.Errorf("invalid content: %w", err))
	}
	return core.RepositoryFile{Path: path, Revision: resp.SHA, Content: data}, nil
}

// Put creates or updates the file at path. The commit message is taken from
// the context change reason.
func (s *Store) Put(ctx context.Context, path string, content []byte, baseRevision string) (string, error) {
	if err := checkPath("github.put", path); err != nil {
		return "", err
	}

	action := notefile.ActionUpdate
	if baseRevision == "" {
		action = notefile.ActionCreate
	}
	req := writeRequest{
		Message: core.ChangeReason(ctx, fmt.Sprintf("%s: %s", action, path)),
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     baseRevision,
		Branch:  s.branch,
	}

	var resp writeResponse
	err := s.client.Do(ctx, "github.put", http.MethodPut, s.contentsPath(path), req, &resp)
	if err != nil {
		// Creating over an existing file is rejected for the missing sha.
		if baseRevision == "" && core.KindOf(err) == core.KindValidation {
			return "", core.Errorf(core.KindConflict, "github.put", "file %s already exists", path)
		}
		return "", err
	}
	if resp.Content.SHA == "" {
		return notefile.Revision(content), nil
	}
	return resp.Content.SHA, nil
}

// Delete removes the file at path.
func (s *Store) Delete(ctx context.Context, path string, baseRevision string) error {
	if err := checkPath("github.delete", path); err != nil {
		return err
	}
	if baseRevision == "" {
		f, err := s.Get(ctx, path)
		if err != nil {
			return err
		}
		baseRevision = f.Revision
	}
	req := writeRequest{
		Message: core.ChangeReason(ctx, fmt.Sprintf("%s: %s", notefile.ActionDelete, path)),
		SHA:     baseRevision,
		Branch:  s.branch,
	}
	return s.client.Do(ctx, "github.delete", http.MethodDelete, s.contentsPath(path), req, nil)
}
