// Package remotemeta is a core.MetadataStore talking to a gitnote server
// over HTTP. The server applies the optimistic lock; this client only maps
// its responses back onto the core error taxonomy.
package remotemeta

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/YusukeImai797/Gitnote/internal/httpx"
	"github.com/YusukeImai797/Gitnote/pkg/core"
)

// SaveRequest is the body of PUT /v1/records/{id}.
type SaveRequest struct {
	Record core.MetadataRecord `json:"record"`
	// ExpectedUpdatedAt is the writer's confirmedAt in unix milliseconds;
	// 0 asserts the record does not exist.
	ExpectedUpdatedAt int64 `json:"expectedUpdatedAt"`
}

// ErrorResponse is the JSON body of every failed API response.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorKind string `json:"errorKind"`
	// Conflict details.
	Tier            core.Tier  `json:"tier,omitempty"`
	Remote          *core.Note `json:"remote,omitempty"`
	RemoteUpdatedAt int64      `json:"remoteUpdatedAt,omitempty"`
	RemoteRevision  string     `json:"remoteRevision,omitempty"`
}

// ConflictFromResponse rebuilds a *core.ConflictError from err when it wraps
// a conflict response carrying the remote side.
func ConflictFromResponse(id string, err error) (*core.ConflictError, bool) {
	if core.KindOf(err) != core.KindConflict {
		return nil, false
	}
	body, ok := httpx.ResponseBody(err)
	if !ok {
		return nil, false
	}
	var resp ErrorResponse
	if json.Unmarshal(body, &resp) != nil {
		return nil, false
	}
	if resp.Remote == nil {
		return nil, false
	}
	ce := &core.ConflictError{NoteID: id, Tier: resp.Tier, Remote: *resp.Remote, RemoteRevision: resp.RemoteRevision}
	if ce.Tier == "" {
		ce.Tier = core.TierMetadata
	}
	if resp.RemoteUpdatedAt != 0 {
		ce.RemoteUpdatedAt = time.UnixMilli(resp.RemoteUpdatedAt)
	} else {
		ce.RemoteUpdatedAt = ce.Remote.UpdatedAt
	}
	return ce, true
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Client is a remote core.MetadataStore.
type Client struct {
	http *httpx.Client
}

var _ core.MetadataStore = (*Client)(nil)

// New creates a client for the server at cfg.BaseURL.
func New(cfg Config) *Client {
	return &Client{http: httpx.New(httpx.Config{
		BaseURL:    cfg.BaseURL,
		Token:      cfg.Token,
		UserAgent:  "gitnote",
		HTTPClient: cfg.HTTPClient,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryDelay,
		Logger:     cfg.Logger,
	})}
}

func recordPath(id string) string {
	return "/v1/records/" + url.PathEscape(id)
}

func (c *Client) Get(ctx context.Context, id string) (core.MetadataRecord, error) {
	var rec core.MetadataRecord
	err := c.http.Do(ctx, "metadata.get", http.MethodGet, recordPath(id), nil, &rec)
	return rec, err
}

func (c *Client) Save(ctx context.Context, rec core.MetadataRecord, expected time.Time) (core.MetadataRecord, error) {
	req := SaveRequest{Record: rec}
	if !expected.IsZero() {
		req.ExpectedUpdatedAt = expected.UnixMilli()
	}

	var out core.MetadataRecord
	err := c.http.Do(ctx, "metadata.save", http.MethodPut, recordPath(rec.ID), req, &out)
	if err != nil {
		if ce, ok := ConflictFromResponse(rec.ID, err); ok {
			return core.MetadataRecord{}, ce
		}
		return core.MetadataRecord{}, err
	}
	return out, nil
}

// LocationRequest is the body of PUT /v1/records/{id}/location.
type LocationRequest struct {
	Path     string `json:"path"`
	Revision string `json:"revision"`
}

func (c *Client) SetLocation(ctx context.Context, id, path, revision string) error {
	req := LocationRequest{Path: path, Revision: revision}
	return c.http.Do(ctx, "metadata.set_location", http.MethodPut, recordPath(id)+"/location", req, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	err := c.http.Do(ctx, "metadata.delete", http.MethodDelete, recordPath(id), nil, nil)
	if core.KindOf(err) == core.KindNotFound {
		return nil
	}
	return err
}

func (c *Client) List(ctx context.Context) ([]core.MetadataRecord, error) {
	var out []core.MetadataRecord
	err := c.http.Do(ctx, "metadata.list", http.MethodGet, "/v1/records", nil, &out)
	return out, err
}
