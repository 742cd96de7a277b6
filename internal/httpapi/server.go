// Package httpapi exposes the sync engine and the authoritative metadata
// store over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/YusukeImai797/Gitnote/pkg/adapters/remotemeta"
	"github.com/YusukeImai797/Gitnote/pkg/core"
	"github.com/YusukeImai797/Gitnote/pkg/engine"
)

// ServerConfig configures a Server. Engine and Records are optional; the
// routes backed by a missing one answer 404.
type ServerConfig struct {
	Engine  *engine.Engine
	Records core.MetadataStore
	// Bus serves the websocket relay at /v1/bus.
	Bus http.Handler
	// Token enables bearer authentication on every /v1 route.
	Token        string
	MaxBodyBytes int64
	Logger       *slog.Logger
}

type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// NoteResponse is returned by the note routes.
type NoteResponse struct {
	Note core.Note `json:"note"`
	// ConfirmedAt is in unix milliseconds; 0 when never confirmed.
	ConfirmedAt    int64  `json:"confirmedAt,omitempty"`
	NewConfirmedAt int64  `json:"newConfirmedAt,omitempty"`
	NewRevision    string `json:"newRevision,omitempty"`
}

// MetadataSaveRequest is the body of PUT /v1/notes/{id}/metadata.
type MetadataSaveRequest struct {
	Note                core.Note `json:"note"`
	ExpectedConfirmedAt int64     `json:"expectedConfirmedAt"`
}

// NoteRequest is the body of the repository and force routes.
type NoteRequest struct {
	Note core.Note `json:"note"`
}

// MoveRequest is the body of POST /v1/notes/{id}/move.
type MoveRequest struct {
	FolderID string `json:"folderId"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if err := authorize(r, s.cfg.Token); err != nil {
		writeError(w, err.status, err.kind, err.message)
		return
	}

	if r.URL.Path == "/v1/bus" {
		if s.cfg.Bus == nil {
			writeError(w, http.StatusNotFound, core.KindNotFound, "bus relay not enabled")
			return
		}
		s.cfg.Bus.ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.EscapedPath())
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, core.KindNotFound, "route not found")
		return
	}

	switch parts[1] {
	case "records":
		s.routeRecords(w, r, parts[2:])
	case "notes":
		s.routeNotes(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, core.KindNotFound, "route not found")
	}
}

func splitPath(escaped string) []string {
	raw := strings.Split(strings.Trim(escaped, "/"), "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if v, err := url.PathUnescape(p); err == nil {
			p = v
		}
		parts = append(parts, p)
	}
	return parts
}

func (s *Server) routeRecords(w http.ResponseWriter, r *http.Request, parts []string) {
	if s.cfg.Records == nil {
		writeError(w, http.StatusNotFound, core.KindNotFound, "metadata service not enabled")
		return
	}
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		s.handleListRecords(w, r)
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetRecord(w, r, parts[0])
	case len(parts) == 1 && r.Method == http.MethodPut:
		s.handleSaveRecord(w, r, parts[0])
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteRecord(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "location" && r.Method == http.MethodPut:
		s.handleSetLocation(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, core.KindNotFound, "route not found")
	}
}

func (s *Server) routeNotes(w http.ResponseWriter, r *http.Request, parts []string) {
	if s.cfg.Engine == nil {
		writeError(w, http.StatusNotFound, core.KindNotFound, "notes API not enabled")
		return
	}
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, core.KindNotFound, "route not found")
		return
	}
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleLoadNote(w, r, id)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteNote(w, r, id)
	case action == "metadata" && r.Method == http.MethodPut:
		s.handleSaveMetadata(w, r, id)
	case action == "repository" && r.Method == http.MethodPut:
		s.handleSaveRepository(w, r, id)
	case action == "force" && r.Method == http.MethodPost:
		s.handleForce(w, r, id)
	case action == "accept-remote" && r.Method == http.MethodPost:
		s.handleAcceptRemote(w, r, id)
	case action == "move" && r.Method == http.MethodPost:
		s.handleMove(w, r, id)
	default:
		writeError(w, http.StatusNotFound, core.KindNotFound, "route not found")
	}
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.cfg.Records.List(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if recs == nil {
		recs = []core.MetadataRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.cfg.Records.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSaveRecord(w http.ResponseWriter, r *http.Request, id string) {
	var req remotemeta.SaveRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if req.Record.ID != "" && req.Record.ID != id {
		writeError(w, http.StatusBadRequest, core.KindValidation, "record id does not match path")
		return
	}
	req.Record.ID = id
	saved, err := s.cfg.Records.Save(r.Context(), req.Record, fromMillis(req.ExpectedUpdatedAt))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleSetLocation(w http.ResponseWriter, r *http.Request, id string) {
	var req remotemeta.LocationRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.cfg.Records.SetLocation(r.Context(), id, req.Path, req.Revision); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.cfg.Records.Delete(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoadNote(w http.ResponseWriter, r *http.Request, id string) {
	n, confirmedAt, err := s.cfg.Engine.LoadNote(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NoteResponse{Note: n, ConfirmedAt: toMillis(confirmedAt)})
}

func (s *Server) handleSaveMetadata(w http.ResponseWriter, r *http.Request, id string) {
	var req MetadataSaveRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	req.Note.ID = id
	n, confirmedAt, err := s.cfg.Engine.SaveMetadata(r.Context(), req.Note, fromMillis(req.ExpectedConfirmedAt))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NoteResponse{Note: n, NewConfirmedAt: toMillis(confirmedAt)})
}

func (s *Server) handleSaveRepository(w http.ResponseWriter, r *http.Request, id string) {
	var req NoteRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	req.Note.ID = id
	n, err := s.cfg.Engine.SaveToRepository(r.Context(), req.Note)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NoteResponse{Note: n, NewRevision: n.Revision})
}

func (s *Server) handleForce(w http.ResponseWriter, r *http.Request, id string) {
	var req NoteRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	req.Note.ID = id
	n, err := s.cfg.Engine.ForceOverwrite(r.Context(), req.Note)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NoteResponse{Note: n, NewRevision: n.Revision})
}

func (s *Server) handleAcceptRemote(w http.ResponseWriter, r *http.Request, id string) {
	n, err := s.cfg.Engine.AcceptRemote(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NoteResponse{Note: n})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, id string) {
	var req MoveRequest
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	n, err := s.cfg.Engine.Move(r.Context(), id, req.FolderID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NoteResponse{Note: n})
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.cfg.Engine.Delete(r.Context(), id); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, core.KindValidation, "request body exceeds configured limit")
			return false
		}
		writeError(w, http.StatusBadRequest, core.KindValidation, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, core.KindValidation, "invalid json body")
		return false
	}
	return true
}

// writeFailure maps err onto the response. Conflicts carry the remote side
// so clients can rebuild a *core.ConflictError.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	kind := core.KindOf(err)
	resp := remotemeta.ErrorResponse{Error: err.Error(), ErrorKind: string(kind)}

	var ce *core.ConflictError
	if errors.As(err, &ce) {
		remote := ce.Remote
		resp.Tier = ce.Tier
		resp.Remote = &remote
		resp.RemoteUpdatedAt = toMillis(ce.RemoteUpdatedAt)
		resp.RemoteRevision = ce.RemoteRevision
	}

	var e *core.Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(e.RetryAfter.Seconds()))))
	}

	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, kind core.Kind, message string) {
	writeJSON(w, status, remotemeta.ErrorResponse{Error: message, ErrorKind: string(kind)})
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
