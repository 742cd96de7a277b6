package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind classifies a failure so callers can decide between asking the user,
// retrying later, or reporting a specific message.
type Kind string

const (
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
	KindPermission   Kind = "permission_denied"
	KindValidation   Kind = "validation"
	KindRateLimited  Kind = "rate_limited"
	KindUnavailable  Kind = "unavailable"
	KindNetwork      Kind = "network"
	KindInternal     Kind = "internal"
	KindNoConflict   Kind = "no_conflict"
	KindInResolution Kind = "resolution_in_progress"
)

// Sentinel errors, one per kind. Typed errors match them with errors.Is.
var (
	ErrConflict             = errors.New("conflict")
	ErrNotFound             = errors.New("not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrValidation           = errors.New("validation failed")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnavailable          = errors.New("service unavailable")
	ErrNetwork              = errors.New("network error")
	ErrInternal             = errors.New("internal error")
	ErrNoConflict           = errors.New("no conflict is open for this note")
	ErrResolutionInProgress = errors.New("a conflict resolution is already running")
	ErrOffline              = errors.New("offline")
)

var sentinels = map[Kind]error{
	KindConflict:     ErrConflict,
	KindNotFound:     ErrNotFound,
	KindPermission:   ErrPermissionDenied,
	KindValidation:   ErrValidation,
	KindRateLimited:  ErrRateLimited,
	KindUnavailable:  ErrUnavailable,
	KindNetwork:      ErrNetwork,
	KindInternal:     ErrInternal,
	KindNoConflict:   ErrNoConflict,
	KindInResolution: ErrResolutionInProgress,
}

// Error is a classified failure raised by a storage tier.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "github.put".
	Op string
	// Message is a human readable detail suitable for display.
	Message string
	// RetryAfter is set when the remote asked us to back off.
	RetryAfter time.Duration
	Err        error
}

// E builds a classified error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// ConflictError reports that a remote tier holds content diverging from the
// local pending edit. Remote carries the remote side verbatim.
type ConflictError struct {
	NoteID string
	Tier   Tier
	Remote Note
	// RemoteUpdatedAt is the authoritative timestamp of the remote side when
	// the conflict came from the metadata store.
	RemoteUpdatedAt time.Time
	// RemoteRevision is the repository revision that was fetched.
	RemoteRevision string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict for note %s", e.Tier, e.NoteID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// KindOf classifies any error. Unclassified errors are internal, with
// transport and deadline errors treated as network failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return KindConflict
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	if errors.Is(err, ErrOffline) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindInternal
}

// IsRetryable reports whether a failure of this kind may succeed later
// without user intervention.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindRateLimited, KindUnavailable, KindNetwork, KindInternal:
		return true
	}
	return false
}

// HTTPStatus maps a kind onto the status code used by the HTTP API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindPermission:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindNetwork:
		return http.StatusBadGateway
	case KindNoConflict, KindInResolution:
		return http.StatusPreconditionFailed
	}
	return http.StatusInternalServerError
}

// KindFromStatus classifies an HTTP response status.
func KindFromStatus(status int) Kind {
	switch {
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		return KindConflict
	case status == http.StatusNotFound, status == http.StatusGone:
		return KindNotFound
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindPermission
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status >= 500:
		return KindUnavailable
	}
	return KindInternal
}
