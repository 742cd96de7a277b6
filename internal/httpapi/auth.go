package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/YusukeImai797/Gitnote/pkg/core"
)

type authError struct {
	status  int
	kind    core.Kind
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorize checks the bearer token of r. An empty token disables
// authentication.
func authorize(r *http.Request, token string) *authError {
	if token == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return &authError{
			status:  http.StatusUnauthorized,
			kind:    core.KindPermission,
			message: "missing or invalid bearer token",
		}
	}
	got := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		return &authError{
			status:  http.StatusUnauthorized,
			kind:    core.KindPermission,
			message: "invalid bearer token",
		}
	}
	return nil
}
