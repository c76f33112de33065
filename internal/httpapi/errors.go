package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alecthomas/errors"

	"github.com/block/gitbridge/internal/approval"
	"github.com/block/gitbridge/internal/gitcli"
	"github.com/block/gitbridge/internal/jobs"
	"github.com/block/gitbridge/internal/logging"
	"github.com/block/gitbridge/internal/sandbox"
)

// Error is an API error with a stable code and a user-safe message. The
// message is what the browser UI shows; anything sensitive stays in the
// wrapped cause and the logs.
type Error struct {
	status int
	code   string
	err    error
}

func (e Error) Error() string   { return fmt.Sprintf("%d %s: %s", e.status, e.code, e.err) }
func (e Error) Unwrap() error   { return e.err }
func (e Error) StatusCode() int { return e.status }
func (e Error) Code() string    { return e.code }

func Errorf(status int, code, format string, args ...any) Error {
	return Error{status: status, code: code, err: errors.Errorf(format, args...)}
}

func errAuthRequired() Error {
	return Errorf(http.StatusUnauthorized, "auth_required", "authorization required")
}

func errAuthInvalid() Error {
	return Errorf(http.StatusUnauthorized, "auth_invalid", "invalid or expired token")
}

func errOriginNotAllowed(reason string) Error {
	return Errorf(http.StatusForbidden, "origin_not_allowed", "%s", reason)
}

func errRateLimited() Error {
	return Errorf(http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
}

func errWorkspaceRequired() Error {
	return Errorf(http.StatusConflict, "workspace_required", "no workspace root is configured")
}

type errorBody struct {
	Code    string `json:"errorCode"`
	Message string `json:"message"`
}

// writeError is the single terminal error handler: it maps component
// sentinel errors onto the API taxonomy and writes the JSON body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := Error{status: http.StatusInternalServerError, code: "internal_error", err: err}
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, sandbox.ErrOutsideWorkspace), errors.Is(err, sandbox.ErrNotRelative):
		apiErr = Errorf(http.StatusConflict, "path_outside_workspace", "path is outside the workspace root")
	case errors.Is(err, sandbox.ErrMissingPath):
		apiErr = Errorf(http.StatusNotFound, "path_not_found", "path does not exist")
	case errors.Is(err, gitcli.ErrInvalidRepoURL):
		apiErr = Errorf(http.StatusUnprocessableEntity, "invalid_repo_url", "repository URL is not allowed")
	case errors.Is(err, gitcli.ErrInvalidRemote):
		apiErr = Errorf(http.StatusUnprocessableEntity, "internal_error", "remote name is not allowed")
	case errors.Is(err, approval.ErrNotGranted):
		apiErr = Errorf(http.StatusConflict, "capability_not_granted", "capability has not been approved")
	case errors.Is(err, jobs.ErrJobNotFound):
		apiErr = Errorf(http.StatusNotFound, "job_not_found", "no such job")
	case errors.Is(err, jobs.ErrJobTerminal):
		apiErr = Errorf(http.StatusConflict, "internal_error", "job already finished")
	default:
		// Do not leak internals to the browser.
		apiErr.err = errors.New("internal error")
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.status)
	_ = json.NewEncoder(w).Encode(errorBody{Code: apiErr.code, Message: apiErr.err.Error()}) //nolint:errcheck
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return errors.Wrap(json.NewEncoder(w).Encode(payload), "encode response")
}
