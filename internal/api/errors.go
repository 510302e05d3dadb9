package api

import (
	"encoding/json"
	"net/http"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/vspi-core/internal/ctlbridge"
)

// Error represents a structured error response. Errno is the negated errno
// of a failed control-plane operation.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Errno   int    `json:"errno,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest        = "bad_request"
	ErrCodeNotFound          = "not_found"
	ErrCodeUnauthorized      = "unauthorised"
	ErrCodeForbidden         = "forbidden"
	ErrCodeConflict          = "conflict"
	ErrCodeInternal          = "internal_error"
	ErrCodeMethodNotAllow    = "method_not_allowed"
	ErrCodeResourceExhausted = "resource_exhausted"
	ErrCodeRegistration      = "registration_failed"
	ErrCodeUnavailable       = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCtlError writes the response for a failed control-plane operation,
// choosing the status from the errno.
func writeCtlError(w http.ResponseWriter, err error) {
	errno := ctlbridge.Errno(err)
	status, code := statusForErrno(errno)
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: err.Error(),
		Errno:   -int(errno),
	})
}

// statusForErrno maps an errno onto an HTTP status and error code.
func statusForErrno(errno unix.Errno) (int, string) {
	switch errno {
	case unix.ENODEV, unix.ENOENT:
		return http.StatusNotFound, ErrCodeNotFound
	case unix.EEXIST:
		return http.StatusConflict, ErrCodeConflict
	case unix.ERANGE, unix.EINVAL, unix.EISDIR, unix.E2BIG:
		return http.StatusBadRequest, ErrCodeBadRequest
	case unix.EACCES:
		return http.StatusMethodNotAllowed, ErrCodeMethodNotAllow
	case unix.ENOMEM:
		return http.StatusInsufficientStorage, ErrCodeResourceExhausted
	default:
		return http.StatusBadGateway, ErrCodeRegistration
	}
}
