package httpapi

import (
	"encoding/json"
	"net/http"

	"diffusiond/internal/manager"
	"diffusiond/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusForError maps well-known manager errors to HTTP status codes.
// Conflicting lifecycle requests are 409s; construction and cleanup failures
// are server-side 500s.
func statusForError(err error) int {
	switch {
	case manager.IsModelNotFound(err):
		return http.StatusNotFound
	case manager.IsDuplicateLoad(err):
		return http.StatusConflict
	case manager.IsInvalidState(err):
		return http.StatusConflict
	case manager.IsCancelled(err):
		return http.StatusConflict
	default:
		if he, ok := err.(HTTPError); ok {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}
