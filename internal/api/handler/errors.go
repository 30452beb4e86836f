// Package handler implements the HTTP endpoints for jobs and sequences.
package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jakub-figat/chromatin/internal/apperr"
	mw "github.com/jakub-figat/chromatin/internal/api/middleware"
	"github.com/jakub-figat/chromatin/internal/api/response"
)

const maxBodyBytes = 16 << 20

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case apperr.IsNotFound(err):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case apperr.IsValidation(err):
		response.Error(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case apperr.IsPermissionDenied(err):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

func invalidRequest(w http.ResponseWriter, message string) {
	response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", message, nil)
}

// requireUser reads the authenticated user, answering 401 when missing.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
	}
	return userID, ok
}

// pathID parses a positive integer URL parameter, answering 400 when it is
// not one.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		invalidRequest(w, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
