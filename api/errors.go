package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/funstudy/funstudy/auth"
	"github.com/funstudy/funstudy/internal/apperr"
	"github.com/funstudy/funstudy/storage"
)

const (
	maxAuthBodySize = 16 << 10
	maxQuizBodySize = 256 << 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeErrorBody writes an error with a machine-readable code and optional
// hint fields merged into the top level of the body.
func writeErrorBody(w http.ResponseWriter, status int, msg, code string, hints map[string]any) {
	body := map[string]any{"success": false, "error": msg}
	if code != "" {
		body["code"] = code
	}
	for k, v := range hints {
		if _, reserved := body[k]; !reserved {
			body[k] = v
		}
	}
	writeJSON(w, status, body)
}

// mapError writes the response for err. Unknown errors become a 500 with no
// detail; the caller has already logged them.
func mapError(w http.ResponseWriter, err error) {
	var (
		validation *apperr.ValidationError
		notFound   *apperr.NotFoundError
		provider   *auth.AuthProviderError
		store      *apperr.StoreError
	)
	switch {
	case errors.As(err, &validation):
		writeErrorBody(w, http.StatusBadRequest, validation.Message, "ValidationError", nil)
	case errors.As(err, &notFound):
		writeErrorBody(w, http.StatusNotFound, notFound.Message, "NotFound", notFound.Hints)
	case errors.As(err, &provider):
		writeErrorBody(w, provider.Status, provider.Message, provider.Code, nil)
	case errors.Is(err, storage.ErrTableNotFound):
		writeErrorBody(w, http.StatusNotFound, "Collection not found", "ResourceNotFoundException", nil)
	case errors.As(err, &store):
		writeErrorBody(w, http.StatusInternalServerError, "Internal server error", store.Code(), map[string]any{
			"details": map[string]string{"operation": store.Op, "code": store.Code()},
		})
	default:
		writeErrorBody(w, http.StatusInternalServerError, "Internal server error", "InternalError", nil)
	}
}

// fail logs server-side failures with full detail and writes the mapped
// response. Client errors are logged at debug.
func (a *API) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	level := slog.LevelError
	var (
		validation *apperr.ValidationError
		notFound   *apperr.NotFoundError
	)
	if errors.As(err, &validation) || errors.As(err, &notFound) {
		level = slog.LevelDebug
	}
	a.logger.Log(r.Context(), level, msg, "path", r.URL.Path, "error", err)
	mapError(w, err)
}

// decodeJSON reads a JSON body of at most maxSize bytes into a T. On failure
// it writes a 400 and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return v, false
	}
	return v, true
}
