package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/auricle-labs/timbre/internal/observe"
	"github.com/auricle-labs/timbre/internal/resilience"
	"github.com/auricle-labs/timbre/pkg/ident"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// badRequestError marks handler-level input validation failures so writeError
// maps them to 400.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// writeError maps err onto an HTTP status and writes the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	var br *badRequestError
	switch {
	case errors.As(err, &br), ident.IsDimensionError(err), errors.Is(err, ident.ErrNoReference):
		status = http.StatusBadRequest
		kind = "bad_request"
	case ident.IsNotFound(err):
		status = http.StatusNotFound
		kind = "not_found"
	case errors.Is(err, ident.ErrAlreadyVerified):
		status = http.StatusConflict
		kind = "conflict"
	case errors.Is(err, resilience.ErrOpen):
		status = http.StatusServiceUnavailable
		kind = "unavailable"
	}

	if status >= http.StatusInternalServerError {
		// Internal detail stays in the logs, not the response.
		observe.Logger(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "err", err)
		writeJSON(w, status, errorBody{Error: "internal error", Kind: kind})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
