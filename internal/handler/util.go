package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/outreach-engine/internal/apperr"
	"github.com/capitalize-ai/outreach-engine/internal/middleware"
	"github.com/capitalize-ai/outreach-engine/pkg/logger"
)

const maxBody = 1 << 20

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// fail maps err onto a status code. Internal errors are logged and hidden.
func fail(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.WithContext(middleware.GetCorrelationID(r.Context()), middleware.GetOwnerID(r.Context())).
			Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Fields: apperr.FieldsOf(err)})
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// pathID reads and validates a uuid route parameter.
func pathID(r *http.Request, name, kind string) (string, error) {
	id := chi.URLParam(r, name)
	if err := middleware.ValidateID(kind, id); err != nil {
		return "", apperr.Validation("%v", err)
	}
	return id, nil
}

// queryTime parses an optional RFC 3339 timestamp or YYYY-MM-DD date.
func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid %s: expected RFC 3339 time or YYYY-MM-DD", name)
	}
	return t, nil
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}
