package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/alfredjeanlab/savedsearch/internal/shard"
)

// maxBodyBytes caps inbound search documents.
const maxBodyBytes = 1 << 20

// Response headers.
const (
	headerTotalResults        = "Total-Results"
	headerLastModifiedVersion = "Last-Modified-Version"
	headerIfUnmodifiedSince   = "If-Unmodified-Since-Version"
	headerUserID              = "X-User-ID"
	headerRequestID           = "X-Request-ID"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health and
// GET /metrics) must include a valid Authorization: Bearer <token> header.
func (s *SearchServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/libraries/{libraryID}/searches", s.handleListSearches)
	mux.HandleFunc("POST /v1/libraries/{libraryID}/searches", s.handleCreateSearch)
	mux.HandleFunc("GET /v1/libraries/{libraryID}/searches/{key}", s.handleGetSearch)
	mux.HandleFunc("PUT /v1/libraries/{libraryID}/searches/{key}", s.handleUpdateSearch)
	mux.HandleFunc("PATCH /v1/libraries/{libraryID}/searches/{key}", s.handlePatchSearch)
	mux.HandleFunc("DELETE /v1/libraries/{libraryID}/searches/{key}", s.handleDeleteSearch)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	var h http.Handler = AuthMiddleware(authToken, mux)
	h = s.observe(h)
	h = RecoveryMiddleware(s.logger, h)
	return RequestIDMiddleware(h)
}

// handleHealth handles GET /v1/health.
func (s *SearchServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeErr maps err to a status code and writes it. Unclassified errors are
// logged and reported as 500 without their detail.
func (s *SearchServer) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	var me *model.Error
	switch {
	case errors.As(err, &me):
		body := map[string]string{"error": me.Message}
		if me.Field != "" {
			body["field"] = me.Field
		}
		writeJSON(w, errorStatus(me.Kind), body)
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, shard.ErrUnknownShard):
		s.logger.Error("shard lookup failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
		writeError(w, http.StatusServiceUnavailable, "library is not available")
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", requestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func errorStatus(kind model.ErrorKind) int {
	switch kind {
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindFieldTooLong:
		return http.StatusRequestEntityTooLarge
	case model.KindConflict:
		return http.StatusPreconditionFailed
	case model.KindPreconditionRequired:
		return http.StatusPreconditionRequired
	case model.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func setVersion(w http.ResponseWriter, v int64) {
	w.Header().Set(headerLastModifiedVersion, strconv.FormatInt(v, 10))
}
