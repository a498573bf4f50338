package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/alfredjeanlab/savedsearch/internal/searches"
)

// handleListSearches handles GET /v1/libraries/{libraryID}/searches.
func (s *SearchServer) handleListSearches(w http.ResponseWriter, r *http.Request) {
	libraryID, err := libraryIDParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	params, err := parseSearchParams(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	res, err := s.searches.Search(r.Context(), libraryID, params)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	version, err := s.searches.LibraryVersion(r.Context(), libraryID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	w.Header().Set(headerTotalResults, strconv.Itoa(res.Total))
	setVersion(w, version)
	writeJSON(w, http.StatusOK, res.Results())
}

// handleGetSearch handles GET /v1/libraries/{libraryID}/searches/{key}.
func (s *SearchServer) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	libraryID, err := libraryIDParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	search, err := s.searches.Get(r.Context(), libraryID, r.PathValue("key"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	setVersion(w, search.Version)
	writeJSON(w, http.StatusOK, search)
}

// handleCreateSearch handles POST /v1/libraries/{libraryID}/searches.
func (s *SearchServer) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	libraryID, err := libraryIDParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	userID, err := userIDHeader(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	search, err := s.searches.Create(r.Context(), libraryID, body, userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	setVersion(w, search.Version)
	writeJSON(w, http.StatusCreated, search)
}

// handleUpdateSearch handles PUT /v1/libraries/{libraryID}/searches/{key}.
func (s *SearchServer) handleUpdateSearch(w http.ResponseWriter, r *http.Request) {
	s.updateSearch(w, r, false)
}

// handlePatchSearch handles PATCH /v1/libraries/{libraryID}/searches/{key}.
func (s *SearchServer) handlePatchSearch(w http.ResponseWriter, r *http.Request) {
	s.updateSearch(w, r, true)
}

func (s *SearchServer) updateSearch(w http.ResponseWriter, r *http.Request, partial bool) {
	libraryID, err := libraryIDParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	userID, err := userIDHeader(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	req, err := requestParams(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	search, _, err := s.searches.Update(r.Context(), libraryID, r.PathValue("key"), body, req, userID, partial)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	setVersion(w, search.Version)
	writeJSON(w, http.StatusOK, search)
}

// handleDeleteSearch handles DELETE /v1/libraries/{libraryID}/searches/{key}.
func (s *SearchServer) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	libraryID, err := libraryIDParam(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	userID, err := userIDHeader(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	req, err := requestParams(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	version, err := s.searches.Delete(r.Context(), libraryID, r.PathValue("key"), req, userID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	setVersion(w, version)
	w.WriteHeader(http.StatusNoContent)
}

func libraryIDParam(r *http.Request) (int64, error) {
	v := r.PathValue("libraryID")
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, model.InvalidInput("libraryID", "Invalid library ID '%s'", v)
	}
	return id, nil
}

func userIDHeader(r *http.Request) (int64, error) {
	v := r.Header.Get(headerUserID)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, model.InvalidInput("userID", "Invalid %s header '%s'", headerUserID, v)
	}
	return id, nil
}

func requestParams(r *http.Request) (searches.RequestParams, error) {
	v := r.Header.Get(headerIfUnmodifiedSince)
	if v == "" {
		return searches.RequestParams{}, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return searches.RequestParams{}, model.InvalidInput("version", "Invalid %s header '%s'", headerIfUnmodifiedSince, v)
	}
	return searches.RequestParams{IfUnmodifiedSinceVersion: &n}, nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, model.FieldTooLong("", "Request body cannot be larger than %d bytes", maxBodyBytes)
		}
		return nil, model.InvalidInput("", "Could not read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, model.InvalidInput("", "Request body is empty")
	}
	return body, nil
}

// parseSearchParams reads listing parameters from the query string.
func parseSearchParams(r *http.Request) (model.SearchParams, error) {
	q := r.URL.Query()
	p := model.SearchParams{
		Format:    q.Get("format"),
		Sort:      q.Get("sort"),
		Direction: q.Get("direction"),
	}
	if v := q.Get("searchKey"); v != "" {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				p.SearchKeys = append(p.SearchKeys, k)
			}
		}
	}

	var err error
	if p.Since, err = int64Param(q.Get("since"), "since"); err != nil {
		return p, err
	}
	if p.SinceTime, err = int64Param(q.Get("sincetime"), "sincetime"); err != nil {
		return p, err
	}
	limit, err := int64Param(q.Get("limit"), "limit")
	if err != nil {
		return p, err
	}
	start, err := int64Param(q.Get("start"), "start")
	if err != nil {
		return p, err
	}
	p.Limit, p.Start = int(limit), int(start)
	return p, nil
}

func int64Param(v, name string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, model.InvalidInput(name, "Invalid '%s' value '%s'", name, v)
	}
	return n, nil
}
