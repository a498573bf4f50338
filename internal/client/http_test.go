package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string // URL-encoded path (for testing PathEscape)
	query       string
	body        string
	contentType string
	header      http.Header

	// canned response
	statusCode     int
	responseBody   string
	responseHeader map[string]string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.header = r.Header.Clone()
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	for k, v := range h.responseHeader {
		w.Header().Set(k, v)
	}
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(h http.Handler, opts ...Option) (*HTTPClient, *httptest.Server) {
	srv := httptest.NewServer(h)
	c := NewHTTPClient(srv.URL, opts...)
	return c, srv
}

const searchJSON = `{
	"libraryID": 7,
	"key": "ABCD2345",
	"version": 3,
	"name": "Unread",
	"conditions": [{"condition": "tag", "operator": "is", "value": "unread"}],
	"dateAdded": "2026-01-15T10:00:00Z",
	"dateModified": "2026-01-16T10:00:00Z"
}`

// --- ListSearches ---

func TestHTTPClient_ListSearches_Full(t *testing.T) {
	h := &testHandler{
		responseBody:   "[" + searchJSON + "]",
		responseHeader: map[string]string{"Total-Results": "12", "Last-Modified-Version": "40"},
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	resp, err := c.ListSearches(context.Background(), 7, &ListSearchesRequest{
		SearchKeys: []string{"ABCD2345", "EFGH2345"},
		Since:      5,
		Sort:       "title",
		Direction:  "desc",
		Limit:      1,
		Start:      2,
	})
	if err != nil {
		t.Fatalf("ListSearches: %v", err)
	}

	if h.method != http.MethodGet {
		t.Errorf("method = %q, want GET", h.method)
	}
	if h.path != "/v1/libraries/7/searches" {
		t.Errorf("path = %q, want /v1/libraries/7/searches", h.path)
	}
	for _, want := range []string{"searchKey=ABCD2345%2CEFGH2345", "since=5", "sort=title", "direction=desc", "limit=1", "start=2"} {
		if !strings.Contains(h.query, want) {
			t.Errorf("query %q missing %q", h.query, want)
		}
	}
	if strings.Contains(h.query, "sincetime") || strings.Contains(h.query, "format") {
		t.Errorf("query %q should omit zero-valued params", h.query)
	}

	if resp.Total != 12 {
		t.Errorf("Total = %d, want 12", resp.Total)
	}
	if resp.LibraryVersion != 40 {
		t.Errorf("LibraryVersion = %d, want 40", resp.LibraryVersion)
	}
	if len(resp.Searches) != 1 {
		t.Fatalf("len(Searches) = %d, want 1", len(resp.Searches))
	}
	s := resp.Searches[0]
	if s.Key != "ABCD2345" || s.Version != 3 || s.Name != "Unread" {
		t.Errorf("search = %+v", s)
	}
	if len(s.Conditions) != 1 || s.Conditions[0].Value != "unread" {
		t.Errorf("conditions = %+v", s.Conditions)
	}
	if resp.Keys != nil || resp.Versions != nil {
		t.Error("only Searches should be set for the full format")
	}
}

func TestHTTPClient_ListSearches_Keys(t *testing.T) {
	h := &testHandler{
		responseBody:   `["ABCD2345","EFGH2345"]`,
		responseHeader: map[string]string{"Total-Results": "2"},
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	resp, err := c.ListSearches(context.Background(), 1, &ListSearchesRequest{Format: "keys"})
	if err != nil {
		t.Fatalf("ListSearches: %v", err)
	}
	if h.query != "format=keys" {
		t.Errorf("query = %q, want format=keys", h.query)
	}
	if len(resp.Keys) != 2 || resp.Keys[1] != "EFGH2345" {
		t.Errorf("Keys = %v", resp.Keys)
	}
	if resp.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Total)
	}
}

func TestHTTPClient_ListSearches_Versions(t *testing.T) {
	h := &testHandler{responseBody: `{"EFGH2345":9,"ABCD2345":4}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	resp, err := c.ListSearches(context.Background(), 1, &ListSearchesRequest{Format: "versions"})
	if err != nil {
		t.Fatalf("ListSearches: %v", err)
	}
	if resp.Versions == nil {
		t.Fatal("Versions is nil")
	}
	keys := resp.Versions.Keys()
	if len(keys) != 2 || keys[0] != "EFGH2345" || keys[1] != "ABCD2345" {
		t.Errorf("keys = %v, want server order", keys)
	}
	if v, ok := resp.Versions.Get("ABCD2345"); !ok || v != 4 {
		t.Errorf("ABCD2345 = %d, %v; want 4", v, ok)
	}
}

func TestHTTPClient_ListSearches_NilRequest(t *testing.T) {
	h := &testHandler{responseBody: `[]`}
	c, srv := newTestClient(h)
	defer srv.Close()

	resp, err := c.ListSearches(context.Background(), 3, nil)
	if err != nil {
		t.Fatalf("ListSearches: %v", err)
	}
	if h.query != "" {
		t.Errorf("query = %q, want empty", h.query)
	}
	if len(resp.Searches) != 0 {
		t.Errorf("Searches = %v, want empty", resp.Searches)
	}
	if resp.Total != 0 {
		t.Errorf("Total = %d, want 0 when header is absent", resp.Total)
	}
}

// --- GetSearch ---

func TestHTTPClient_GetSearch(t *testing.T) {
	h := &testHandler{responseBody: searchJSON}
	c, srv := newTestClient(h)
	defer srv.Close()

	s, err := c.GetSearch(context.Background(), 7, "ABCD2345")
	if err != nil {
		t.Fatalf("GetSearch: %v", err)
	}
	if h.path != "/v1/libraries/7/searches/ABCD2345" {
		t.Errorf("path = %q", h.path)
	}
	if s.LibraryID != 7 || s.Key != "ABCD2345" {
		t.Errorf("search = %+v", s)
	}
	want := time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)
	if !s.DateModified.Equal(want) {
		t.Errorf("DateModified = %v, want %v", s.DateModified, want)
	}
}

func TestHTTPClient_GetSearch_URLEscaping(t *testing.T) {
	h := &testHandler{statusCode: http.StatusNotFound, responseBody: `{"error":"not found"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, _ = c.GetSearch(context.Background(), 1, "a/b")
	if h.rawPath != "/v1/libraries/1/searches/a%2Fb" {
		t.Errorf("rawPath = %q, want /v1/libraries/1/searches/a%%2Fb", h.rawPath)
	}
}

// --- CreateSearch ---

func TestHTTPClient_CreateSearch(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: searchJSON}
	c, srv := newTestClient(h, WithUserID(42))
	defer srv.Close()

	doc := json.RawMessage(`{"name":"Unread","conditions":[{"condition":"tag","operator":"is","value":"unread"}]}`)
	s, err := c.CreateSearch(context.Background(), 7, doc)
	if err != nil {
		t.Fatalf("CreateSearch: %v", err)
	}
	if h.method != http.MethodPost {
		t.Errorf("method = %q, want POST", h.method)
	}
	if h.body != string(doc) {
		t.Errorf("body = %q, want document sent verbatim", h.body)
	}
	if h.contentType != "application/json" {
		t.Errorf("Content-Type = %q", h.contentType)
	}
	if got := h.header.Get("X-User-ID"); got != "42" {
		t.Errorf("X-User-ID = %q, want 42", got)
	}
	if s.Version != 3 {
		t.Errorf("Version = %d, want 3", s.Version)
	}
}

// --- UpdateSearch ---

func TestHTTPClient_UpdateSearch(t *testing.T) {
	version := int64(3)
	tests := []struct {
		name        string
		req         *UpdateSearchRequest
		wantMethod  string
		wantVersion string
	}{
		{"Put", &UpdateSearchRequest{Doc: json.RawMessage(`{"name":"x"}`), Version: &version}, http.MethodPut, "3"},
		{"Patch", &UpdateSearchRequest{Doc: json.RawMessage(`{"name":"x"}`), Version: &version, Patch: true}, http.MethodPatch, "3"},
		{"NoVersion", &UpdateSearchRequest{Doc: json.RawMessage(`{"name":"x","version":3}`)}, http.MethodPut, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &testHandler{responseBody: searchJSON}
			c, srv := newTestClient(h)
			defer srv.Close()

			if _, err := c.UpdateSearch(context.Background(), 7, "ABCD2345", tt.req); err != nil {
				t.Fatalf("UpdateSearch: %v", err)
			}
			if h.method != tt.wantMethod {
				t.Errorf("method = %q, want %q", h.method, tt.wantMethod)
			}
			if got := h.header.Get("If-Unmodified-Since-Version"); got != tt.wantVersion {
				t.Errorf("If-Unmodified-Since-Version = %q, want %q", got, tt.wantVersion)
			}
			if h.body != string(tt.req.Doc) {
				t.Errorf("body = %q", h.body)
			}
		})
	}
}

// --- DeleteSearch ---

func TestHTTPClient_DeleteSearch(t *testing.T) {
	h := &testHandler{
		statusCode:     http.StatusNoContent,
		responseHeader: map[string]string{"Last-Modified-Version": "41"},
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	v, err := c.DeleteSearch(context.Background(), 7, "ABCD2345", 40)
	if err != nil {
		t.Fatalf("DeleteSearch: %v", err)
	}
	if h.method != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", h.method)
	}
	if got := h.header.Get("If-Unmodified-Since-Version"); got != "40" {
		t.Errorf("If-Unmodified-Since-Version = %q, want 40", got)
	}
	if v != 41 {
		t.Errorf("version = %d, want 41", v)
	}
}

// --- Health ---

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.path != "/v1/health" {
		t.Errorf("path = %q", h.path)
	}
	if status != "ok" {
		t.Errorf("status = %q, want ok", status)
	}
}

// --- Auth ---

func TestHTTPClient_BearerToken(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	c, srv := newTestClient(h, WithToken("s3cret"))
	defer srv.Close()

	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
	if got := h.header.Get("Authorization"); got != "Bearer s3cret" {
		t.Errorf("Authorization = %q", got)
	}
	if got := h.header.Get("X-User-ID"); got != "" {
		t.Errorf("X-User-ID = %q, want unset", got)
	}
}

// --- Errors ---

func TestHTTPClient_Error_JSONBody(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusBadRequest,
		responseBody: `{"error":"Search name cannot be empty","field":"name"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.CreateSearch(context.Background(), 1, json.RawMessage(`{"name":""}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.StatusCode)
	}
	if apiErr.Message != "Search name cannot be empty" {
		t.Errorf("message = %q", apiErr.Message)
	}
	if apiErr.Field != "name" {
		t.Errorf("field = %q, want name", apiErr.Field)
	}
}

func TestHTTPClient_Error_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL)

	_, err := c.GetSearch(context.Background(), 1, "ABCD2345")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", apiErr.StatusCode)
	}
	if apiErr.Message != "upstream down" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestHTTPClient_Error_PreconditionFailed(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusPreconditionFailed,
		responseBody: `{"error":"Search has been modified since specified version (expected 2, found 3)"}`,
	}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.DeleteSearch(context.Background(), 1, "ABCD2345", 2)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", apiErr.StatusCode)
	}
}

func TestHTTPClient_Error_FormatString(t *testing.T) {
	tests := []struct {
		err  *APIError
		want string
	}{
		{&APIError{StatusCode: 403, Message: "forbidden"}, "HTTP 403: forbidden"},
		{&APIError{StatusCode: 400, Message: "bad", Field: "name"}, "HTTP 400: bad (name)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestHTTPClient_Error_BadResponseJSON(t *testing.T) {
	h := &testHandler{responseBody: `{not json`}
	c, srv := newTestClient(h)
	defer srv.Close()

	_, err := c.GetSearch(context.Background(), 1, "ABCD2345")
	if err == nil || !strings.Contains(err.Error(), "decoding response") {
		t.Fatalf("err = %v, want decoding error", err)
	}
}

func TestHTTPClient_Error_CanceledContext(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"ok"}`}
	c, srv := newTestClient(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Health(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestHTTPClient_Close(t *testing.T) {
	c := NewHTTPClient("http://localhost:1")
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewHTTPClient_TrimsTrailingSlash(t *testing.T) {
	c := NewHTTPClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

func TestHTTPClient_ImplementsSearchClient(t *testing.T) {
	var _ SearchClient = (*HTTPClient)(nil)
}

func TestHTTPClient_ConcurrentRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Health(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Health: %v", err)
	}
}
