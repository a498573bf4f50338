package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/savedsearch/internal/model"
)

// HTTPClient implements SearchClient using the HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	userID     int64
	httpClient *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithToken sets a bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// WithUserID sets the acting user sent as X-User-ID on writes.
func WithUserID(id int64) Option {
	return func(c *HTTPClient) { c.userID = id }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func searchesPath(libraryID int64) string {
	return "/v1/libraries/" + strconv.FormatInt(libraryID, 10) + "/searches"
}

func searchPath(libraryID int64, key string) string {
	return searchesPath(libraryID) + "/" + url.PathEscape(key)
}

// --- Searches ---

func (c *HTTPClient) ListSearches(ctx context.Context, libraryID int64, req *ListSearchesRequest) (*ListSearchesResponse, error) {
	if req == nil {
		req = &ListSearchesRequest{}
	}
	q := url.Values{}
	if req.Format != "" {
		q.Set("format", req.Format)
	}
	if len(req.SearchKeys) > 0 {
		q.Set("searchKey", strings.Join(req.SearchKeys, ","))
	}
	if req.Since > 0 {
		q.Set("since", strconv.FormatInt(req.Since, 10))
	}
	if req.SinceTime > 0 {
		q.Set("sincetime", strconv.FormatInt(req.SinceTime, 10))
	}
	if req.Sort != "" {
		q.Set("sort", req.Sort)
	}
	if req.Direction != "" {
		q.Set("direction", req.Direction)
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Start > 0 {
		q.Set("start", strconv.Itoa(req.Start))
	}

	path := searchesPath(libraryID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp := &ListSearchesResponse{}
	var result any
	switch req.Format {
	case model.FormatKeys:
		result = &resp.Keys
	case model.FormatVersions:
		resp.Versions = model.NewKeyVersions()
		result = resp.Versions
	default:
		result = &resp.Searches
	}

	header, err := c.do(ctx, http.MethodGet, path, nil, nil, result)
	if err != nil {
		return nil, err
	}
	resp.Total, _ = strconv.Atoi(header.Get("Total-Results"))
	resp.LibraryVersion = lastModifiedVersion(header)
	return resp, nil
}

func (c *HTTPClient) GetSearch(ctx context.Context, libraryID int64, key string) (*model.SavedSearch, error) {
	var s model.SavedSearch
	if _, err := c.do(ctx, http.MethodGet, searchPath(libraryID, key), nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) CreateSearch(ctx context.Context, libraryID int64, doc json.RawMessage) (*model.SavedSearch, error) {
	var s model.SavedSearch
	if _, err := c.do(ctx, http.MethodPost, searchesPath(libraryID), doc, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) UpdateSearch(ctx context.Context, libraryID int64, key string, req *UpdateSearchRequest) (*model.SavedSearch, error) {
	method := http.MethodPut
	if req.Patch {
		method = http.MethodPatch
	}
	h := http.Header{}
	if req.Version != nil {
		h.Set("If-Unmodified-Since-Version", strconv.FormatInt(*req.Version, 10))
	}
	var s model.SavedSearch
	if _, err := c.do(ctx, method, searchPath(libraryID, key), req.Doc, h, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSearch deletes the search if it is still at version and returns the
// new library version.
func (c *HTTPClient) DeleteSearch(ctx context.Context, libraryID int64, key string, version int64) (int64, error) {
	h := http.Header{}
	h.Set("If-Unmodified-Since-Version", strconv.FormatInt(version, 10))
	header, err := c.do(ctx, http.MethodDelete, searchPath(libraryID, key), nil, h, nil)
	if err != nil {
		return 0, err
	}
	return lastModifiedVersion(header), nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/v1/health", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Field      string // offending property, when the server names one
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("HTTP %d: %s (%s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func lastModifiedVersion(h http.Header) int64 {
	v, _ := strconv.ParseInt(h.Get("Last-Modified-Version"), 10, 64)
	return v
}

// do performs an HTTP request with an optional raw JSON body and decodes the
// JSON response into result. If result is nil, the response body is
// discarded. It returns the response headers.
func (c *HTTPClient) do(ctx context.Context, method, path string, body json.RawMessage, header http.Header, result any) (http.Header, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(c.userID, 10))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content: success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return resp.Header, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Field string `json:"field"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Field: errResp.Field}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return nil, fmt.Errorf("decoding response: %w", err)
		}
	}

	return resp.Header, nil
}
