// Package client provides a transport-agnostic interface for the saved-search
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/savedsearch/internal/model"
)

// SearchClient is the interface that CLI commands use to communicate with
// the saved-search server.
type SearchClient interface {
	ListSearches(ctx context.Context, libraryID int64, req *ListSearchesRequest) (*ListSearchesResponse, error)
	GetSearch(ctx context.Context, libraryID int64, key string) (*model.SavedSearch, error)
	CreateSearch(ctx context.Context, libraryID int64, doc json.RawMessage) (*model.SavedSearch, error)
	UpdateSearch(ctx context.Context, libraryID int64, key string, req *UpdateSearchRequest) (*model.SavedSearch, error)
	DeleteSearch(ctx context.Context, libraryID int64, key string, version int64) (int64, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// ListSearchesRequest holds listing parameters. Zero values are omitted.
type ListSearchesRequest struct {
	Format     string
	SearchKeys []string
	Since      int64
	SinceTime  int64
	Sort       string
	Direction  string
	Limit      int
	Start      int
}

// ListSearchesResponse is the response from ListSearches. Exactly one of
// Keys, Versions or Searches is set, according to the requested format.
type ListSearchesResponse struct {
	Keys           []string
	Versions       *model.KeyVersions
	Searches       []*model.SavedSearch
	Total          int
	LibraryVersion int64
}

// UpdateSearchRequest holds a replacement (or, with Patch, partial) search
// document and the version it was based on.
type UpdateSearchRequest struct {
	Doc     json.RawMessage
	Version *int64 // sent as If-Unmodified-Since-Version when set
	Patch   bool
}
