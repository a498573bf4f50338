package store

import (
	"context"

	"github.com/alfredjeanlab/savedsearch/internal/model"
)

// Store defines the persistence interface for a shard's saved searches.
type Store interface {
	// Lookup
	GetSearch(ctx context.Context, libraryID, searchID int64) (*model.SavedSearch, error)
	GetSearchByKey(ctx context.Context, libraryID int64, key string) (*model.SavedSearch, error)
	ListSearches(ctx context.Context, libraryID int64, params model.SearchParams) (*model.SearchResults, error)

	// SaveSearch persists s and reports whether anything was written. An
	// existing search with no recorded changes is left untouched.
	SaveSearch(ctx context.Context, s *model.SavedSearch, userID int64) (bool, error)
	// DeleteSearch removes the search and returns the new library version.
	DeleteSearch(ctx context.Context, libraryID int64, key string) (int64, error)

	// Library versions
	LibraryVersion(ctx context.Context, libraryID int64) (int64, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
