package shard

import (
	"context"

	"github.com/alfredjeanlab/savedsearch/internal/store"
)

// Single serves every library from one store. It backs development servers
// running without a shard directory.
type Single struct {
	Store store.Store
}

// StoreForLibrary returns the wrapped store for any library.
func (s Single) StoreForLibrary(int64) (store.Store, error) {
	return s.Store, nil
}

func (s Single) Ping(ctx context.Context) error {
	return s.Store.Ping(ctx)
}

func (s Single) Close() error {
	return s.Store.Close()
}
