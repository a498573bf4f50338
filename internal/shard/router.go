package shard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alfredjeanlab/savedsearch/internal/store"
)

// DefaultRetireDelay is how long a store replaced by a directory reload
// stays open for requests that already hold it.
const DefaultRetireDelay = 30 * time.Second

// Opener opens the store for a shard database.
type Opener func(databaseURL string) (store.Store, error)

// shardSlot is one open (or opening) shard store. ready is closed once
// store or err is set.
type shardSlot struct {
	id    int
	url   string
	ready chan struct{}
	store store.Store
	err   error
}

func (s *shardSlot) wait() (store.Store, error) {
	<-s.ready
	return s.store, s.err
}

// Router resolves a library to its shard's store, opening stores lazily and
// reopening one when its database_url changes after a directory reload.
// Opens run outside the router lock, so a slow shard only delays callers of
// that shard.
type Router struct {
	dir         *Directory
	open        Opener
	retireDelay time.Duration

	mu       sync.Mutex
	stores   map[int]*shardSlot
	retiring map[*shardSlot]*time.Timer
}

// NewRouter creates a Router over dir.
func NewRouter(dir *Directory, open Opener) *Router {
	return &Router{
		dir:         dir,
		open:        open,
		retireDelay: DefaultRetireDelay,
		stores:      make(map[int]*shardSlot),
		retiring:    make(map[*shardSlot]*time.Timer),
	}
}

// Directory returns the directory the router consults.
func (r *Router) Directory() *Directory {
	return r.dir
}

// StoreForLibrary returns the store holding libraryID.
func (r *Router) StoreForLibrary(libraryID int64) (store.Store, error) {
	id, err := r.dir.ShardForLibrary(libraryID)
	if err != nil {
		return nil, err
	}
	return r.storeForShard(id)
}

func (r *Router) storeForShard(id int) (store.Store, error) {
	cfg, err := r.dir.Shard(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	slot, ok := r.stores[id]
	if ok && slot.url != cfg.DatabaseURL {
		delete(r.stores, id)
		r.retireLocked(slot)
		ok = false
	}
	if ok {
		r.mu.Unlock()
		return slot.wait()
	}
	slot = &shardSlot{id: id, url: cfg.DatabaseURL, ready: make(chan struct{})}
	r.stores[id] = slot
	r.mu.Unlock()

	st, err := r.open(cfg.DatabaseURL)
	if err != nil {
		slot.err = fmt.Errorf("open shard %d: %w", id, err)
		r.mu.Lock()
		if r.stores[id] == slot {
			delete(r.stores, id)
		}
		r.mu.Unlock()
	} else {
		slot.store = st
	}
	close(slot.ready)
	return slot.wait()
}

// retireLocked closes slot's store once retireDelay has passed. r.mu must
// be held.
func (r *Router) retireLocked(slot *shardSlot) {
	r.retiring[slot] = time.AfterFunc(r.retireDelay, func() {
		r.mu.Lock()
		_, pending := r.retiring[slot]
		delete(r.retiring, slot)
		r.mu.Unlock()
		if pending {
			_ = closeSlot(slot)
		}
	})
}

func closeSlot(slot *shardSlot) error {
	st, err := slot.wait()
	if err != nil || st == nil {
		return nil
	}
	if err := st.Close(); err != nil {
		return fmt.Errorf("close shard %d: %w", slot.id, err)
	}
	return nil
}

// Ping checks every configured shard, opening it if needed.
func (r *Router) Ping(ctx context.Context) error {
	var errs []error
	for _, cfg := range r.dir.Shards() {
		st, err := r.storeForShard(cfg.ID)
		if err == nil {
			err = st.Ping(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("shard %d: %w", cfg.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every open store, including replaced ones still inside
// their retire delay.
func (r *Router) Close() error {
	r.mu.Lock()
	var slots []*shardSlot
	for id, s := range r.stores {
		slots = append(slots, s)
		delete(r.stores, id)
	}
	for s, t := range r.retiring {
		t.Stop()
		slots = append(slots, s)
		delete(r.retiring, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range slots {
		if err := closeSlot(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
