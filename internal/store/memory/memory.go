// Package memory implements store.Store in process memory. It backs tests
// and single-node development servers; nothing is persisted.
package memory

import (
	"cmp"
	"context"
	"database/sql"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/savedsearch/internal/idgen"
	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/alfredjeanlab/savedsearch/internal/store"
)

type record struct {
	search         model.SavedSearch
	serverModified time.Time
}

type state struct {
	nextID    int64
	searches  map[int64]*record // by search id
	libraries map[int64]int64   // library id -> version
}

func (s *state) clone() *state {
	c := &state{
		nextID:    s.nextID,
		searches:  make(map[int64]*record, len(s.searches)),
		libraries: make(map[int64]int64, len(s.libraries)),
	}
	for id, r := range s.searches {
		cp := *r
		cp.search.Conditions = slices.Clone(r.search.Conditions)
		c.searches[id] = &cp
	}
	for id, v := range s.libraries {
		c.libraries[id] = v
	}
	return c
}

// Store is an in-memory store.Store. It is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	state *state

	// Now returns the current time; tests may replace it.
	Now func() time.Time

	failErr error
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		state: &state{nextID: 1, searches: make(map[int64]*record), libraries: make(map[int64]int64)},
		Now:   time.Now,
	}
}

// FailWrites makes every subsequent write return err until it is called with nil.
func (m *Store) FailWrites(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

func (m *Store) GetSearch(ctx context.Context, libraryID, searchID int64) (*model.SavedSearch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m}).GetSearch(ctx, libraryID, searchID)
}

func (m *Store) GetSearchByKey(ctx context.Context, libraryID int64, key string) (*model.SavedSearch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m}).GetSearchByKey(ctx, libraryID, key)
}

func (m *Store) ListSearches(ctx context.Context, libraryID int64, params model.SearchParams) (*model.SearchResults, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&view{m}).ListSearches(ctx, libraryID, params)
}

func (m *Store) SaveSearch(ctx context.Context, s *model.SavedSearch, userID int64) (bool, error) {
	var changed bool
	err := m.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		changed, err = tx.SaveSearch(ctx, s, userID)
		return err
	})
	return changed, err
}

func (m *Store) DeleteSearch(ctx context.Context, libraryID int64, key string) (int64, error) {
	var version int64
	err := m.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		version, err = tx.DeleteSearch(ctx, libraryID, key)
		return err
	})
	return version, err
}

func (m *Store) LibraryVersion(ctx context.Context, libraryID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.libraries[libraryID], nil
}

// RunInTransaction holds the store lock for the duration of fn and restores
// the previous state if fn fails.
func (m *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(&view{m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Store) Ping(ctx context.Context) error { return nil }

func (m *Store) Close() error { return nil }

// view implements store.Store on a Store whose lock is already held.
type view struct {
	m *Store
}

func (v *view) GetSearch(_ context.Context, libraryID, searchID int64) (*model.SavedSearch, error) {
	r, ok := v.m.state.searches[searchID]
	if !ok || r.search.LibraryID != libraryID {
		return nil, sql.ErrNoRows
	}
	return copySearch(&r.search), nil
}

func (v *view) GetSearchByKey(_ context.Context, libraryID int64, key string) (*model.SavedSearch, error) {
	if r := v.byKey(libraryID, key); r != nil {
		return copySearch(&r.search), nil
	}
	return nil, sql.ErrNoRows
}

func (v *view) byKey(libraryID int64, key string) *record {
	for _, r := range v.m.state.searches {
		if r.search.LibraryID == libraryID && r.search.Key == key {
			return r
		}
	}
	return nil
}

func (v *view) ListSearches(ctx context.Context, libraryID int64, p model.SearchParams) (*model.SearchResults, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ids := make(map[int64]bool, len(p.SearchIDs))
	for _, id := range p.SearchIDs {
		ids[id] = true
	}
	keyPos := make(map[string]int, len(p.SearchKeys))
	for i, k := range p.SearchKeys {
		if _, dup := keyPos[k]; !dup {
			keyPos[k] = i
		}
	}

	var matched []*record
	for _, r := range v.m.state.searches {
		s := &r.search
		switch {
		case s.LibraryID != libraryID:
		case p.Since > 0 && s.Version <= p.Since:
		case p.SinceTime > 0 && r.serverModified.Before(time.Unix(p.SinceTime, 0)):
		case len(ids) > 0 && !ids[s.ID]:
		case len(keyPos) > 0 && !hasKey(keyPos, s.Key):
		default:
			matched = append(matched, r)
		}
	}

	desc := strings.EqualFold(p.Direction, "DESC")
	slices.SortFunc(matched, func(a, b *record) int {
		c := compareBySort(a, b, p.Sort, keyPos)
		if c == 0 {
			c = cmp.Compare(a.search.Version, b.search.Version)
		}
		if c == 0 {
			c = cmp.Compare(a.search.ID, b.search.ID)
		}
		if desc {
			return -c
		}
		return c
	})

	total := len(matched)
	if p.Limit > 0 {
		lo := min(p.Start, len(matched))
		hi := min(lo+p.Limit, len(matched))
		matched = matched[lo:hi]
	}

	res := &model.SearchResults{Format: p.ResultFormat(), Total: total}
	switch res.Format {
	case model.FormatKeys:
		res.Keys = make([]string, 0, len(matched))
		for _, r := range matched {
			res.Keys = append(res.Keys, r.search.Key)
		}
	case model.FormatVersions:
		res.Versions = model.NewKeyVersions()
		for _, r := range matched {
			res.Versions.Set(r.search.Key, r.search.Version)
		}
	default:
		res.Searches = make([]*model.SavedSearch, 0, len(matched))
		for _, r := range matched {
			s, err := v.GetSearch(ctx, libraryID, r.search.ID)
			if err != nil {
				return nil, err
			}
			res.Searches = append(res.Searches, s)
		}
	}
	return res, nil
}

func hasKey(keyPos map[string]int, key string) bool {
	_, ok := keyPos[key]
	return ok
}

func compareBySort(a, b *record, sort string, keyPos map[string]int) int {
	switch sort {
	case model.SortTitle:
		return strings.Compare(a.search.Name, b.search.Name)
	case model.SortDateAdded:
		return a.search.DateAdded.Compare(b.search.DateAdded)
	case model.SortDateModified:
		return a.search.DateModified.Compare(b.search.DateModified)
	case model.SortSearchKeyList:
		return cmp.Compare(keyPos[a.search.Key], keyPos[b.search.Key])
	}
	return 0
}

func (v *view) SaveSearch(_ context.Context, s *model.SavedSearch, userID int64) (bool, error) {
	if !s.HasChanged() {
		return false, nil
	}
	if err := v.m.failErr; err != nil {
		return false, err
	}

	st := v.m.state
	now := v.m.Now().UTC().Truncate(time.Second)
	version := st.libraries[s.LibraryID] + 1
	st.libraries[s.LibraryID] = version

	if !s.Exists() {
		if s.Key == "" {
			key, err := idgen.GenerateKey()
			if err != nil {
				return false, err
			}
			s.Key = key
		}
		if v.byKey(s.LibraryID, s.Key) != nil {
			return false, model.Conflict("Search %s already exists", s.Key)
		}
		if s.DateAdded.IsZero() {
			s.DateAdded = now
		}
		s.ID = st.nextID
		st.nextID++
		s.CreatedByUserID = userID
	} else if r, ok := st.searches[s.ID]; !ok || r.search.LibraryID != s.LibraryID {
		return false, sql.ErrNoRows
	}

	s.DateModified = now
	s.LastModifiedByUserID = userID
	s.Version = version
	s.ClearChanged()
	st.searches[s.ID] = &record{search: *copySearch(s), serverModified: now}
	return true, nil
}

func (v *view) DeleteSearch(_ context.Context, libraryID int64, key string) (int64, error) {
	if err := v.m.failErr; err != nil {
		return 0, err
	}
	r := v.byKey(libraryID, key)
	if r == nil {
		return 0, sql.ErrNoRows
	}
	delete(v.m.state.searches, r.search.ID)
	v.m.state.libraries[libraryID]++
	return v.m.state.libraries[libraryID], nil
}

func (v *view) LibraryVersion(_ context.Context, libraryID int64) (int64, error) {
	return v.m.state.libraries[libraryID], nil
}

func (v *view) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(v)
}

func (v *view) Ping(context.Context) error { return nil }

func (v *view) Close() error { return nil }

func copySearch(s *model.SavedSearch) *model.SavedSearch {
	cp := model.SavedSearch{
		ID:                   s.ID,
		LibraryID:            s.LibraryID,
		Key:                  s.Key,
		Version:              s.Version,
		Name:                 s.Name,
		Conditions:           slices.Clone(s.Conditions),
		DateAdded:            s.DateAdded,
		DateModified:         s.DateModified,
		CreatedByUserID:      s.CreatedByUserID,
		LastModifiedByUserID: s.LastModifiedByUserID,
	}
	return &cp
}
