// Package searches implements listing and JSON writes of saved searches on
// top of the sharded store.
package searches

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/savedsearch/internal/events"
	"github.com/alfredjeanlab/savedsearch/internal/idgen"
	"github.com/alfredjeanlab/savedsearch/internal/metrics"
	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/alfredjeanlab/savedsearch/internal/store"
)

// Locator resolves a library to the store of the shard holding it.
type Locator interface {
	StoreForLibrary(libraryID int64) (store.Store, error)
}

// Service coordinates saved-search reads and writes.
type Service struct {
	shards    Locator
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService returns a Service. A nil publisher disables events; nil metrics
// record nothing.
func NewService(shards Locator, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{shards: shards, publisher: publisher, metrics: m, logger: logger}
}

func (s *Service) storeFor(libraryID int64) (store.Store, error) {
	st, err := s.shards.StoreForLibrary(libraryID)
	if err != nil {
		return nil, fmt.Errorf("locate shard for library %d: %w", libraryID, err)
	}
	return st, nil
}

// Search lists a library's saved searches. Total counts every match
// regardless of Limit and Start.
func (s *Service) Search(ctx context.Context, libraryID int64, params model.SearchParams) (*model.SearchResults, error) {
	start := time.Now()
	res, err := s.search(ctx, libraryID, params)
	s.metrics.ObserveOperation("list", start, err)
	return res, err
}

func (s *Service) search(ctx context.Context, libraryID int64, params model.SearchParams) (*model.SearchResults, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	st, err := s.storeFor(libraryID)
	if err != nil {
		return nil, err
	}
	res, err := st.ListSearches(ctx, libraryID, params)
	if err != nil {
		return nil, err
	}
	switch res.Format {
	case model.FormatKeys:
		s.metrics.ObserveListed(len(res.Keys))
	case model.FormatVersions:
		if res.Versions != nil {
			s.metrics.ObserveListed(res.Versions.Len())
		}
	default:
		s.metrics.ObserveListed(len(res.Searches))
	}
	return res, nil
}

// Get returns one search by key.
func (s *Service) Get(ctx context.Context, libraryID int64, key string) (*model.SavedSearch, error) {
	st, err := s.storeFor(libraryID)
	if err != nil {
		return nil, err
	}
	search, err := st.GetSearchByKey(ctx, libraryID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFound("Search %s not found", key)
	}
	return search, err
}

// LibraryVersion returns the library's current version.
func (s *Service) LibraryVersion(ctx context.Context, libraryID int64) (int64, error) {
	st, err := s.storeFor(libraryID)
	if err != nil {
		return 0, err
	}
	return st.LibraryVersion(ctx, libraryID)
}

// UpdateFromJSON validates data and applies it to search, which must have
// its library assigned, then saves it. It reports whether anything changed.
// On any validation failure search is left unmodified.
func (s *Service) UpdateFromJSON(ctx context.Context, search *model.SavedSearch, data []byte, req RequestParams,
	userID int64, requireVersion, partialUpdate bool) (bool, error) {
	start := time.Now()
	op := "update"
	if !search.Exists() {
		op = "create"
	}

	st, err := s.storeFor(search.LibraryID)
	if err != nil {
		s.metrics.ObserveOperation(op, start, err)
		return false, err
	}
	wasNew := !search.Exists()
	changed, fields, err := s.applyJSON(ctx, st, search, data, req, userID, requireVersion, partialUpdate)
	s.metrics.ObserveOperation(op, start, err)
	if err != nil {
		return false, err
	}
	if changed {
		s.publishWrite(ctx, search, wasNew, fields, userID)
	}
	return changed, nil
}

// Create adds a new search to a library from a full document.
func (s *Service) Create(ctx context.Context, libraryID int64, data []byte, userID int64) (*model.SavedSearch, error) {
	search := &model.SavedSearch{LibraryID: libraryID}
	if _, err := s.UpdateFromJSON(ctx, search, data, RequestParams{}, userID, false, false); err != nil {
		return nil, err
	}
	return search, nil
}

// Update writes the search stored under key, creating it when it does not
// exist yet. The lookup and save share one transaction.
func (s *Service) Update(ctx context.Context, libraryID int64, key string, data []byte, req RequestParams,
	userID int64, partialUpdate bool) (*model.SavedSearch, bool, error) {
	start := time.Now()
	st, err := s.storeFor(libraryID)
	if err != nil {
		s.metrics.ObserveOperation("update", start, err)
		return nil, false, err
	}

	var (
		search  *model.SavedSearch
		wasNew  bool
		changed bool
		fields  []string
	)
	err = st.RunInTransaction(ctx, func(tx store.Store) error {
		existing, err := tx.GetSearchByKey(ctx, libraryID, key)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if !idgen.IsValidKey(key) {
				return model.InvalidInput("key", "'%s' is not a valid search key", key)
			}
			existing = &model.SavedSearch{LibraryID: libraryID, Key: key}
		case err != nil:
			return err
		}
		search = existing
		wasNew = !existing.Exists()
		changed, fields, err = s.applyJSON(ctx, tx, existing, data, req, userID, true, partialUpdate)
		return err
	})
	s.metrics.ObserveOperation("update", start, err)
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.publishWrite(ctx, search, wasNew, fields, userID)
	}
	return search, changed, nil
}

// Delete removes the search stored under key. The request must state the
// version it expects to delete. It returns the new library version.
func (s *Service) Delete(ctx context.Context, libraryID int64, key string, req RequestParams, userID int64) (int64, error) {
	start := time.Now()
	version, err := s.delete(ctx, libraryID, key, req)
	s.metrics.ObserveOperation("delete", start, err)
	if err != nil {
		return 0, err
	}
	s.publish(ctx, events.Subject(libraryID, events.ActionDeleted), key, events.SearchDeleted{
		LibraryID: libraryID, Key: key, Version: version, UserID: userID,
	})
	return version, nil
}

func (s *Service) delete(ctx context.Context, libraryID int64, key string, req RequestParams) (int64, error) {
	if req.IfUnmodifiedSinceVersion == nil {
		return 0, model.PreconditionRequired("If-Unmodified-Since-Version not provided")
	}
	st, err := s.storeFor(libraryID)
	if err != nil {
		return 0, err
	}

	var version int64
	err = st.RunInTransaction(ctx, func(tx store.Store) error {
		existing, err := tx.GetSearchByKey(ctx, libraryID, key)
		if errors.Is(err, sql.ErrNoRows) {
			return model.NotFound("Search %s not found", key)
		}
		if err != nil {
			return err
		}
		if existing.Version != *req.IfUnmodifiedSinceVersion {
			return model.Conflict("Search has been modified since specified version (expected %d, found %d)",
				*req.IfUnmodifiedSinceVersion, existing.Version)
		}
		version, err = tx.DeleteSearch(ctx, libraryID, key)
		return err
	})
	return version, err
}

// applyJSON runs the full validate-then-apply sequence against st. Nothing
// on search is modified until every check has passed.
func (s *Service) applyJSON(ctx context.Context, st store.Store, search *model.SavedSearch, data []byte, req RequestParams,
	userID int64, requireVersion, partialUpdate bool) (bool, []string, error) {
	doc, err := extractEditableJSON(data)
	if err != nil {
		return false, nil, err
	}
	key, exists, err := processJSONObjectKey(search, doc)
	if err != nil {
		return false, nil, err
	}
	if err := checkJSONObjectVersion(search, doc, req, requireVersion); err != nil {
		return false, nil, err
	}
	if err := model.ValidateSearchJSON(doc, partialUpdate && exists); err != nil {
		return false, nil, err
	}

	name, hasName := doc.String("name")
	var conditions []model.Condition
	raw, hasConditions := doc.Get("conditions")
	if hasConditions {
		if conditions, err = model.ConditionsFromJSON(raw); err != nil {
			return false, nil, err
		}
	}

	if key != "" {
		search.Key = key
	}
	if hasName {
		search.SetName(name)
	}
	if hasConditions {
		search.UpdateConditions(conditions)
	}

	fields := changedFields(search)
	changed, err := st.SaveSearch(ctx, search, userID)
	if err != nil {
		return false, nil, fmt.Errorf("save %s: %w", describe(search), err)
	}
	return changed, fields, nil
}

func (s *Service) publishWrite(ctx context.Context, search *model.SavedSearch, created bool, fields []string, userID int64) {
	if created {
		s.publish(ctx, events.Subject(search.LibraryID, events.ActionCreated), search.Key, events.SearchCreated{Search: search, UserID: userID})
		return
	}
	s.publish(ctx, events.Subject(search.LibraryID, events.ActionUpdated), search.Key, events.SearchUpdated{Search: search, Changed: fields, UserID: userID})
}

// publish is best-effort; failures are logged but do not fail the write.
func (s *Service) publish(ctx context.Context, subject, key string, event any) {
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		s.logger.Warn("failed to publish event", "subject", subject, "key", key, "error", err)
	}
}
