package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alfredjeanlab/savedsearch/internal/metrics"
	"github.com/alfredjeanlab/savedsearch/internal/searches"
	"github.com/alfredjeanlab/savedsearch/internal/server"
	"github.com/alfredjeanlab/savedsearch/internal/store"
	"github.com/alfredjeanlab/savedsearch/internal/store/memory"
)

type memoryLocator struct{ st *memory.Store }

func (l memoryLocator) StoreForLibrary(int64) (store.Store, error) { return l.st, nil }
func (l memoryLocator) Ping(context.Context) error                  { return nil }

// startServer runs the real HTTP handler over an in-memory store.
func startServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loc := memoryLocator{st: memory.New()}
	m := metrics.New()
	s := server.NewSearchServer(searches.NewService(loc, nil, m, logger), loc, m, logger)
	srv := httptest.NewServer(s.NewHTTPHandler(token))
	t.Cleanup(srv.Close)
	return srv
}

func TestRoundTrip(t *testing.T) {
	srv := startServer(t, "tok")
	c := NewHTTPClient(srv.URL, WithToken("tok"), WithUserID(5))
	ctx := context.Background()

	created, err := c.CreateSearch(ctx, 9, json.RawMessage(`{"name":"Unread","conditions":[{"condition":"tag","operator":"is","value":"unread"}]}`))
	if err != nil {
		t.Fatalf("CreateSearch: %v", err)
	}
	if created.Key == "" || created.Version == 0 {
		t.Fatalf("created = %+v", created)
	}

	got, err := c.GetSearch(ctx, 9, created.Key)
	if err != nil {
		t.Fatalf("GetSearch: %v", err)
	}
	if got.Name != "Unread" {
		t.Errorf("Name = %q", got.Name)
	}

	v := created.Version
	updated, err := c.UpdateSearch(ctx, 9, created.Key, &UpdateSearchRequest{
		Doc:     json.RawMessage(`{"name":"Still unread"}`),
		Version: &v,
		Patch:   true,
	})
	if err != nil {
		t.Fatalf("UpdateSearch: %v", err)
	}
	if updated.Name != "Still unread" || updated.Version <= v {
		t.Errorf("updated = %+v", updated)
	}
	if len(updated.Conditions) != 1 {
		t.Errorf("patch dropped conditions: %+v", updated.Conditions)
	}

	list, err := c.ListSearches(ctx, 9, &ListSearchesRequest{Format: "versions"})
	if err != nil {
		t.Fatalf("ListSearches: %v", err)
	}
	if list.Total != 1 || list.LibraryVersion != updated.Version {
		t.Errorf("list total=%d version=%d, want 1 and %d", list.Total, list.LibraryVersion, updated.Version)
	}
	if lv, _ := list.Versions.Get(created.Key); lv != updated.Version {
		t.Errorf("listed version = %d, want %d", lv, updated.Version)
	}

	// Stale version is rejected.
	if _, err := c.DeleteSearch(ctx, 9, created.Key, v); !isStatus(err, http.StatusPreconditionFailed) {
		t.Fatalf("stale delete err = %v, want 412", err)
	}
	if _, err := c.DeleteSearch(ctx, 9, created.Key, updated.Version); err != nil {
		t.Fatalf("DeleteSearch: %v", err)
	}
	if _, err := c.GetSearch(ctx, 9, created.Key); !isStatus(err, http.StatusNotFound) {
		t.Fatalf("get after delete err = %v, want 404", err)
	}
}

func TestRoundTrip_Unauthorized(t *testing.T) {
	srv := startServer(t, "tok")
	c := NewHTTPClient(srv.URL, WithToken("wrong"))

	_, err := c.ListSearches(context.Background(), 1, nil)
	if !isStatus(err, http.StatusUnauthorized) {
		t.Fatalf("err = %v, want 401", err)
	}
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health should not require auth: %v", err)
	}
}

func isStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}
