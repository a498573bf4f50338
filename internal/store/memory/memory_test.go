package memory

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alfredjeanlab/savedsearch/internal/model"
	"github.com/alfredjeanlab/savedsearch/internal/store"
)

func newSearch(libraryID int64, key, name string) *model.SavedSearch {
	s := &model.SavedSearch{LibraryID: libraryID, Key: key}
	s.SetName(name)
	s.UpdateConditions([]model.Condition{{Condition: "title", Operator: "contains", Value: name}})
	return s
}

// seed saves searches in order so that each gets the next library version.
func seed(t *testing.T, m *Store, searches ...*model.SavedSearch) {
	t.Helper()
	for _, s := range searches {
		if _, err := m.SaveSearch(context.Background(), s, 1); err != nil {
			t.Fatalf("seed %s: %v", s.Key, err)
		}
	}
}

func TestSaveSearch_AssignsIdentity(t *testing.T) {
	m := New()
	s := newSearch(1, "", "Unread")
	changed, err := m.SaveSearch(context.Background(), s, 7)
	if err != nil || !changed {
		t.Fatalf("SaveSearch = %v, %v", changed, err)
	}
	if s.ID == 0 || len(s.Key) != 8 || s.Version != 1 || s.CreatedByUserID != 7 {
		t.Fatalf("identity not assigned: %+v", s)
	}

	got, err := m.GetSearchByKey(context.Background(), 1, s.Key)
	if err != nil {
		t.Fatalf("GetSearchByKey: %v", err)
	}
	if got.Name != "Unread" || len(got.Conditions) != 1 {
		t.Fatalf("stored search = %+v", got)
	}

	// Unchanged saves are no-ops.
	changed, err = m.SaveSearch(context.Background(), got, 7)
	if err != nil || changed {
		t.Fatalf("unchanged save = %v, %v", changed, err)
	}
	if v, _ := m.LibraryVersion(context.Background(), 1); v != 1 {
		t.Fatalf("library version = %d, want 1", v)
	}
}

func TestSaveSearch_DuplicateKey(t *testing.T) {
	m := New()
	seed(t, m, newSearch(1, "AAAA2222", "A"))
	_, err := m.SaveSearch(context.Background(), newSearch(1, "AAAA2222", "B"), 1)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// The same key in another library is fine.
	if _, err := m.SaveSearch(context.Background(), newSearch(2, "AAAA2222", "B"), 1); err != nil {
		t.Fatalf("other library: %v", err)
	}
}

func TestGetSearch_ScopedToLibrary(t *testing.T) {
	m := New()
	s := newSearch(1, "AAAA2222", "A")
	seed(t, m, s)
	if _, err := m.GetSearch(context.Background(), 2, s.ID); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows across libraries, got %v", err)
	}
}

func TestDeleteSearch(t *testing.T) {
	m := New()
	seed(t, m, newSearch(1, "AAAA2222", "A"))
	v, err := m.DeleteSearch(context.Background(), 1, "AAAA2222")
	if err != nil || v != 2 {
		t.Fatalf("DeleteSearch = %d, %v; want 2", v, err)
	}
	if _, err := m.DeleteSearch(context.Background(), 1, "AAAA2222"); err != sql.ErrNoRows {
		t.Fatalf("second delete = %v, want sql.ErrNoRows", err)
	}
}

func TestRunInTransaction_RollsBack(t *testing.T) {
	m := New()
	err := m.RunInTransaction(context.Background(), func(tx store.Store) error {
		if _, err := tx.SaveSearch(context.Background(), newSearch(1, "AAAA2222", "A"), 1); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := m.GetSearchByKey(context.Background(), 1, "AAAA2222"); err != sql.ErrNoRows {
		t.Fatalf("search survived rollback: %v", err)
	}
	if v, _ := m.LibraryVersion(context.Background(), 1); v != 0 {
		t.Fatalf("library version = %d after rollback, want 0", v)
	}
}

func TestFailWrites(t *testing.T) {
	m := New()
	m.FailWrites(errors.New("disk full"))
	if _, err := m.SaveSearch(context.Background(), newSearch(1, "", "A"), 1); err == nil {
		t.Fatal("expected injected error")
	}
	m.FailWrites(nil)
	if _, err := m.SaveSearch(context.Background(), newSearch(1, "", "A"), 1); err != nil {
		t.Fatalf("after clearing: %v", err)
	}
}

func TestListSearches(t *testing.T) {
	m := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	m.Now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Hour) }
	// Versions 1..4 in library 1; one search in library 2.
	seed(t, m,
		newSearch(1, "CCCC2222", "Charlie"),
		newSearch(1, "AAAA2222", "Alpha"),
		newSearch(1, "DDDD2222", "Delta"),
		newSearch(1, "BBBB2222", "Bravo"),
		newSearch(2, "EEEE2222", "Echo"),
	)

	for _, tc := range []struct {
		name      string
		params    model.SearchParams
		wantKeys  []string
		wantTotal int
	}{
		{"Default", model.SearchParams{}, []string{"CCCC2222", "AAAA2222", "DDDD2222", "BBBB2222"}, 4},
		{"Desc", model.SearchParams{Direction: "desc"}, []string{"BBBB2222", "DDDD2222", "AAAA2222", "CCCC2222"}, 4},
		{"Since", model.SearchParams{Since: 2}, []string{"DDDD2222", "BBBB2222"}, 2},
		{"SinceTime", model.SearchParams{SinceTime: base.Add(3 * time.Hour).Unix()}, []string{"DDDD2222", "BBBB2222"}, 2},
		{"Keys", model.SearchParams{SearchKeys: []string{"BBBB2222", "CCCC2222"}}, []string{"CCCC2222", "BBBB2222"}, 2},
		{"KeyList", model.SearchParams{Sort: model.SortSearchKeyList, SearchKeys: []string{"BBBB2222", "CCCC2222"}}, []string{"BBBB2222", "CCCC2222"}, 2},
		{"Title", model.SearchParams{Sort: model.SortTitle}, []string{"AAAA2222", "BBBB2222", "CCCC2222", "DDDD2222"}, 4},
		{"Page", model.SearchParams{Limit: 2, Start: 1}, []string{"AAAA2222", "DDDD2222"}, 4},
		{"PastEnd", model.SearchParams{Limit: 2, Start: 10}, []string{}, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.params.Format = model.FormatKeys
			res, err := m.ListSearches(context.Background(), 1, tc.params)
			if err != nil {
				t.Fatalf("ListSearches: %v", err)
			}
			if !reflect.DeepEqual(res.Keys, tc.wantKeys) {
				t.Errorf("keys = %v, want %v", res.Keys, tc.wantKeys)
			}
			if res.Total != tc.wantTotal {
				t.Errorf("total = %d, want %d", res.Total, tc.wantTotal)
			}
		})
	}
}

func TestListSearches_PagesReproduceFullOrder(t *testing.T) {
	m := New()
	for i := 0; i < 7; i++ {
		seed(t, m, newSearch(1, "", "S"))
	}
	full, err := m.ListSearches(context.Background(), 1, model.SearchParams{Format: model.FormatKeys, Direction: "DESC"})
	if err != nil {
		t.Fatal(err)
	}
	var paged []string
	for start := 0; ; start += 3 {
		res, err := m.ListSearches(context.Background(), 1, model.SearchParams{
			Format: model.FormatKeys, Direction: "DESC", Limit: 3, Start: start,
		})
		if err != nil {
			t.Fatal(err)
		}
		if res.Total != 7 {
			t.Fatalf("total = %d on page %d, want 7", res.Total, start)
		}
		if len(res.Keys) == 0 {
			break
		}
		paged = append(paged, res.Keys...)
	}
	if !reflect.DeepEqual(paged, full.Keys) {
		t.Fatalf("paged %v != full %v", paged, full.Keys)
	}
}

func TestListSearches_Formats(t *testing.T) {
	m := New()
	seed(t, m, newSearch(1, "AAAA2222", "A"), newSearch(1, "BBBB2222", "B"))

	res, err := m.ListSearches(context.Background(), 1, model.SearchParams{Format: model.FormatVersions})
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := res.Versions.Get("BBBB2222"); v != 2 || res.Versions.Len() != 2 {
		t.Fatalf("versions = %v", res.Versions.Keys())
	}

	res, err = m.ListSearches(context.Background(), 1, model.SearchParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Searches) != 2 || res.Searches[0].Key != "AAAA2222" || len(res.Searches[0].Conditions) != 1 {
		t.Fatalf("searches = %+v", res.Searches)
	}

	if _, err := m.ListSearches(context.Background(), 1, model.SearchParams{Format: "atom"}); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad format, got %v", err)
	}
}
