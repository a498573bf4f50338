// Package export writes periodic JSONL snapshots of saved searches to
// external destinations.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/savedsearch/internal/model"
)

// pageSize is the number of searches requested per listing call.
const pageSize = 100

// Source lists saved searches by library. *searches.Service satisfies it.
type Source interface {
	Search(ctx context.Context, libraryID int64, params model.SearchParams) (*model.SearchResults, error)
	LibraryVersion(ctx context.Context, libraryID int64) (int64, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string          `json:"version"`
	Type        string          `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	SearchCount int             `json:"search_count"`
	Libraries   []libraryHeader `json:"libraries"`
}

type libraryHeader struct {
	LibraryID   int64 `json:"library_id"`
	Version     int64 `json:"version"`
	SearchCount int   `json:"search_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every saved search of the given libraries as JSONL to w
// and returns the number of searches written. Searches are grouped by
// library and follow version order as of when each was first listed.
func ExportJSONL(ctx context.Context, src Source, libraries []int64, w io.Writer) (int, error) {
	h := header{Version: "1", Type: "header", Timestamp: time.Now().UTC()}
	var all []*model.SavedSearch
	for _, libraryID := range libraries {
		// The version is read before listing, so any search written in
		// between carries a higher version than the header records.
		version, err := src.LibraryVersion(ctx, libraryID)
		if err != nil {
			return 0, fmt.Errorf("library %d version: %w", libraryID, err)
		}
		list, err := listAll(ctx, src, libraryID)
		if err != nil {
			return 0, err
		}
		h.Libraries = append(h.Libraries, libraryHeader{LibraryID: libraryID, Version: version, SearchCount: len(list)})
		all = append(all, list...)
	}
	h.SearchCount = len(all)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(h); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}
	for _, s := range all {
		if err := enc.Encode(record{Type: "search", Data: s}); err != nil {
			return 0, fmt.Errorf("encode search %s: %w", s.Key, err)
		}
	}
	return len(all), nil
}

// listAll pages through a library by version. Each page asks for versions
// above the last one seen, so a search rewritten mid-export moves forward
// without shifting the rest; when it comes round again it replaces its
// earlier copy.
func listAll(ctx context.Context, src Source, libraryID int64) ([]*model.SavedSearch, error) {
	var (
		out   []*model.SavedSearch
		index = make(map[string]int)
		since int64
	)
	for {
		res, err := src.Search(ctx, libraryID, model.SearchParams{
			Format: model.FormatJSON,
			Since:  since,
			Limit:  pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("list library %d: %w", libraryID, err)
		}
		for _, s := range res.Searches {
			if i, ok := index[s.Key]; ok {
				out[i] = s
			} else {
				index[s.Key] = len(out)
				out = append(out, s)
			}
			since = max(since, s.Version)
		}
		if len(res.Searches) < pageSize {
			return out, nil
		}
	}
}
