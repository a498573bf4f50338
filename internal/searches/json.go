package searches

import (
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/savedsearch/internal/idgen"
	"github.com/alfredjeanlab/savedsearch/internal/model"
)

// serverManagedProperties are dropped from inbound documents so that a
// search read from the API can be written back unchanged.
var serverManagedProperties = []string{"links", "library", "meta"}

// RequestParams carries request-level write preconditions.
type RequestParams struct {
	// IfUnmodifiedSinceVersion is the expected object version when the
	// document itself carries none.
	IfUnmodifiedSinceVersion *int64
}

// extractEditableJSON parses an inbound document, unwrapping a top-level
// "data" object and discarding server-managed members.
func extractEditableJSON(data []byte) (*model.JSONObject, error) {
	doc, err := model.ParseJSONObject(data)
	if err != nil {
		return nil, err
	}
	if inner, ok := doc.Get("data"); ok && model.JSONType(inner) == "object" {
		if doc, err = model.ParseJSONObject(inner); err != nil {
			return nil, err
		}
	}
	return doc.Without(serverManagedProperties...), nil
}

// processJSONObjectKey reconciles the document's key with the search and
// returns the key to assign (empty to keep the current one) and whether
// the search already exists.
func processJSONObjectKey(s *model.SavedSearch, doc *model.JSONObject) (string, bool, error) {
	exists := s.Exists()

	prop := "key"
	raw, ok := doc.Get(prop)
	if !ok || model.JSONType(raw) == "null" {
		prop = "searchKey"
		raw, ok = doc.Get(prop)
	}
	if !ok || model.JSONType(raw) == "null" {
		return "", exists, nil
	}

	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return "", exists, model.InvalidInput(prop, "'%s' must be a string", prop)
	}
	if s.Key != "" && key != s.Key {
		return "", exists, model.InvalidInput(prop, "'%s' does not match search key '%s'", prop, s.Key)
	}
	if exists {
		return "", true, nil
	}
	if !idgen.IsValidKey(key) {
		return "", false, model.InvalidInput(prop, "'%s' is not a valid search key", key)
	}
	return key, false, nil
}

// checkJSONObjectVersion compares the expected version, taken from the
// document or else from the request, against the search.
func checkJSONObjectVersion(s *model.SavedSearch, doc *model.JSONObject, req RequestParams, requireVersion bool) error {
	expected, prop, err := expectedVersion(doc)
	if err != nil {
		return err
	}
	if expected == nil {
		expected = req.IfUnmodifiedSinceVersion
	}
	if expected == nil {
		if requireVersion {
			return model.PreconditionRequired(
				"Either If-Unmodified-Since-Version or object version property must be provided for key-based writes")
		}
		return nil
	}

	if s.Exists() {
		if *expected != s.Version {
			return model.Conflict("Search has been modified since specified version (expected %d, found %d)", *expected, s.Version)
		}
		return nil
	}
	if *expected != 0 {
		if prop == "" {
			prop = "version"
		}
		return model.NotFound("Search doesn't exist (expected %s %d; use 0 instead)", prop, *expected)
	}
	return nil
}

func expectedVersion(doc *model.JSONObject) (*int64, string, error) {
	for _, prop := range []string{"version", "searchVersion"} {
		raw, ok := doc.Get(prop)
		if !ok || model.JSONType(raw) == "null" {
			continue
		}
		var v int64
		if err := json.Unmarshal(raw, &v); err != nil || v < 0 {
			return nil, prop, model.InvalidInput(prop, "Invalid '%s' value '%s'", prop, raw)
		}
		return &v, prop, nil
	}
	return nil, "", nil
}

// changedFields lists the properties a save modified, for update events.
func changedFields(s *model.SavedSearch) []string {
	var out []string
	for _, f := range []string{"name", "conditions"} {
		if s.Changed(f) {
			out = append(out, f)
		}
	}
	return out
}

func describe(s *model.SavedSearch) string {
	if s.Key == "" {
		return fmt.Sprintf("new search in library %d", s.LibraryID)
	}
	return fmt.Sprintf("search %s in library %d", s.Key, s.LibraryID)
}
