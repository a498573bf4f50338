package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Result formats for search listings.
const (
	FormatKeys     = "keys"
	FormatVersions = "versions"
	FormatJSON     = "json"
)

// Sort values accepted by SearchParams. SortSearchKeyList orders results by
// their position in SearchKeys.
const (
	SortTitle         = "title"
	SortDateAdded     = "dateAdded"
	SortDateModified  = "dateModified"
	SortSearchKeyList = "searchKeyList"
)

// SearchParams holds the criteria for listing a library's saved searches.
type SearchParams struct {
	Format     string   `json:"format,omitempty"`
	SearchIDs  []int64  `json:"searchIDs,omitempty"`  // narrowed by an outer query
	SearchKeys []string `json:"searchKey,omitempty"`  // restrict to these keys
	Since      int64    `json:"since,omitempty"`      // version > Since
	SinceTime  int64    `json:"sincetime,omitempty"`  // unix seconds, server modification time >= SinceTime
	Sort       string   `json:"sort,omitempty"`
	Direction  string   `json:"direction,omitempty"` // ASC or DESC
	Limit      int      `json:"limit,omitempty"`
	Start      int      `json:"start,omitempty"`
}

// Validate rejects parameter combinations the query builder cannot express.
func (p SearchParams) Validate() error {
	switch p.Format {
	case "", FormatKeys, FormatVersions, FormatJSON:
	default:
		return InvalidInput("format", "Invalid 'format' value '%s'", p.Format)
	}

	switch p.Sort {
	case "", SortTitle, SortDateAdded, SortDateModified:
	case SortSearchKeyList:
		if len(p.SearchKeys) == 0 {
			return InvalidInput("sort", "'searchKey' must be provided when using 'sort=searchKeyList'")
		}
	default:
		return InvalidInput("sort", "Invalid 'sort' value '%s'", p.Sort)
	}

	switch strings.ToUpper(p.Direction) {
	case "", "ASC", "DESC":
	default:
		return InvalidInput("direction", "Invalid 'direction' value '%s'", p.Direction)
	}

	if p.Limit < 0 {
		return InvalidInput("limit", "'limit' must be a positive integer")
	}
	if p.Start < 0 {
		return InvalidInput("start", "'start' must be a non-negative integer")
	}
	if p.Since < 0 {
		return InvalidInput("since", "'since' must be a non-negative integer")
	}
	return nil
}

// ResultFormat returns the effective format, defaulting to FormatJSON.
func (p SearchParams) ResultFormat() string {
	if p.Format == "" {
		return FormatJSON
	}
	return p.Format
}

// SearchResults is the outcome of a listing. Exactly one of Keys, Versions or
// Searches is populated, according to Format. Total counts every matching
// search regardless of pagination.
type SearchResults struct {
	Format   string
	Keys     []string
	Versions *KeyVersions
	Searches []*SavedSearch
	Total    int
}

// Results returns the populated result set for encoding.
func (r *SearchResults) Results() any {
	switch r.Format {
	case FormatKeys:
		if r.Keys == nil {
			return []string{}
		}
		return r.Keys
	case FormatVersions:
		if r.Versions == nil {
			return NewKeyVersions()
		}
		return r.Versions
	}
	if r.Searches == nil {
		return []*SavedSearch{}
	}
	return r.Searches
}

// KeyVersions maps search keys to versions, remembering insertion order.
type KeyVersions struct {
	keys     []string
	versions map[string]int64
}

// NewKeyVersions returns an empty KeyVersions.
func NewKeyVersions() *KeyVersions {
	return &KeyVersions{versions: make(map[string]int64)}
}

// Set records a version for key. A repeated key keeps its original position.
func (kv *KeyVersions) Set(key string, version int64) {
	if kv.versions == nil {
		kv.versions = make(map[string]int64)
	}
	if _, ok := kv.versions[key]; !ok {
		kv.keys = append(kv.keys, key)
	}
	kv.versions[key] = version
}

// Get returns the version recorded for key.
func (kv *KeyVersions) Get(key string) (int64, bool) {
	v, ok := kv.versions[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (kv *KeyVersions) Keys() []string {
	return kv.keys
}

// Len returns the number of keys.
func (kv *KeyVersions) Len() int {
	return len(kv.keys)
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (kv *KeyVersions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range kv.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatInt(kv.versions[k], 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping document order.
func (kv *KeyVersions) UnmarshalJSON(data []byte) error {
	obj, err := ParseJSONObject(data)
	if err != nil {
		return err
	}
	*kv = KeyVersions{versions: make(map[string]int64, obj.Len())}
	for _, m := range obj.Members() {
		var v int64
		if err := json.Unmarshal(m.Value, &v); err != nil {
			return err
		}
		kv.Set(m.Name, v)
	}
	return nil
}
