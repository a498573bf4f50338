package model

import (
	"strings"
	"time"
)

// Maximum lengths enforced on saved-search input. NameMaxLength is measured
// in characters; the condition limits are measured in bytes.
const (
	NameMaxLength      = 255
	ConditionMaxLength = 50
	OperatorMaxLength  = 25
	ValueMaxLength     = 255
)

// SavedSearch is a named, ordered list of filter conditions scoped to a library.
type SavedSearch struct {
	ID                   int64       `json:"-"`
	LibraryID            int64       `json:"libraryID"`
	Key                  string      `json:"key"`
	Version              int64       `json:"version"`
	Name                 string      `json:"name"`
	Conditions           []Condition `json:"conditions"`
	DateAdded            time.Time   `json:"dateAdded"`
	DateModified         time.Time   `json:"dateModified"`
	CreatedByUserID      int64       `json:"createdByUserID,omitempty"`
	LastModifiedByUserID int64       `json:"lastModifiedByUserID,omitempty"`

	changed map[string]bool
}

// Condition is one filter clause of a saved search.
type Condition struct {
	Condition string `json:"condition"`
	Mode      string `json:"mode,omitempty"`
	Operator  string `json:"operator"`
	Value     string `json:"value"`
}

// ParseCondition builds a Condition from its wire form. A mode suffix such as
// "title/regexp" is split off the condition name on the first '/'; both halves
// must be non-empty for the split to apply.
func ParseCondition(condition, operator, value string) Condition {
	c := Condition{Condition: condition, Operator: operator, Value: value}
	if i := strings.IndexByte(condition, '/'); i > 0 && i < len(condition)-1 {
		c.Condition = condition[:i]
		c.Mode = condition[i+1:]
	}
	return c
}

// Exists reports whether the search has been persisted.
func (s *SavedSearch) Exists() bool {
	return s.ID != 0
}

// SetName replaces the name, recording the change if the value differs.
func (s *SavedSearch) SetName(name string) {
	if s.Name == name {
		return
	}
	s.Name = name
	s.markChanged("name")
}

// UpdateConditions swaps the whole condition list. Partial per-condition
// updates are not supported.
func (s *SavedSearch) UpdateConditions(conditions []Condition) {
	if conditionsEqual(s.Conditions, conditions) {
		return
	}
	s.Conditions = append([]Condition(nil), conditions...)
	s.markChanged("conditions")
}

// HasChanged reports whether any field was modified since the last save.
// A search that has never been saved always counts as changed.
func (s *SavedSearch) HasChanged() bool {
	return !s.Exists() || len(s.changed) > 0
}

// Changed reports whether the named field was modified since the last save.
func (s *SavedSearch) Changed(field string) bool {
	return s.changed[field]
}

// ClearChanged resets change tracking after a successful save.
func (s *SavedSearch) ClearChanged() {
	s.changed = nil
}

func (s *SavedSearch) markChanged(field string) {
	if s.changed == nil {
		s.changed = make(map[string]bool)
	}
	s.changed[field] = true
}

func conditionsEqual(a, b []Condition) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
