// Package events publishes saved-search changes to NATS.
//
// Subjects are scoped by library: searches.<libraryID>.<action>. A watcher
// interested in one library subscribes to LibrarySubject(id); one that wants
// every change subscribes to SubjectAll.
package events

import (
	"context"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/savedsearch/internal/model"
)

const subjectPrefix = "searches"

// Actions appended to a library subject.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// SubjectAll matches every saved-search event.
const SubjectAll = subjectPrefix + ".>"

// Subject returns the subject for action in the given library.
func Subject(libraryID int64, action string) string {
	return subjectPrefix + "." + strconv.FormatInt(libraryID, 10) + "." + action
}

// LibrarySubject matches every event of one library.
func LibrarySubject(libraryID int64) string {
	return subjectPrefix + "." + strconv.FormatInt(libraryID, 10) + ".>"
}

// ParseSubject splits a subject built by Subject.
func ParseSubject(subject string) (libraryID int64, action string, ok bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != subjectPrefix {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	switch parts[2] {
	case ActionCreated, ActionUpdated, ActionDeleted:
		return id, parts[2], true
	}
	return 0, "", false
}

type SearchCreated struct {
	Search *model.SavedSearch `json:"search"`
	UserID int64              `json:"user_id,omitempty"`
}

type SearchUpdated struct {
	Search  *model.SavedSearch `json:"search"`
	Changed []string           `json:"changed"`
	UserID  int64              `json:"user_id,omitempty"`
}

type SearchDeleted struct {
	LibraryID int64  `json:"library_id"`
	Key       string `json:"key"`
	Version   int64  `json:"version"` // library version after the delete
	UserID    int64  `json:"user_id,omitempty"`
}

// Publisher emits events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
	Close() error
}

// Message is one event as received by a Subscriber.
type Message struct {
	Subject string
	Data    []byte
}

// Library returns the library the message belongs to, if its subject is
// well formed.
func (m Message) Library() (int64, bool) {
	id, _, ok := ParseSubject(m.Subject)
	return id, ok
}
