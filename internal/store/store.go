// Package store persists tracker entries and drafts.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/l0p7/moodtrack/internal/tracker"
)

// ErrNotFound reports a missing entry or draft, including one owned by
// another user.
var ErrNotFound = errors.New("store: not found")

// EntryQuery filters ListEntries. UserID is required; empty fields match all.
type EntryQuery struct {
	UserID   string
	Category string
	From     string
	To       string
	// Limit caps the result size; zero means no limit.
	Limit int
}

// Repository is the persistence boundary for entries and drafts. Entries are
// always scoped by user: reads for another user's entry report ErrNotFound.
type Repository interface {
	SaveEntry(ctx context.Context, entry tracker.Entry) (tracker.Entry, error)
	// UpsertDayEntry atomically replaces the user's entry for the entry's
	// category and date, creating it when none exists. created reports which.
	UpsertDayEntry(ctx context.Context, entry tracker.Entry) (saved tracker.Entry, created bool, err error)
	GetEntry(ctx context.Context, userID, id string) (tracker.Entry, error)
	ListEntries(ctx context.Context, q EntryQuery) ([]tracker.Entry, error)
	DeleteEntry(ctx context.Context, userID, id string) error

	SaveDraft(ctx context.Context, draft tracker.Draft) (tracker.Draft, error)
	GetDraft(ctx context.Context, userID, category string) (tracker.Draft, error)
	DeleteDraft(ctx context.Context, userID, category string) error

	Close() error
}

// stamp assigns an id to new entries and maintains the timestamps.
func stamp(entry tracker.Entry, existing *tracker.Entry, now time.Time) tracker.Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = now
	if existing != nil && !existing.CreatedAt.IsZero() {
		entry.CreatedAt = existing.CreatedAt
	}
	entry.UpdatedAt = now
	return entry
}

func matches(q EntryQuery, entry tracker.Entry) bool {
	if entry.UserID != q.UserID {
		return false
	}
	if q.Category != "" && entry.Category != q.Category {
		return false
	}
	return tracker.Range{From: q.From, To: q.To}.Contains(entry.Date)
}

// sortEntries orders newest day first, then most recently updated.
func sortEntries(entries []tracker.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date > entries[j].Date
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
}

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/l0p7/moodtrack"))

// dayEntryID is the id a new entry gets for its user, category and day, so
// concurrent creates for the same day collide on one document.
func dayEntryID(userID, category, date string) string {
	return uuid.NewSHA1(idNamespace, []byte("entry\x00"+userID+"\x00"+category+"\x00"+date)).String()
}

// draftKey is unambiguous for any user and category: neither part can smuggle
// in the separator of the other.
func draftKey(userID, category string) string {
	return uuid.NewSHA1(idNamespace, []byte("draft\x00"+userID+"\x00"+category)).String()
}
