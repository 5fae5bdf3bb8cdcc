package store

import (
	"context"
	"sync"
	"time"

	"github.com/l0p7/moodtrack/internal/tracker"
)

type memoryRepository struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]tracker.Entry
	drafts  map[string]tracker.Draft
}

// NewMemory returns a Repository backed by process memory.
func NewMemory() Repository {
	return newMemory(time.Now)
}

func newMemory(now func() time.Time) *memoryRepository {
	return &memoryRepository{
		now:     now,
		entries: make(map[string]tracker.Entry),
		drafts:  make(map[string]tracker.Draft),
	}
}

func (r *memoryRepository) SaveEntry(_ context.Context, entry tracker.Entry) (tracker.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var existing *tracker.Entry
	if entry.ID != "" {
		current, ok := r.entries[entry.ID]
		if !ok || current.UserID != entry.UserID {
			return tracker.Entry{}, ErrNotFound
		}
		existing = &current
	}
	saved := stamp(entry, existing, r.now().UTC())
	saved.Items = append([]tracker.ItemEntry(nil), saved.Items...)
	r.entries[saved.ID] = saved
	return saved, nil
}

func (r *memoryRepository) UpsertDayEntry(_ context.Context, entry tracker.Entry) (tracker.Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var existing *tracker.Entry
	for _, current := range r.entries {
		if current.UserID == entry.UserID && current.Category == entry.Category && current.Date == entry.Date {
			existing = &current
			break
		}
	}
	if existing != nil {
		entry.ID = existing.ID
	} else {
		entry.ID = dayEntryID(entry.UserID, entry.Category, entry.Date)
		if _, taken := r.entries[entry.ID]; taken {
			// The day's id belongs to an entry since moved to another day.
			entry.ID = ""
		}
	}
	saved := stamp(entry, existing, r.now().UTC())
	saved.Items = append([]tracker.ItemEntry(nil), saved.Items...)
	r.entries[saved.ID] = saved
	return saved, existing == nil, nil
}

func (r *memoryRepository) GetEntry(_ context.Context, userID, id string) (tracker.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.UserID != userID {
		return tracker.Entry{}, ErrNotFound
	}
	return entry, nil
}

func (r *memoryRepository) ListEntries(_ context.Context, q EntryQuery) ([]tracker.Entry, error) {
	r.mu.RLock()
	out := make([]tracker.Entry, 0)
	for _, entry := range r.entries {
		if matches(q, entry) {
			out = append(out, entry)
		}
	}
	r.mu.RUnlock()

	sortEntries(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memoryRepository) DeleteEntry(_ context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.UserID != userID {
		return ErrNotFound
	}
	delete(r.entries, id)
	return nil
}

func (r *memoryRepository) SaveDraft(_ context.Context, draft tracker.Draft) (tracker.Draft, error) {
	draft.SavedAt = r.now().UTC()
	draft.Items = append([]tracker.ItemEntry(nil), draft.Items...)
	r.mu.Lock()
	r.drafts[draftKey(draft.UserID, draft.Category)] = draft
	r.mu.Unlock()
	return draft, nil
}

func (r *memoryRepository) GetDraft(_ context.Context, userID, category string) (tracker.Draft, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	draft, ok := r.drafts[draftKey(userID, category)]
	if !ok || draft.UserID != userID || draft.Category != category {
		return tracker.Draft{}, ErrNotFound
	}
	return draft, nil
}

func (r *memoryRepository) DeleteDraft(_ context.Context, userID, category string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := draftKey(userID, category)
	if draft, ok := r.drafts[key]; !ok || draft.UserID != userID {
		return ErrNotFound
	}
	delete(r.drafts, key)
	return nil
}

func (r *memoryRepository) Close() error { return nil }
