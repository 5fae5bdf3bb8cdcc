package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/l0p7/moodtrack/internal/tracker"
)

type firestoreItem struct {
	Name     string `firestore:"name"`
	Selected bool   `firestore:"selected"`
	Rating   *int   `firestore:"rating,omitempty"`
	Note     string `firestore:"note,omitempty"`
}

type firestoreEntry struct {
	UserID    string          `firestore:"userId"`
	Category  string          `firestore:"category"`
	Date      string          `firestore:"date"`
	Items     []firestoreItem `firestore:"items"`
	Notes     string          `firestore:"notes,omitempty"`
	CreatedAt time.Time       `firestore:"createdAt"`
	UpdatedAt time.Time       `firestore:"updatedAt"`
}

type firestoreDraft struct {
	UserID   string          `firestore:"userId"`
	Category string          `firestore:"category"`
	Date     string          `firestore:"date,omitempty"`
	Items    []firestoreItem `firestore:"items"`
	Notes    string          `firestore:"notes,omitempty"`
	SavedAt  time.Time       `firestore:"savedAt"`
}

// FirestoreRepository keeps entries and drafts in two Firestore collections.
type FirestoreRepository struct {
	client  *firestore.Client
	entries string
	drafts  string
	now     func() time.Time
}

// NewFirestore connects to projectID. Collection names are prefixed with
// prefix so several deployments can share a project.
func NewFirestore(ctx context.Context, projectID, prefix string) (*FirestoreRepository, error) {
	if projectID == "" {
		return nil, errors.New("store: firestore project id is required")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: firestore client: %w", err)
	}
	return NewFirestoreWithClient(client, prefix), nil
}

// NewFirestoreWithClient wraps an existing client.
func NewFirestoreWithClient(client *firestore.Client, prefix string) *FirestoreRepository {
	return &FirestoreRepository{
		client:  client,
		entries: prefix + "entries",
		drafts:  prefix + "drafts",
		now:     time.Now,
	}
}

func (r *FirestoreRepository) SaveEntry(ctx context.Context, entry tracker.Entry) (tracker.Entry, error) {
	var existing *tracker.Entry
	if entry.ID != "" {
		current, err := r.GetEntry(ctx, entry.UserID, entry.ID)
		if err != nil {
			return tracker.Entry{}, err
		}
		existing = &current
	}
	saved := stamp(entry, existing, r.now().UTC())
	if _, err := r.client.Collection(r.entries).Doc(saved.ID).Set(ctx, toFirestoreEntry(saved)); err != nil {
		return tracker.Entry{}, fmt.Errorf("store: save entry %s: %w", saved.ID, err)
	}
	return saved, nil
}

// UpsertDayEntry looks up the day's entry inside a transaction and creates the
// document under the day's deterministic id when there is none, so a racing
// create for the same day fails and the transaction retries as an update.
func (r *FirestoreRepository) UpsertDayEntry(ctx context.Context, entry tracker.Entry) (tracker.Entry, bool, error) {
	col := r.client.Collection(r.entries)
	var (
		saved   tracker.Entry
		created bool
	)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		query := col.Where("userId", "==", entry.UserID).
			Where("category", "==", entry.Category).
			Where("date", "==", entry.Date).
			Limit(1)
		snaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}

		next := entry
		var existing *tracker.Entry
		if len(snaps) > 0 {
			var doc firestoreEntry
			if err := snaps[0].DataTo(&doc); err != nil {
				return err
			}
			current := doc.entry(snaps[0].Ref.ID)
			existing = &current
			next.ID = current.ID
		} else {
			next.ID = dayEntryID(entry.UserID, entry.Category, entry.Date)
			taken, err := tx.Get(col.Doc(next.ID))
			switch {
			case status.Code(err) == codes.NotFound:
			case err != nil:
				return err
			case taken.Exists():
				next.ID = ""
			}
		}

		saved = stamp(next, existing, r.now().UTC())
		created = existing == nil
		ref := col.Doc(saved.ID)
		if created {
			return tx.Create(ref, toFirestoreEntry(saved))
		}
		return tx.Set(ref, toFirestoreEntry(saved))
	})
	if err != nil {
		return tracker.Entry{}, false, fmt.Errorf("store: upsert entry: %w", err)
	}
	return saved, created, nil
}

func (r *FirestoreRepository) GetEntry(ctx context.Context, userID, id string) (tracker.Entry, error) {
	snap, err := r.client.Collection(r.entries).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return tracker.Entry{}, ErrNotFound
		}
		return tracker.Entry{}, fmt.Errorf("store: get entry %s: %w", id, err)
	}
	var doc firestoreEntry
	if err := snap.DataTo(&doc); err != nil {
		return tracker.Entry{}, fmt.Errorf("store: decode entry %s: %w", id, err)
	}
	if doc.UserID != userID {
		return tracker.Entry{}, ErrNotFound
	}
	return doc.entry(id), nil
}

// ListEntries relies on a composite index over userId, category and date.
func (r *FirestoreRepository) ListEntries(ctx context.Context, q EntryQuery) ([]tracker.Entry, error) {
	query := r.client.Collection(r.entries).Where("userId", "==", q.UserID)
	if q.Category != "" {
		query = query.Where("category", "==", q.Category)
	}
	if q.From != "" {
		query = query.Where("date", ">=", q.From)
	}
	if q.To != "" {
		query = query.Where("date", "<=", q.To)
	}
	query = query.OrderBy("date", firestore.Desc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()
	out := make([]tracker.Entry, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("store: list entries: %w", err)
		}
		var doc firestoreEntry
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("store: decode entry %s: %w", snap.Ref.ID, err)
		}
		out = append(out, doc.entry(snap.Ref.ID))
	}
	sortEntries(out)
	return out, nil
}

func (r *FirestoreRepository) DeleteEntry(ctx context.Context, userID, id string) error {
	if _, err := r.GetEntry(ctx, userID, id); err != nil {
		return err
	}
	if _, err := r.client.Collection(r.entries).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("store: delete entry %s: %w", id, err)
	}
	return nil
}

func (r *FirestoreRepository) SaveDraft(ctx context.Context, draft tracker.Draft) (tracker.Draft, error) {
	draft.SavedAt = r.now().UTC()
	doc := firestoreDraft{
		UserID:   draft.UserID,
		Category: draft.Category,
		Date:     draft.Date,
		Items:    toFirestoreItems(draft.Items),
		Notes:    draft.Notes,
		SavedAt:  draft.SavedAt,
	}
	if _, err := r.draftRef(draft.UserID, draft.Category).Set(ctx, doc); err != nil {
		return tracker.Draft{}, fmt.Errorf("store: save draft: %w", err)
	}
	return draft, nil
}

func (r *FirestoreRepository) GetDraft(ctx context.Context, userID, category string) (tracker.Draft, error) {
	snap, err := r.draftRef(userID, category).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return tracker.Draft{}, ErrNotFound
		}
		return tracker.Draft{}, fmt.Errorf("store: get draft: %w", err)
	}
	var doc firestoreDraft
	if err := snap.DataTo(&doc); err != nil {
		return tracker.Draft{}, fmt.Errorf("store: decode draft: %w", err)
	}
	if doc.UserID != userID || doc.Category != category {
		return tracker.Draft{}, ErrNotFound
	}
	return tracker.Draft{
		UserID:   doc.UserID,
		Category: doc.Category,
		Date:     doc.Date,
		Items:    fromFirestoreItems(doc.Items),
		Notes:    doc.Notes,
		SavedAt:  doc.SavedAt,
	}, nil
}

func (r *FirestoreRepository) DeleteDraft(ctx context.Context, userID, category string) error {
	if _, err := r.GetDraft(ctx, userID, category); err != nil {
		return err
	}
	if _, err := r.draftRef(userID, category).Delete(ctx); err != nil {
		return fmt.Errorf("store: delete draft: %w", err)
	}
	return nil
}

func (r *FirestoreRepository) Close() error {
	return r.client.Close()
}

// draftRef uses a deterministic id so each user keeps one draft per category.
func (r *FirestoreRepository) draftRef(userID, category string) *firestore.DocumentRef {
	return r.client.Collection(r.drafts).Doc(draftKey(userID, category))
}

func toFirestoreEntry(entry tracker.Entry) firestoreEntry {
	return firestoreEntry{
		UserID:    entry.UserID,
		Category:  entry.Category,
		Date:      entry.Date,
		Items:     toFirestoreItems(entry.Items),
		Notes:     entry.Notes,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
}

func (d firestoreEntry) entry(id string) tracker.Entry {
	return tracker.Entry{
		ID:        id,
		UserID:    d.UserID,
		Category:  d.Category,
		Date:      d.Date,
		Items:     fromFirestoreItems(d.Items),
		Notes:     d.Notes,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func toFirestoreItems(items []tracker.ItemEntry) []firestoreItem {
	out := make([]firestoreItem, 0, len(items))
	for _, item := range items {
		out = append(out, firestoreItem(item))
	}
	return out
}

func fromFirestoreItems(items []firestoreItem) []tracker.ItemEntry {
	out := make([]tracker.ItemEntry, 0, len(items))
	for _, item := range items {
		out = append(out, tracker.ItemEntry(item))
	}
	return out
}
