package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/l0p7/moodtrack/internal/fetch"
	"github.com/l0p7/moodtrack/internal/store"
	"github.com/l0p7/moodtrack/internal/tracker"
)

type entryRequest struct {
	ID       string              `json:"id,omitempty"`
	Category string              `json:"category"`
	Date     string              `json:"date,omitempty"`
	Items    []tracker.ItemEntry `json:"items"`
	Notes    string              `json:"notes,omitempty"`
}

type entryList struct {
	Entries []tracker.Entry `json:"entries"`
}

// ListEntries serves GET /api/entries?category=&from=&to=&limit=.
func (a *API) ListEntries(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	category := q.Get("category")
	if category != "" {
		if _, known := a.catalogs.Load().Get(category); !known {
			a.writeError(w, r, http.StatusBadRequest, "unknown category "+strconv.Quote(category))
			return
		}
	}
	rng, err := tracker.ParseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			a.writeError(w, r, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	opts := fetch.QueryOptions{
		Key:     strings.Join([]string{"entries", user, category, rng.From, rng.To, strconv.Itoa(limit)}, ":"),
		Owner:   user,
		Enabled: true,
	}
	st := fetch.Do(r.Context(), a.client, opts, policyFor(r), func(ctx context.Context) (entryList, error) {
		entries, err := a.repo.ListEntries(ctx, store.EntryQuery{
			UserID:   user,
			Category: category,
			From:     rng.From,
			To:       rng.To,
			Limit:    limit,
		})
		if err != nil {
			return entryList{}, err
		}
		return entryList{Entries: entries}, nil
	})
	writeState(a, w, r, st)
}

// GetEntry serves GET /api/entries/{id}.
func (a *API) GetEntry(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	opts := fetch.QueryOptions{Key: "entry:" + user + ":" + id, Owner: user, Enabled: id != ""}
	st := fetch.Do(r.Context(), a.client, opts, policyFor(r), func(ctx context.Context) (tracker.Entry, error) {
		return a.repo.GetEntry(ctx, user, id)
	})
	writeState(a, w, r, st)
}

// SaveEntry serves POST /api/entries. Without an id the entry replaces the
// caller's entry for the same category and day, if any.
func (a *API) SaveEntry(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	var req entryRequest
	if !a.decode(w, r, &req) {
		return
	}
	entry := tracker.Entry{
		ID:       req.ID,
		UserID:   user,
		Category: req.Category,
		Date:     req.Date,
		Items:    req.Items,
		Notes:    req.Notes,
	}
	if entry.Date == "" {
		entry.Date = a.now().UTC().Format(tracker.DateLayout)
	}
	if err := a.catalogs.Load().Validate(entry); err != nil {
		a.fail(w, r, err)
		return
	}

	ctx := r.Context()
	var (
		saved   tracker.Entry
		created bool
		err     error
	)
	if entry.ID == "" {
		saved, created, err = a.repo.UpsertDayEntry(ctx, entry)
	} else {
		saved, err = a.repo.SaveEntry(ctx, entry)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.repo.DeleteDraft(ctx, user, saved.Category); err != nil && !errors.Is(err, store.ErrNotFound) {
		a.requestLogger(r).Warn("draft cleanup failed", slog.String("category", saved.Category), slog.Any("error", err))
	}
	evicted := a.client.Cache().InvalidateOwner(ctx, user)
	a.requestLogger(r).Info("entry saved",
		slog.String("id", saved.ID),
		slog.String("category", saved.Category),
		slog.String("date", saved.Date),
		slog.Bool("created", created),
		slog.Int("invalidated", evicted),
	)

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	a.writeJSON(w, r, status, saved)
}

// DeleteEntry serves DELETE /api/entries/{id}.
func (a *API) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := a.repo.DeleteEntry(r.Context(), user, id); err != nil {
		a.fail(w, r, err)
		return
	}
	evicted := a.client.Cache().InvalidateOwner(r.Context(), user)
	a.requestLogger(r).Info("entry deleted", slog.String("id", id), slog.Int("invalidated", evicted))
	w.WriteHeader(http.StatusNoContent)
}
