package api

import (
	"net/http"
	"strconv"

	"github.com/l0p7/moodtrack/internal/tracker"
)

type draftRequest struct {
	Date  string              `json:"date,omitempty"`
	Items []tracker.ItemEntry `json:"items"`
	Notes string              `json:"notes,omitempty"`
}

// Drafts are read straight from the repository: they change on every
// keystroke the client autosaves and are never shared between views.

// GetDraft serves GET /api/drafts/{category}.
func (a *API) GetDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	category, ok := a.draftCategory(w, r)
	if !ok {
		return
	}
	draft, err := a.repo.GetDraft(r.Context(), user, category)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, draft)
}

// PutDraft serves PUT /api/drafts/{category}.
func (a *API) PutDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	var req draftRequest
	if !a.decode(w, r, &req) {
		return
	}
	draft := tracker.Draft{
		UserID:   user,
		Category: r.PathValue("category"),
		Date:     req.Date,
		Items:    req.Items,
		Notes:    req.Notes,
	}
	if err := a.catalogs.Load().ValidateDraft(draft); err != nil {
		a.fail(w, r, err)
		return
	}
	saved, err := a.repo.SaveDraft(r.Context(), draft)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.writeJSON(w, r, http.StatusOK, saved)
}

// DeleteDraft serves DELETE /api/drafts/{category}.
func (a *API) DeleteDraft(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	category, ok := a.draftCategory(w, r)
	if !ok {
		return
	}
	if err := a.repo.DeleteDraft(r.Context(), user, category); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// draftCategory rejects path values that are not catalog categories before
// they reach the repository.
func (a *API) draftCategory(w http.ResponseWriter, r *http.Request) (string, bool) {
	category := r.PathValue("category")
	if _, known := a.catalogs.Load().Get(category); !known {
		a.writeError(w, r, http.StatusBadRequest, "unknown category "+strconv.Quote(category))
		return "", false
	}
	return category, true
}
