package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/l0p7/moodtrack/internal/tracker"
)

// Dashboard serves GET /api/dashboard?category=&from=&to=.
func (a *API) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	category := q.Get("category")
	if category == "" {
		a.writeError(w, r, http.StatusBadRequest, "category required")
		return
	}
	rng, err := tracker.ParseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	st, err := a.dashboard.Summary(r.Context(), user, category, rng, policyFor(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeState(a, w, r, st)
}

type csrfResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CSRFToken serves GET /api/session/csrf.
func (a *API) CSRFToken(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	token, expires := a.csrf.Issue(user)
	w.Header().Set("Cache-Control", "no-store")
	a.writeJSON(w, r, http.StatusOK, csrfResponse{Token: token, ExpiresAt: expires.UTC()})
}

// Logout serves POST /api/session/logout: it drops every cached view of the
// caller and revokes their CSRF token.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := a.user(w, r)
	if !ok {
		return
	}
	evicted := a.client.Cache().InvalidateOwner(r.Context(), user)
	a.csrf.Revoke(user)
	a.requestLogger(r).Info("session ended", slog.Int("invalidated", evicted))
	w.WriteHeader(http.StatusNoContent)
}
