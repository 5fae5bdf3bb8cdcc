// Package api implements the JSON handlers behind the moodtrack HTTP surface.
// Reads go through the shared fetch client scoped to the caller; writes
// invalidate the caller's cached views.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/l0p7/moodtrack/internal/auth"
	"github.com/l0p7/moodtrack/internal/cache"
	"github.com/l0p7/moodtrack/internal/config"
	"github.com/l0p7/moodtrack/internal/dashboard"
	"github.com/l0p7/moodtrack/internal/fetch"
	"github.com/l0p7/moodtrack/internal/logging"
	"github.com/l0p7/moodtrack/internal/store"
	"github.com/l0p7/moodtrack/internal/tracker"
)

const maxBodyBytes = 1 << 20

// Options wires an API.
type Options struct {
	Repository store.Repository
	Catalogs   *tracker.Registry
	Client     *fetch.Client
	Dashboard  *dashboard.Service
	CSRF       *auth.CSRFStore
	Logger     *slog.Logger
	Clock      func() time.Time
}

// API holds the handlers. Register them with a router; every handler except
// Health expects auth.Identity to have run.
type API struct {
	repo      store.Repository
	catalogs  *tracker.Registry
	client    *fetch.Client
	dashboard *dashboard.Service
	csrf      *auth.CSRFStore
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	sources []string
	skipped []config.DefinitionSkip
}

// New validates opts and builds the API. A missing dashboard service is built
// from the other collaborators.
func New(opts Options) (*API, error) {
	if opts.Repository == nil {
		return nil, errors.New("api: repository required")
	}
	if opts.Client == nil {
		return nil, errors.New("api: fetch client required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalogs := opts.Catalogs
	if catalogs == nil {
		catalogs = tracker.NewRegistry(nil)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	csrf := opts.CSRF
	if csrf == nil {
		csrf = auth.NewCSRFStore(auth.DefaultCSRFTTL, clock)
	}
	dash := opts.Dashboard
	if dash == nil {
		var err error
		dash, err = dashboard.NewService(dashboard.ServiceOptions{
			Repository: opts.Repository,
			Catalogs:   catalogs,
			Client:     opts.Client,
			Logger:     logger,
			Clock:      clock,
		})
		if err != nil {
			return nil, err
		}
	}
	return &API{
		repo:      opts.Repository,
		catalogs:  catalogs,
		client:    opts.Client,
		dashboard: dash,
		csrf:      csrf,
		logger:    logger.With(slog.String("agent", "api")),
		now:       clock,
	}, nil
}

// SetCatalogInfo records where the active catalog came from for /healthz.
func (a *API) SetCatalogInfo(sources []string, skipped []config.DefinitionSkip) {
	a.mu.Lock()
	a.sources = append([]string(nil), sources...)
	a.skipped = append([]config.DefinitionSkip(nil), skipped...)
	a.mu.Unlock()
}

// Health reports cache occupancy and catalog provenance.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	sources, skipped := a.sources, a.skipped
	a.mu.RUnlock()

	status := "ok"
	if len(skipped) > 0 {
		status = "degraded"
	}
	payload := map[string]any{
		"status":       status,
		"cacheEntries": a.client.Cache().Len(),
		"categories":   a.catalogs.Load().Names(),
		"observedAt":   a.now().UTC(),
	}
	if len(sources) > 0 {
		payload["trackerSources"] = sources
	}
	if len(skipped) > 0 {
		payload["skippedDefinitions"] = skipped
	}
	a.writeJSON(w, r, http.StatusOK, payload)
}

// Trackers lists the active catalog.
func (a *API) Trackers(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, r, http.StatusOK, map[string]any{"trackers": a.catalogs.Load().Definitions()})
}

func (a *API) requestLogger(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), a.logger)
}

// user returns the caller; Identity guarantees it is present.
func (a *API) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		a.writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return user, ok
}

func policyFor(r *http.Request) fetch.Policy {
	return fetch.PolicyFromCacheControl(cache.ParseCacheControl(r.Header.Get("Cache-Control")))
}

// writeState renders a query result with the headers that describe how it
// was served: X-Cache is hit, stale or miss and Age counts seconds since the
// data was fetched.
func writeState[T any](a *API, w http.ResponseWriter, r *http.Request, st fetch.State[T]) {
	if st.Err != nil {
		a.fail(w, r, st.Err)
		return
	}
	if st.Status == fetch.StatusDisabled {
		a.writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	xcache := "miss"
	age := 0
	switch st.Source {
	case fetch.SourceCache, fetch.SourceMutate:
		xcache = "hit"
		if st.Stale {
			xcache = "stale"
		}
		if d := a.now().Sub(st.UpdatedAt); d > 0 {
			age = int(d / time.Second)
		}
	}
	w.Header().Set("X-Cache", xcache)
	w.Header().Set("Age", strconv.Itoa(age))
	w.Header().Set("Cache-Control", "private, no-cache")
	a.writeJSON(w, r, http.StatusOK, st.Data)
}

// fail maps domain errors to HTTP statuses.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		a.writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, tracker.ErrInvalidEntry):
		a.writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		a.requestLogger(r).Debug("request abandoned", slog.Any("error", err))
		a.writeError(w, r, http.StatusServiceUnavailable, "request canceled")
	default:
		a.requestLogger(r).Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		a.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		a.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.requestLogger(r).Error("response encode failed", slog.Any("error", err))
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	a.writeJSON(w, r, status, map[string]string{"error": message})
}
