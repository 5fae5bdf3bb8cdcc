package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/l0p7/moodtrack/internal/api"
	"github.com/l0p7/moodtrack/internal/auth"
	"github.com/l0p7/moodtrack/internal/config"
	"github.com/l0p7/moodtrack/internal/metrics"
)

// RouterOptions wires NewRouter.
type RouterOptions struct {
	API     *api.API
	Metrics *metrics.Recorder
	Logger  *slog.Logger
	// CSRF must be the store the API issues tokens from.
	CSRF   *auth.CSRFStore
	Config config.ServerConfig
}

// NewRouter maps the HTTP surface onto the API handlers. Everything under
// /api/ requires an identity; state-changing /api/ requests also require a
// CSRF token when enabled.
func NewRouter(opts RouterOptions) (http.Handler, error) {
	if opts.API == nil {
		return nil, errors.New("server: api required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authCfg := opts.Config.Auth
	var csrf Middleware
	if authCfg.CSRF.Enabled {
		if opts.CSRF == nil {
			return nil, errors.New("server: csrf store required when csrf is enabled")
		}
		csrf = auth.RequireCSRF(opts.CSRF, authCfg.CSRF.Header)
	}
	identity := Middleware(auth.Identity(authCfg.UserHeader))
	a := opts.API

	mux := http.NewServeMux()
	public := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, Chain(h, Instrument(opts.Metrics, pattern)))
	}
	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, Chain(h, Instrument(opts.Metrics, pattern), identity, csrf))
	}

	public("GET /healthz", a.Health)
	mux.Handle("GET /metrics", opts.Metrics.Handler())

	protected("GET /api/trackers", a.Trackers)
	protected("GET /api/entries", a.ListEntries)
	protected("POST /api/entries", a.SaveEntry)
	protected("GET /api/entries/{id}", a.GetEntry)
	protected("DELETE /api/entries/{id}", a.DeleteEntry)
	protected("GET /api/dashboard", a.Dashboard)
	protected("GET /api/drafts/{category}", a.GetDraft)
	protected("PUT /api/drafts/{category}", a.PutDraft)
	protected("DELETE /api/drafts/{category}", a.DeleteDraft)
	protected("GET /api/session/csrf", a.CSRFToken)
	protected("POST /api/session/logout", a.Logout)

	return Chain(mux,
		RequestLogging(logger, opts.Config.Logging.CorrelationHeader),
		Recover(logger),
		SecurityHeaders(opts.Config.Security),
	), nil
}
