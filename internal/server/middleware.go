package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/l0p7/moodtrack/internal/config"
	"github.com/l0p7/moodtrack/internal/logging"
	"github.com/l0p7/moodtrack/internal/metrics"
)

// Middleware decorates a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares in order: m1(m2(...(h))).
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w}
}

// RequestLogging assigns each request a correlation id, echoed on header, and
// logs its completion.
func RequestLogging(logger *slog.Logger, header string) Middleware {
	logger = logger.With(slog.String("agent", "http"))
	header = strings.TrimSpace(header)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := ""
			if header != "" {
				id = strings.TrimSpace(r.Header.Get(header))
			}
			if id == "" {
				id = uuid.NewString()
			}
			if header != "" {
				w.Header().Set(header, id)
			}
			ctx := logging.WithCorrelationID(r.Context(), id)

			rec := record(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			level := slog.LevelInfo
			if rec.code() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.LogAttrs(ctx, level, "request completed",
				slog.String("correlation_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("http_status", rec.code()),
				slog.Int("bytes", rec.bytes),
				slog.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
			)
		})
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					logging.FromContext(r.Context(), logger).Error("handler panic",
						slog.String("path", r.URL.Path),
						slog.String("panic", fmt.Sprint(v)),
					)
					http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Instrument records request counts and latency under route. The route label
// is the registered pattern, never the raw path.
func Instrument(rec *metrics.Recorder, route string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := record(w)
			next.ServeHTTP(sr, r)
			rec.ObserveHTTP(route, r.Method, sr.code(), time.Since(start))
		})
	}
}

// SecurityHeaders applies the configured response headers to every response.
func SecurityHeaders(cfg config.SecurityConfig) Middleware {
	headers := map[string]string{"X-Content-Type-Options": "nosniff"}
	if cfg.ContentSecurityPolicy != "" {
		headers["Content-Security-Policy"] = cfg.ContentSecurityPolicy
	}
	if cfg.FrameOptions != "" {
		headers["X-Frame-Options"] = cfg.FrameOptions
	}
	if cfg.ReferrerPolicy != "" {
		headers["Referrer-Policy"] = cfg.ReferrerPolicy
	}
	if cfg.HSTSSeconds > 0 {
		headers["Strict-Transport-Security"] = fmt.Sprintf("max-age=%d; includeSubDomains", cfg.HSTSSeconds)
	}
	for name, value := range cfg.Headers {
		headers[http.CanonicalHeaderKey(name)] = value
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for name, value := range headers {
				h.Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
