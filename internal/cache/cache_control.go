package cache

import (
	"strconv"
	"strings"
	"time"
)

// CacheControlDirective represents the request Cache-Control directives that
// steer how a read is served from the cache.
type CacheControlDirective struct {
	MaxAge  *int // max-age directive value in seconds
	NoCache bool // no-cache directive present
	NoStore bool // no-store directive present
}

// ParseCacheControl parses a Cache-Control header string.
//
// Supported directives:
//   - max-age=<seconds>
//   - no-cache
//   - no-store
//
// Unknown directives are silently ignored.
func ParseCacheControl(header string) CacheControlDirective {
	directive := CacheControlDirective{}

	if header == "" {
		return directive
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if key, value, ok := strings.Cut(part, "="); ok {
			key = strings.TrimSpace(strings.ToLower(key))
			value = strings.Trim(strings.TrimSpace(value), `"`)
			if key == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					directive.MaxAge = &seconds
				}
			}
			continue
		}

		switch strings.ToLower(part) {
		case "no-cache":
			directive.NoCache = true
		case "no-store":
			directive.NoStore = true
		}
	}

	return directive
}

// ForceRefresh reports whether the caller refuses cached data outright.
func (d CacheControlDirective) ForceRefresh() bool {
	return d.NoCache || d.NoStore
}

// StaleTime returns the freshness bound requested through max-age. The second
// result is false when the header carried no max-age.
func (d CacheControlDirective) StaleTime() (time.Duration, bool) {
	if d.MaxAge == nil {
		return 0, false
	}
	return time.Duration(*d.MaxAge) * time.Second, true
}
