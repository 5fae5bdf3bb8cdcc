package auth

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCSRFTTL is used when a store is built without a lifetime.
const DefaultCSRFTTL = time.Hour

type csrfToken struct {
	value     string
	expiresAt time.Time
}

// CSRFStore issues one token per user. Tokens expire lazily and are dropped
// on logout.
type CSRFStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]csrfToken
}

// NewCSRFStore builds a store whose tokens live for ttl.
func NewCSRFStore(ttl time.Duration, clock func() time.Time) *CSRFStore {
	if ttl <= 0 {
		ttl = DefaultCSRFTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &CSRFStore{ttl: ttl, now: clock, tokens: make(map[string]csrfToken)}
}

// Issue returns user's current token, minting a new one when none is valid.
func (s *CSRFStore) Issue(user string) (string, time.Time) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[user]; ok && now.Before(tok.expiresAt) {
		return tok.value, tok.expiresAt
	}
	tok := csrfToken{value: uuid.NewString(), expiresAt: now.Add(s.ttl)}
	s.tokens[user] = tok
	return tok.value, tok.expiresAt
}

// Verify reports whether token is user's unexpired token.
func (s *CSRFStore) Verify(user, token string) bool {
	if user == "" || token == "" {
		return false
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[user]
	if !ok {
		return false
	}
	if !now.Before(tok.expiresAt) {
		delete(s.tokens, user)
		return false
	}
	return subtle.ConstantTimeCompare([]byte(tok.value), []byte(token)) == 1
}

// Revoke drops user's token.
func (s *CSRFStore) Revoke(user string) {
	s.mu.Lock()
	delete(s.tokens, user)
	s.mu.Unlock()
}

// Sweep drops expired tokens and returns how many were removed.
func (s *CSRFStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for user, tok := range s.tokens {
		if !now.Before(tok.expiresAt) {
			delete(s.tokens, user)
			removed++
		}
	}
	return removed
}

// RequireCSRF rejects state-changing requests whose header does not carry the
// caller's token. It must run after Identity.
func RequireCSRF(store *CSRFStore, header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			user, _ := UserFrom(r.Context())
			if !store.Verify(user, r.Header.Get(header)) {
				writeError(w, http.StatusForbidden, "invalid csrf token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
