package servo

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AlgNone marks an anonymous session.
	AlgNone = "none"
	// AlgHS256 is the mode assumed once credentials are configured.
	AlgHS256 = "HS256"

	authHeader = "Authorization"
)

// ErrNoToken is returned by token inspection before a token was acquired.
var ErrNoToken = errors.New("servo: no auth token cached")

// Session is the client state owned by one Client: where to send requests,
// which credentials are configured, and the auth token obtained from the
// server. The token is acquired lazily from the first response and reused
// for every later request; once set it is never cleared.
type Session struct {
	mu      sync.RWMutex
	baseURL string
	appID   string
	appKey  string
	algMode string

	token atomic.Pointer[string]
}

func newSession(baseURL string) *Session {
	s := &Session{algMode: AlgNone}
	s.SetURL(baseURL)
	return s
}

// SetURL replaces the base URL. Trailing slashes are dropped.
func (s *Session) SetURL(baseURL string) {
	s.mu.Lock()
	s.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	s.mu.Unlock()
}

// BaseURL returns the configured base URL ("" when unset).
func (s *Session) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

// SetCredentials configures the application credentials. An empty alg
// defaults to HS256. The mode is informational; requests are not signed.
func (s *Session) SetCredentials(appID, appKey, alg string) {
	if alg == "" {
		alg = AlgHS256
	}
	s.mu.Lock()
	s.appID = appID
	s.appKey = appKey
	s.algMode = alg
	s.mu.Unlock()
}

// SetAlgMode overrides the informational algorithm mode.
func (s *Session) SetAlgMode(alg string) {
	s.mu.Lock()
	s.algMode = alg
	s.mu.Unlock()
}

// Credentials returns the configured application id and key.
func (s *Session) Credentials() (appID, appKey string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appID, s.appKey
}

// AlgMode returns "none" for anonymous sessions.
func (s *Session) AlgMode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.algMode
}

// Authenticated reports whether both credentials are configured.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appID != "" && s.appKey != ""
}

// Token returns the cached auth token, or "" before one was acquired.
func (s *Session) Token() string {
	if p := s.token.Load(); p != nil {
		return *p
	}
	return ""
}

// observeToken caches the response's authorization header when the session
// has credentials and no token yet. It reports whether this call stored it.
func (s *Session) observeToken(h http.Header) (string, bool) {
	if h == nil || !s.Authenticated() {
		return "", false
	}
	tok := strings.TrimSpace(h.Get(authHeader))
	if tok == "" {
		return "", false
	}
	if !s.token.CompareAndSwap(nil, &tok) {
		return "", false
	}
	return tok, true
}

// sessionSnapshot is the read-only view handed to the request builder.
type sessionSnapshot struct {
	baseURL string
	token   string
}

func (s *Session) snapshot() sessionSnapshot {
	return sessionSnapshot{baseURL: s.BaseURL(), token: s.Token()}
}

// TokenClaims decodes the cached token as a JWT without verifying its
// signature. Servers that issue opaque tokens yield an error.
func (s *Session) TokenClaims() (jwt.MapClaims, error) {
	tok := strings.TrimPrefix(s.Token(), "Bearer ")
	if tok == "" {
		return nil, ErrNoToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil, fmt.Errorf("servo: token is not a JWT: %w", err)
	}
	return claims, nil
}

// TokenExpiry returns the "exp" claim of the cached token when present.
func (s *Session) TokenExpiry() (time.Time, bool) {
	claims, err := s.TokenClaims()
	if err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
