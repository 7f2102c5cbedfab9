package server

import (
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"maps"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookieName = "voicedetect_session"
	sessionDuration   = 24 * time.Hour
)

// Credentials returns the configured username and password.
type Credentials func() (username, password string)

// SessionManager manages user authentication sessions.
// It is safe for concurrent use.
type SessionManager struct {
	credentials Credentials
	sessions    map[string]time.Time // token -> expiry
	mu          sync.Mutex
	now         func() time.Time
}

// NewSessionManager creates a new session manager that checks logins
// against credentials.
func NewSessionManager(credentials Credentials) *SessionManager {
	return &SessionManager{
		credentials: credentials,
		sessions:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// generateToken returns a cryptographically secure random token.
func generateToken() string {
	b := make([]byte, 32)
	if _, err := cryptorand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// Create creates a new session and returns the token.
func (sm *SessionManager) Create() string {
	token := generateToken()
	if token == "" {
		return ""
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()

	// Periodically clean up expired sessions.
	if rand.IntN(10) == 0 {
		maps.DeleteFunc(sm.sessions, func(_ string, expiresAt time.Time) bool {
			return now.After(expiresAt)
		})
	}

	sm.sessions[token] = now.Add(sessionDuration)
	return token
}

// Validate reports whether a session token is valid.
func (sm *SessionManager) Validate(token string) bool {
	if token == "" {
		return false
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	expiresAt, exists := sm.sessions[token]
	if !exists {
		return false
	}

	if sm.now().After(expiresAt) {
		delete(sm.sessions, token)
		return false
	}

	return true
}

// Delete removes a session token.
func (sm *SessionManager) Delete(token string) {
	if token == "" {
		return
	}
	sm.mu.Lock()
	delete(sm.sessions, token)
	sm.mu.Unlock()
}

// checkCredentials compares username and password in constant time.
func (sm *SessionManager) checkCredentials(username, password string) bool {
	configUser, configPass := sm.credentials()
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(configUser)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(configPass)) == 1
	return userMatch && passMatch
}

// Authenticated reports whether the request carries a valid session cookie
// or valid HTTP basic auth credentials.
func (sm *SessionManager) Authenticated(r *http.Request) bool {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && sm.Validate(cookie.Value) {
		return true
	}
	if username, password, ok := r.BasicAuth(); ok {
		return sm.checkCredentials(username, password)
	}
	return false
}

// AuthMiddleware returns middleware that requires a session cookie or basic
// auth. Unauthenticated requests get 401 with a basic auth challenge.
func (sm *SessionManager) AuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if sm.Authenticated(r) {
				next(w, r)
				return
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="voicedetect"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
	}
}

// setSessionCookie sets or clears the session cookie.
func setSessionCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// Login reports whether login succeeded and creates a session if valid.
func (sm *SessionManager) Login(w http.ResponseWriter, r *http.Request, username, password string) bool {
	if !sm.checkCredentials(username, password) {
		return false
	}

	token := sm.Create()
	if token == "" {
		return false
	}

	setSessionCookie(w, r, token, int(sessionDuration.Seconds()))
	return true
}

// Logout clears the session cookie and deletes the session.
func (sm *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sm.Delete(cookie.Value)
	}
	setSessionCookie(w, r, "", -1)
}
