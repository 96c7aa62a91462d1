package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// userIDClaims are checked in order when the session has no explicit user.
var userIDClaims = []string{"userId", "id", "_id"}

// ParseSession builds a session from configured credentials. When token is
// a JWT its expiry is honoured, and a missing userID is read from its
// claims. The signature is not verified; the backend does that.
func ParseSession(userID, token string) (domain.Session, error) {
	s := domain.Session{UserID: strings.TrimSpace(userID), Token: strings.TrimSpace(token)}
	if s.Token == "" || strings.Count(s.Token, ".") != 2 {
		return s, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, claims); err != nil {
		if s.UserID != "" {
			// Opaque token with an explicit user.
			return s, nil
		}
		return s, fmt.Errorf("service: parse session token: %w", err)
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
	}
	if s.UserID == "" {
		for _, key := range userIDClaims {
			if v, ok := claims[key].(string); ok && v != "" {
				s.UserID = v
				break
			}
		}
	}
	return s, nil
}

// SessionStore holds the current session.
type SessionStore struct {
	mu      sync.RWMutex
	session domain.Session
}

// NewSessionStore creates a store holding s.
func NewSessionStore(s domain.Session) *SessionStore {
	return &SessionStore{session: s}
}

// Current returns the current session.
func (st *SessionStore) Current() domain.Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.session
}

// Set replaces the session.
func (st *SessionStore) Set(s domain.Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.session = s
}

// Token returns the bearer token while the session is valid.
func (st *SessionStore) Token() string {
	s := st.Current()
	if !s.ExpiresAt.IsZero() && !time.Now().Before(s.ExpiresAt) {
		return ""
	}
	return s.Token
}
