// Package auth carries the identity of the signed-in user. Authentication
// itself happens upstream; ledger operations only receive a Session.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// HeaderUserID is set by the authenticating proxy in front of the API.
const HeaderUserID = "X-User-ID"

var ErrNoSession = errors.New("no authenticated user")

// Session identifies the user an operation runs for. UserID is opaque.
type Session struct {
	UserID string
}

// NewSession validates uid and returns a session for it.
func NewSession(uid string) (Session, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" || strings.Contains(uid, "/") || len(uid) > 128 {
		return Session{}, ErrNoSession
	}
	return Session{UserID: uid}, nil
}

func (s Session) Valid() bool {
	return s.UserID != ""
}

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok && s.Valid()
}

// Middleware resolves the session from HeaderUserID and rejects requests
// without one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := NewSession(r.Header.Get(HeaderUserID))
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"missing user identity"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}
