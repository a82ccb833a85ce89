// Package session carries the identity every task operation is scoped to.
package session

import (
	"context"
	"strings"
)

// Session is either an authenticated user or the anonymous variant. The zero
// value is anonymous.
type Session struct {
	userID      string
	accessToken string
}

// New returns an authenticated session. A blank user id yields an anonymous
// session so callers cannot construct a half-authenticated one.
func New(userID, accessToken string) Session {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Anonymous()
	}
	return Session{userID: userID, accessToken: accessToken}
}

// Anonymous returns the unauthenticated session.
func Anonymous() Session { return Session{} }

func (s Session) UserID() string { return s.userID }

// AccessToken is the caller's bearer token, forwarded to the remote store when
// it enforces row-level security itself.
func (s Session) AccessToken() string { return s.accessToken }

func (s Session) Authenticated() bool { return s.userID != "" }

type ctxKey struct{}

// WithContext attaches s to ctx.
func WithContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session attached to ctx, or the anonymous session.
func FromContext(ctx context.Context) Session {
	if ctx == nil {
		return Anonymous()
	}
	s, _ := ctx.Value(ctxKey{}).(Session)
	return s
}
