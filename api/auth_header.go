package api

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"todo-api/session"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerToken returns the compact JWT carried by an Authorization header value.
func bearerToken(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(trimmed, bearerPrefix)
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// requestSession authenticates c and returns the caller's session. The
// access token is kept so the store can act on the caller's behalf.
func requestSession(c echo.Context, auth Authenticator) (session.Session, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	userID, err := auth.UserIDFromAuthHeader(header)
	if err != nil {
		return session.Anonymous(), err
	}
	token, _ := bearerToken(header)
	sess := session.New(userID, token)
	if !sess.Authenticated() {
		return sess, errors.New("missing subject")
	}
	return sess, nil
}
