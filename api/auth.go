package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	defaultLeeway       = time.Minute
)

// Auth validates bearer tokens issued by the hosted auth service. Tokens are
// either signed with the project's shared secret (HS256) or with a key
// published in a JWKS (RS256/ES256).
type Auth struct {
	JWKS     *keyfunc.JWKS
	Secret   []byte
	Audience string
	Issuer   string
	Leeway   time.Duration

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth. At least one of jwks and secret must be set.
func NewAuth(jwks *keyfunc.JWKS, secret []byte, audience, issuer string, keyCacheTTL time.Duration) (*Auth, error) {
	var methods []string
	if len(secret) > 0 {
		methods = append(methods, "HS256")
	}
	if jwks != nil {
		methods = append(methods, "RS256", "ES256")
	}
	if len(methods) == 0 {
		return nil, errors.New("auth requires a jwt secret or a jwks url")
	}
	if keyCacheTTL < 0 {
		return nil, errors.New("invalid jwks cache ttl")
	}
	if keyCacheTTL == 0 {
		keyCacheTTL = defaultJWKSCacheTTL
	}
	return &Auth{
		JWKS:        jwks,
		Secret:      secret,
		Audience:    audience,
		Issuer:      issuer,
		Leeway:      defaultLeeway,
		parser:      jwt.NewParser(jwt.WithValidMethods(methods), jwt.WithoutClaimsValidation()),
		keyCacheTTL: keyCacheTTL,
	}, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer validates a raw bearer token and returns its subject.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}

	parsed, err := a.parser.Parse(token, a.key)
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now()
	if !claims.VerifyExpiresAt(now.Add(-a.Leeway).Unix(), true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now.Add(a.Leeway).Unix(), false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now.Add(a.Leeway).Unix(), false) {
		return "", errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) key(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); ok {
		if len(a.Secret) == 0 {
			return nil, errors.New("shared secret not configured")
		}
		return a.Secret, nil
	}
	return a.keyForToken(t)
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
