// Command gen-token mints HS256 access tokens accepted by the API when it runs
// with JWT_SECRET, for local development and smoke tests.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		count    = flag.Int("count", 1, "number of tokens to generate")
		prefix   = flag.String("prefix", "dev-user", "user id, or the id prefix when count > 1")
		audience = flag.String("aud", "authenticated", "audience claim")
		issuer   = flag.String("iss", "", "issuer claim")
		ttl      = flag.Duration("ttl", time.Hour, "token lifetime")
		output   = flag.String("output", "", "file to write the tokens to as a JSON array")
	)
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	if *count < 1 {
		log.Fatal("count must be at least 1")
	}

	m := minter{secret: []byte(secret), audience: *audience, issuer: *issuer, ttl: *ttl, now: time.Now}
	tokens, err := m.mintAll(userIDs(*count, *prefix))
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	if *output != "" {
		if err := writeTokens(*output, tokens); err != nil {
			log.Fatalf("write tokens: %v", err)
		}
	}
	fmt.Print(tokens[0])
}

type minter struct {
	secret   []byte
	audience string
	issuer   string
	ttl      time.Duration
	now      func() time.Time
}

func (m minter) mint(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is empty")
	}
	now := m.now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": "authenticated",
		"iat":  now.Unix(),
		"exp":  now.Add(m.ttl).Unix(),
	}
	if m.audience != "" {
		claims["aud"] = m.audience
	}
	if m.issuer != "" {
		claims["iss"] = m.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m minter) mintAll(ids []string) ([]string, error) {
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tok, err := m.mint(id)
		if err != nil {
			return nil, err
		}
		tokens[i] = tok
	}
	return tokens, nil
}

func userIDs(count int, prefix string) []string {
	if count == 1 {
		return []string{prefix}
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return ids
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
