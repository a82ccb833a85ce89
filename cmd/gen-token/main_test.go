package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"todo-api/api"
)

func TestMintedTokensPassAuth(t *testing.T) {
	secret := []byte("dev-secret")
	m := minter{secret: secret, audience: "authenticated", ttl: time.Hour, now: time.Now}
	tokens, err := m.mintAll(userIDs(2, "perf"))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	auth, err := api.NewAuth(nil, secret, "authenticated", "", 0)
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	for i, want := range []string{"perf-1", "perf-2"} {
		got, err := auth.UserIDFromAuthHeader("Bearer " + tokens[i])
		if err != nil {
			t.Fatalf("token %d rejected: %v", i, err)
		}
		if got != want {
			t.Fatalf("token %d subject = %q, want %q", i, got, want)
		}
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	secret := []byte("dev-secret")
	past := func() time.Time { return time.Now().Add(-3 * time.Hour) }
	tok, err := minter{secret: secret, audience: "authenticated", ttl: time.Hour, now: past}.mint("u")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	auth, _ := api.NewAuth(nil, secret, "authenticated", "", 0)
	if _, err := auth.UserIDFromAuthHeader("Bearer " + tok); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestMintRejectsEmptyUser(t *testing.T) {
	if _, err := (minter{secret: []byte("s"), now: time.Now}).mint(""); err == nil {
		t.Fatalf("expected error for empty user id")
	}
}

func TestWriteTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []string
	if err := json.Unmarshal(data, &got); err != nil || len(got) != 2 || got[1] != "b" {
		t.Fatalf("unexpected file %q (%v)", data, err)
	}
}
