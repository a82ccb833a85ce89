package session

import (
	"context"
	"testing"
)

func TestNewBlankUserIsAnonymous(t *testing.T) {
	s := New("   ", "token")
	if s.Authenticated() {
		t.Fatalf("expected blank user id to produce anonymous session")
	}
	if s.AccessToken() != "" {
		t.Fatalf("anonymous session kept token %q", s.AccessToken())
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithContext(context.Background(), New("user-1", "tok"))
	got := FromContext(ctx)
	if !got.Authenticated() || got.UserID() != "user-1" || got.AccessToken() != "tok" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if FromContext(context.Background()).Authenticated() {
		t.Fatalf("expected anonymous session from empty context")
	}
}
