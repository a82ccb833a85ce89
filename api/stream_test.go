package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"todo-api/session"
	"todo-api/tasksync"
)

// syncRecorder guards the body so the test can read it while the stream runs.
type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *syncRecorder) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(b)
}

func (r *syncRecorder) Flush() {}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestStreamNoticesSendsBacklogThenLive(t *testing.T) {
	h := newHarness(t)
	ws := h.reg.Workspace(session.New("user", "a.b.c"))
	ws.Tray.Push("older", tasksync.LevelInfo, 0)
	ws.Tray.Push("newer", tasksync.LevelInfo, 0)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/notices/stream?token=a.b.c", nil).WithContext(ctx)
	rec := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		h.e.ServeHTTP(rec, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(rec.body(), "newer") {
		if time.Now().After(deadline) {
			t.Fatalf("backlog not streamed, body %q", rec.body())
		}
		time.Sleep(5 * time.Millisecond)
	}
	ws.Tray.Push("live", tasksync.LevelSuccess, 0)
	for !strings.Contains(rec.body(), "live") {
		if time.Now().After(deadline) {
			t.Fatalf("live toast not streamed, body %q", rec.body())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	body := rec.body()
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	events := strings.Split(strings.TrimSpace(body), "\n\n")
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %q", len(events), body)
	}
	for i, want := range []string{"older", "newer", "live"} {
		if !strings.HasPrefix(events[i], sseDataPrefix) || !strings.Contains(events[i], `"title":"`+want+`"`) {
			t.Fatalf("event %d = %q, want %s", i, events[i], want)
		}
	}
}

func TestStreamNoticesRequiresToken(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/notices/stream", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
