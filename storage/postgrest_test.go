package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"todo-api/domain"
	"todo-api/session"
)

type seenRequest struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   string
}

type restServer struct {
	*httptest.Server
	mu     sync.Mutex
	seen   []seenRequest
	status int
	reply  string
}

func newRestServer(t *testing.T, status int, reply string) *restServer {
	t.Helper()
	rs := &restServer{status: status, reply: reply}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.seen = append(rs.seen, seenRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.Query(),
			header: r.Header.Clone(),
			body:   string(body),
		})
		rs.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rs.status)
		_, _ = w.Write([]byte(rs.reply))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *restServer) last(t *testing.T) seenRequest {
	t.Helper()
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.seen) == 0 {
		t.Fatalf("no request reached the server")
	}
	return rs.seen[len(rs.seen)-1]
}

func newTestPostgREST(t *testing.T, rs *restServer) *PostgREST {
	t.Helper()
	p, err := NewPostgREST(rs.URL+"/", "anon-key", WithServiceKey("service-key"))
	if err != nil {
		t.Fatalf("NewPostgREST: %v", err)
	}
	return p
}

func TestPostgRESTSelectBuildsQuery(t *testing.T) {
	rs := newRestServer(t, http.StatusOK, `[{"id":"a","title":"x","is_complete":true,"inserted_at":"2024-03-01T10:00:00.123456+00:00","user_id":"u1","category":null}]`)
	p := newTestPostgREST(t, rs)

	ctx := session.WithContext(context.Background(), session.New("u1", "user-token"))
	rows, err := p.Select(ctx, "todos", []domain.Filter{domain.Eq(domain.ColumnUserID, "u1")}, domain.NewestFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "a" || !rows[0].IsComplete || rows[0].Category != "" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if rows[0].InsertedAt.IsZero() {
		t.Fatalf("inserted_at not decoded")
	}

	req := rs.last(t)
	if req.method != http.MethodGet || req.path != "/rest/v1/todos" {
		t.Fatalf("unexpected request %s %s", req.method, req.path)
	}
	if got := req.query.Get("user_id"); got != "eq.u1" {
		t.Fatalf("user filter = %q", got)
	}
	if got := req.query.Get("order"); got != "inserted_at.desc" {
		t.Fatalf("order = %q", got)
	}
	if got := req.query.Get("select"); got != "*" {
		t.Fatalf("select = %q", got)
	}
	if got := req.header.Get("Authorization"); got != "Bearer user-token" {
		t.Fatalf("authorization = %q", got)
	}
	if got := req.header.Get("apikey"); got != "anon-key" {
		t.Fatalf("apikey = %q", got)
	}
}

func TestPostgRESTFallsBackToServiceKey(t *testing.T) {
	rs := newRestServer(t, http.StatusOK, `[]`)
	p := newTestPostgREST(t, rs)
	if _, err := p.Select(context.Background(), "todos", nil, domain.Order{}); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got := rs.last(t).header.Get("Authorization"); got != "Bearer service-key" {
		t.Fatalf("authorization = %q", got)
	}
}

func TestPostgRESTInsertSendsOnlyPresentFields(t *testing.T) {
	rs := newRestServer(t, http.StatusCreated, `[{"id":"n1","title":"Buy milk","is_complete":false,"user_id":"u1","category":"Documentation"}]`)
	p := newTestPostgREST(t, rs)

	title, done, user := "Buy milk", false, "u1"
	rows, err := p.Insert(context.Background(), "todos", domain.TaskPatch{Title: &title, IsComplete: &done, UserID: &user})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "n1" || rows[0].Category != domain.CategoryDocumentation {
		t.Fatalf("unexpected rows %+v", rows)
	}
	req := rs.last(t)
	if req.method != http.MethodPost {
		t.Fatalf("method = %s", req.method)
	}
	if got := req.header.Get("Prefer"); got != "return=representation" {
		t.Fatalf("prefer = %q", got)
	}
	if strings.Contains(req.body, "priority") || strings.Contains(req.body, "category") {
		t.Fatalf("absent fields were sent: %s", req.body)
	}
	if !strings.Contains(req.body, `"is_complete":false`) {
		t.Fatalf("is_complete missing from body: %s", req.body)
	}
}

func TestPostgRESTUpdateZeroRows(t *testing.T) {
	rs := newRestServer(t, http.StatusOK, `[]`)
	p := newTestPostgREST(t, rs)

	done := true
	rows, err := p.Update(context.Background(), "todos", domain.TaskPatch{IsComplete: &done},
		[]domain.Filter{domain.Eq(domain.ColumnID, "missing"), domain.Eq(domain.ColumnUserID, "u1")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
	req := rs.last(t)
	if req.method != http.MethodPatch || req.query.Get("id") != "eq.missing" {
		t.Fatalf("unexpected request %s %v", req.method, req.query)
	}
}

func TestPostgRESTUpdateRejectsUnscopedWrites(t *testing.T) {
	rs := newRestServer(t, http.StatusOK, `[]`)
	p := newTestPostgREST(t, rs)
	done := true
	if _, err := p.Update(context.Background(), "todos", domain.TaskPatch{IsComplete: &done}, nil); err == nil {
		t.Fatalf("expected error for unfiltered update")
	}
	if err := p.Delete(context.Background(), "todos", nil); err == nil {
		t.Fatalf("expected error for unfiltered delete")
	}
	if _, err := p.Select(context.Background(), "todos", []domain.Filter{{Column: "owner", Value: "x"}}, domain.Order{}); err == nil {
		t.Fatalf("expected error for unknown column")
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.seen) != 0 {
		t.Fatalf("rejected calls reached the server: %d", len(rs.seen))
	}
}

func TestPostgRESTDelete(t *testing.T) {
	rs := newRestServer(t, http.StatusNoContent, ``)
	p := newTestPostgREST(t, rs)
	if err := p.Delete(context.Background(), "todos", []domain.Filter{domain.Eq(domain.ColumnID, "a")}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if req := rs.last(t); req.method != http.MethodDelete || req.query.Get("id") != "eq.a" {
		t.Fatalf("unexpected request %s %v", req.method, req.query)
	}
}

func TestPostgRESTErrorBody(t *testing.T) {
	rs := newRestServer(t, http.StatusForbidden, `{"code":"42501","message":"permission denied for table todos","details":null,"hint":null}`)
	p := newTestPostgREST(t, rs)

	_, err := p.Select(context.Background(), "todos", nil, domain.Order{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Code != "42501" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if domain.Classify(err) != domain.KindRemote {
		t.Fatalf("kind = %v", domain.Classify(err))
	}
}

func TestNewPostgRESTValidates(t *testing.T) {
	if _, err := NewPostgREST("not a url", "k"); err == nil {
		t.Fatalf("expected error for relative url")
	}
	if _, err := NewPostgREST("https://x.example.co", ""); err == nil {
		t.Fatalf("expected error for missing key")
	}
}
