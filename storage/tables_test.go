package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"todo-api/domain"
)

// memTable keeps raw entities keyed by partition and row key and applies
// merges the way the service does.
type memTable struct {
	mu       sync.Mutex
	entities map[string]map[string]any
	filters  []string
	listErr  error
}

func newMemTable() *memTable {
	return &memTable{entities: map[string]map[string]any{}}
}

func entityKey(pk, rk string) string { return pk + "/" + rk }

func notFound() error {
	return &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "ResourceNotFound"}
}

func (m *memTable) list(_ context.Context, filter string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, filter)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out [][]byte
	for _, e := range m.entities {
		data, _ := json.Marshal(e)
		out = append(out, data)
	}
	return out, nil
}

func (m *memTable) add(_ context.Context, entity []byte) error {
	var props map[string]any
	if err := json.Unmarshal(entity, &props); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entityKey(props["PartitionKey"].(string), props["RowKey"].(string))] = props
	return nil
}

func (m *memTable) merge(_ context.Context, entity []byte) error {
	var props map[string]any
	if err := json.Unmarshal(entity, &props); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entities[entityKey(props["PartitionKey"].(string), props["RowKey"].(string))]
	if !ok {
		return notFound()
	}
	for k, v := range props {
		cur[k] = v
	}
	return nil
}

func (m *memTable) get(_ context.Context, pk, rk string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entities[entityKey(pk, rk)]
	if !ok {
		return nil, nil
	}
	return json.Marshal(cur)
}

func (m *memTable) remove(_ context.Context, pk, rk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[entityKey(pk, rk)]; !ok {
		return notFound()
	}
	delete(m.entities, entityKey(pk, rk))
	return nil
}

func newTestTables(mem *memTable) *Tables {
	s := newTables(func(string) entityTable { return mem })
	var n int
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.newID = func() string {
		n++
		return "id-" + string(rune('a'+n-1))
	}
	s.now = func() time.Time { return base.Add(time.Duration(n) * time.Second) }
	return s
}

func TestODataFilter(t *testing.T) {
	got, err := odataFilter([]domain.Filter{
		domain.Eq(domain.ColumnUserID, "o'brien"),
		domain.Eq(domain.ColumnIsComplete, "true"),
	})
	if err != nil {
		t.Fatalf("odataFilter: %v", err)
	}
	want := "PartitionKey eq 'o''brien' and IsComplete eq true"
	if got != want {
		t.Fatalf("filter = %q, want %q", got, want)
	}
	if _, err := odataFilter([]domain.Filter{domain.Eq(domain.ColumnIsComplete, "yes")}); err == nil {
		t.Fatalf("expected error for non-boolean value")
	}
	if _, err := odataFilter([]domain.Filter{{Column: "secret", Value: "x"}}); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}

func TestTablesInsertAssignsDefaults(t *testing.T) {
	mem := newMemTable()
	s := newTestTables(mem)

	title, done, user := "Write docs", false, "u1"
	rows, err := s.Insert(context.Background(), "todos", domain.TaskPatch{Title: &title, IsComplete: &done, UserID: &user})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	row := rows[0]
	if row.ID != "id-a" || row.UserID != "u1" || row.Category != domain.CategoryDocumentation || row.InsertedAt.IsZero() {
		t.Fatalf("unexpected row %+v", row)
	}
	stored := mem.entities[entityKey("u1", "id-a")]
	if stored["InsertedAt@odata.type"] != "Edm.DateTime" {
		t.Fatalf("inserted at not typed: %v", stored)
	}
	if _, ok := stored["Priority"]; ok {
		t.Fatalf("absent priority was written: %v", stored)
	}
}

func TestTablesSelectScopesAndOrders(t *testing.T) {
	mem := newMemTable()
	s := newTestTables(mem)
	ctx := context.Background()

	for _, owner := range []string{"u1", "u2", "u1"} {
		title, user := "task for "+owner, owner
		if _, err := s.Insert(ctx, "todos", domain.TaskPatch{Title: &title, UserID: &user}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	rows, err := s.Select(ctx, "todos", []domain.Filter{domain.Eq(domain.ColumnUserID, "u1")}, domain.NewestFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for u1, got %+v", rows)
	}
	if rows[0].ID != "id-c" || rows[1].ID != "id-a" {
		t.Fatalf("rows not newest first: %s, %s", rows[0].ID, rows[1].ID)
	}
	if f := mem.filters[len(mem.filters)-1]; f != "PartitionKey eq 'u1'" {
		t.Fatalf("filter = %q", f)
	}
}

func TestTablesUpdateMergesAndRereads(t *testing.T) {
	mem := newMemTable()
	s := newTestTables(mem)
	ctx := context.Background()

	title, user := "Draft", "u1"
	if _, err := s.Insert(ctx, "todos", domain.TaskPatch{Title: &title, UserID: &user}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	done := true
	prio := domain.PriorityHigh
	rows, err := s.Update(ctx, "todos", domain.TaskPatch{IsComplete: &done, Priority: &prio},
		[]domain.Filter{domain.Eq(domain.ColumnID, "id-a"), domain.Eq(domain.ColumnUserID, "u1")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(rows) != 1 || !rows[0].IsComplete || rows[0].Priority != domain.PriorityHigh || rows[0].Title != "Draft" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestTablesUpdateMissingYieldsNoRows(t *testing.T) {
	s := newTestTables(newMemTable())
	done := true
	rows, err := s.Update(context.Background(), "todos", domain.TaskPatch{IsComplete: &done},
		[]domain.Filter{domain.Eq(domain.ColumnID, "missing"), domain.Eq(domain.ColumnUserID, "u1")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}

func TestTablesWritesRequireKeys(t *testing.T) {
	s := newTestTables(newMemTable())
	done := true
	_, err := s.Update(context.Background(), "todos", domain.TaskPatch{IsComplete: &done},
		[]domain.Filter{domain.Eq(domain.ColumnUserID, "u1")})
	if !errors.Is(err, ErrUnscoped) {
		t.Fatalf("expected ErrUnscoped, got %v", err)
	}
	err = s.Delete(context.Background(), "todos", []domain.Filter{domain.Eq(domain.ColumnTitle, "x")})
	if !errors.Is(err, ErrUnscoped) {
		t.Fatalf("expected ErrUnscoped, got %v", err)
	}
	if _, err := s.Insert(context.Background(), "todos", domain.TaskPatch{}); err == nil {
		t.Fatalf("expected insert without owner to fail")
	}
}

func TestTablesDeleteIsIdempotent(t *testing.T) {
	mem := newMemTable()
	s := newTestTables(mem)
	ctx := context.Background()
	title, user := "Gone", "u1"
	if _, err := s.Insert(ctx, "todos", domain.TaskPatch{Title: &title, UserID: &user}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	scope := []domain.Filter{domain.Eq(domain.ColumnID, "id-a"), domain.Eq(domain.ColumnUserID, "u1")}
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, "todos", scope); err != nil {
			t.Fatalf("Delete %d: %v", i, err)
		}
	}
	if len(mem.entities) != 0 {
		t.Fatalf("entity not removed")
	}
}

func TestDecodeTaskEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"u1","RowKey":"r1","Timestamp":"2024-05-01T12:00:00.1234567Z","Title":"T","IsComplete":true,"InsertedAt@odata.type":"Edm.DateTime","InsertedAt":"2024-05-01T12:00:00.1234567Z"}`)
	task, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID != "r1" || task.UserID != "u1" || !task.IsComplete {
		t.Fatalf("unexpected task %+v", task)
	}
	if !strings.HasPrefix(task.InsertedAt.Format(time.RFC3339Nano), "2024-05-01T12:00:00.1234567") {
		t.Fatalf("inserted at = %v", task.InsertedAt)
	}
	if _, err := decodeTaskEntity([]byte(`{"RowKey":"r","InsertedAt":"yesterday"}`)); err == nil {
		t.Fatalf("expected error for malformed timestamp")
	}
}
