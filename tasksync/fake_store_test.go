package tasksync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"todo-api/domain"
)

type storeCall struct {
	method  string
	table   string
	patch   domain.TaskPatch
	filters []domain.Filter
}

// fakeStore is an in-memory remote store that assigns ids and timestamps the
// way the hosted backend does.
type fakeStore struct {
	mu    sync.Mutex
	rows  []domain.Task
	calls []storeCall
	next  int
	base  time.Time

	selectErr error
	insertErr error
	updateErr error
	deleteErr error
	// insertRows, when set, replaces whatever the insert would return.
	insertRows []domain.Task
	emptyWrite bool
	// onUpdate lets a test emulate triggers that rewrite the stored row.
	onUpdate func(domain.Task) domain.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{base: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeStore) record(c storeCall) {
	f.calls = append(f.calls, c)
}

func (f *fakeStore) Calls() []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]storeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeStore) Select(ctx context.Context, table string, filters []domain.Filter, order domain.Order) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(storeCall{method: "select", table: table, filters: filters})
	if f.selectErr != nil {
		return nil, f.selectErr
	}
	out := []domain.Task{}
	for _, r := range f.rows {
		if r.Matches(filters) {
			out = append(out, r)
		}
	}
	if order.Column == domain.ColumnInsertedAt && order.Descending {
		sort.SliceStable(out, func(i, j int) bool { return out[i].InsertedAt.After(out[j].InsertedAt) })
	}
	return out, nil
}

func (f *fakeStore) Insert(ctx context.Context, table string, rec domain.TaskPatch) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(storeCall{method: "insert", table: table, patch: rec})
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	if f.insertRows != nil {
		f.rows = append(f.rows, f.insertRows...)
		return f.insertRows, nil
	}
	if f.emptyWrite {
		return []domain.Task{}, nil
	}
	f.next++
	row := domain.Task{
		ID:         fmt.Sprintf("t%d", f.next),
		Category:   domain.DefaultCategory,
		InsertedAt: f.base.Add(time.Duration(f.next) * time.Minute),
	}.Apply(rec)
	f.rows = append(f.rows, row)
	return []domain.Task{row}, nil
}

func (f *fakeStore) Update(ctx context.Context, table string, patch domain.TaskPatch, filters []domain.Filter) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(storeCall{method: "update", table: table, patch: patch, filters: filters})
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	out := []domain.Task{}
	if f.emptyWrite {
		return out, nil
	}
	for i, r := range f.rows {
		if !r.Matches(filters) {
			continue
		}
		r = r.Apply(patch)
		if f.onUpdate != nil {
			r = f.onUpdate(r)
		}
		f.rows[i] = r
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) Delete(ctx context.Context, table string, filters []domain.Filter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(storeCall{method: "delete", table: table, filters: filters})
	if f.deleteErr != nil {
		return f.deleteErr
	}
	kept := f.rows[:0]
	for _, r := range f.rows {
		if !r.Matches(filters) {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Report(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) errors() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notice
	for _, n := range r.notices {
		if n.Level == LevelError {
			out = append(out, n)
		}
	}
	return out
}
