// Package tasksync keeps one user's in-memory task collection consistent with
// the remote store. Local state changes only after the store confirms a write,
// and each completion patches a single entry by id so concurrent intents on
// different tasks never overwrite each other.
package tasksync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"todo-api/domain"
	"todo-api/session"
)

// Sync owns the canonical task collection of one session.
type Sync struct {
	store    Store
	sess     session.Session
	table    string
	reporter Reporter

	mu    sync.Mutex
	tasks []domain.Task
}

// Option configures a Sync.
type Option func(*Sync)

// WithTable overrides the remote table name.
func WithTable(table string) Option {
	return func(s *Sync) {
		if table != "" {
			s.table = table
		}
	}
}

// WithReporter sets the receiver of operation notices.
func WithReporter(r Reporter) Option {
	return func(s *Sync) {
		if r != nil {
			s.reporter = r
		}
	}
}

// New creates a Sync for sess. An anonymous session yields a Sync that refuses
// every operation.
func New(store Store, sess session.Session, opts ...Option) *Sync {
	if store == nil {
		panic("tasksync.New: store is nil")
	}
	s := &Sync{store: store, sess: sess, table: DefaultTable, reporter: discard{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session returns the session the collection is scoped to.
func (s *Sync) Session() session.Session { return s.sess }

// AddInput is the payload of an add intent. Empty optional fields are absent
// and never sent to the store.
type AddInput struct {
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Priority string `json:"priority,omitempty"`

	// IsComplete is accepted for clients that send the whole form. New tasks
	// always start incomplete.
	IsComplete *bool `json:"is_complete,omitempty"`
}

// TitleOnly builds the bare-title form of an add.
func TitleOnly(title string) AddInput { return AddInput{Title: title} }

func (in AddInput) record(userID string) (domain.TaskPatch, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.TaskPatch{}, domain.ErrEmptyTitle
	}
	done := false
	rec := domain.TaskPatch{Title: &title, IsComplete: &done, UserID: &userID}
	if cat, err := domain.ParseCategory(in.Category); err != nil {
		return domain.TaskPatch{}, err
	} else if cat != "" {
		rec.Category = &cat
	}
	if prio, err := domain.ParsePriority(in.Priority); err != nil {
		return domain.TaskPatch{}, err
	} else if prio != "" {
		rec.Priority = &prio
	}
	return rec, nil
}

// Load replaces the collection with the user's tasks, newest first. On failure
// the collection is left as it was.
func (s *Sync) Load(ctx context.Context) error {
	ctx, err := s.begin(ctx, OpLoad, "")
	if err != nil {
		return err
	}
	rows, err := s.store.Select(ctx, s.table, []domain.Filter{s.owner()}, domain.NewestFirst)
	if err != nil {
		return s.fail(ctx, OpLoad, "", fmt.Errorf("select tasks: %w", err))
	}
	sorted := make([]domain.Task, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InsertedAt.After(sorted[j].InsertedAt)
	})

	s.mu.Lock()
	s.tasks = sorted
	s.mu.Unlock()

	s.reporter.Report(ctx, Notice{Op: OpLoad, Level: LevelSuccess, UserID: s.sess.UserID(), Count: len(sorted)})
	return nil
}

// Add inserts a task and prepends the row the store returns.
func (s *Sync) Add(ctx context.Context, in AddInput) (domain.Task, error) {
	ctx, err := s.begin(ctx, OpAdd, "")
	if err != nil {
		return domain.Task{}, err
	}
	rec, err := in.record(s.sess.UserID())
	if err != nil {
		return domain.Task{}, s.fail(ctx, OpAdd, "", err)
	}
	rows, err := s.store.Insert(ctx, s.table, rec)
	if err != nil {
		return domain.Task{}, s.fail(ctx, OpAdd, "", fmt.Errorf("insert task: %w", err))
	}
	if len(rows) == 0 {
		return domain.Task{}, s.fail(ctx, OpAdd, "", fmt.Errorf("insert task: %w", domain.ErrNoRows))
	}
	created := rows[0]

	s.mu.Lock()
	s.tasks = append([]domain.Task{created}, s.tasks...)
	s.mu.Unlock()

	s.succeed(ctx, OpAdd, created)
	return created, nil
}

// Toggle flips is_complete from current. The new value is known, so no
// returned row is required.
func (s *Sync) Toggle(ctx context.Context, id string, current bool) (domain.Task, error) {
	ctx, err := s.begin(ctx, OpToggle, id)
	if err != nil {
		return domain.Task{}, err
	}
	if id == "" {
		return domain.Task{}, s.fail(ctx, OpToggle, id, domain.ErrMissingID)
	}
	next := !current
	if _, err := s.store.Update(ctx, s.table, domain.TaskPatch{IsComplete: &next}, s.scope(id)); err != nil {
		return domain.Task{}, s.fail(ctx, OpToggle, id, fmt.Errorf("toggle task %s: %w", id, err))
	}

	s.mu.Lock()
	var toggled domain.Task
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			s.tasks[i].IsComplete = next
			toggled = s.tasks[i]
			break
		}
	}
	s.mu.Unlock()

	if toggled.ID == "" {
		toggled = domain.Task{ID: id, IsComplete: next, UserID: s.sess.UserID()}
	}
	s.succeed(ctx, OpToggle, toggled)
	return toggled, nil
}

// Update writes the editable fields of task and replaces the local entry with
// the row the store returns. A blank title is left out of the write so the
// stored title is kept.
func (s *Sync) Update(ctx context.Context, task domain.Task) (domain.Task, error) {
	ctx, err := s.begin(ctx, OpUpdate, task.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if task.ID == "" {
		return domain.Task{}, s.fail(ctx, OpUpdate, "", domain.ErrMissingID)
	}
	patch, err := editPatch(task)
	if err != nil {
		return domain.Task{}, s.fail(ctx, OpUpdate, task.ID, err)
	}
	rows, err := s.store.Update(ctx, s.table, patch, s.scope(task.ID))
	if err != nil {
		return domain.Task{}, s.fail(ctx, OpUpdate, task.ID, fmt.Errorf("update task %s: %w", task.ID, err))
	}
	if len(rows) == 0 {
		return domain.Task{}, s.fail(ctx, OpUpdate, task.ID, fmt.Errorf("update task %s: %w", task.ID, domain.ErrNoRows))
	}
	stored := rows[0]

	s.mu.Lock()
	for i := range s.tasks {
		if s.tasks[i].ID == stored.ID {
			s.tasks[i] = stored
			break
		}
	}
	s.mu.Unlock()

	s.succeed(ctx, OpUpdate, stored)
	return stored, nil
}

func editPatch(task domain.Task) (domain.TaskPatch, error) {
	done := task.IsComplete
	patch := domain.TaskPatch{IsComplete: &done}
	if title := strings.TrimSpace(task.Title); title != "" {
		patch.Title = &title
	}
	cat, err := domain.ParseCategory(string(task.Category))
	if err != nil {
		return domain.TaskPatch{}, err
	}
	if cat != "" {
		patch.Category = &cat
	}
	prio, err := domain.ParsePriority(string(task.Priority))
	if err != nil {
		return domain.TaskPatch{}, err
	}
	if prio != "" {
		patch.Priority = &prio
	}
	return patch, nil
}

// Remove deletes the task remotely, then drops it from the collection.
func (s *Sync) Remove(ctx context.Context, id string) error {
	ctx, err := s.begin(ctx, OpRemove, id)
	if err != nil {
		return err
	}
	if id == "" {
		return s.fail(ctx, OpRemove, id, domain.ErrMissingID)
	}
	if err := s.store.Delete(ctx, s.table, s.scope(id)); err != nil {
		return s.fail(ctx, OpRemove, id, fmt.Errorf("delete task %s: %w", id, err))
	}

	s.mu.Lock()
	removed := domain.Task{ID: id, UserID: s.sess.UserID()}
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			removed = s.tasks[i]
			s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.succeed(ctx, OpRemove, removed)
	return nil
}

// Tasks returns a copy of the collection in its current order.
func (s *Sync) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Get returns the task with the given id.
func (s *Sync) Get(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

func (s *Sync) owner() domain.Filter {
	return domain.Eq(domain.ColumnUserID, s.sess.UserID())
}

func (s *Sync) scope(id string) []domain.Filter {
	return []domain.Filter{domain.Eq(domain.ColumnID, id), s.owner()}
}

// begin refuses anonymous sessions and attaches the session to ctx so the
// store can forward the caller's credentials. A session already on ctx for
// the same user is kept, since it carries the most recent access token.
func (s *Sync) begin(ctx context.Context, op Op, id string) (context.Context, error) {
	if !s.sess.Authenticated() {
		return ctx, s.fail(ctx, op, id, domain.ErrUnauthenticated)
	}
	if cur := session.FromContext(ctx); cur.Authenticated() && cur.UserID() == s.sess.UserID() {
		return ctx, nil
	}
	return session.WithContext(ctx, s.sess), nil
}

func (s *Sync) fail(ctx context.Context, op Op, id string, err error) error {
	s.reporter.Report(ctx, Notice{
		Op:     op,
		Level:  LevelError,
		UserID: s.sess.UserID(),
		TaskID: id,
		Kind:   domain.Classify(err),
		Err:    err,
	})
	return err
}

func (s *Sync) succeed(ctx context.Context, op Op, t domain.Task) {
	s.reporter.Report(ctx, Notice{
		Op:     op,
		Level:  LevelSuccess,
		UserID: s.sess.UserID(),
		TaskID: t.ID,
		Task:   &t,
	})
}
