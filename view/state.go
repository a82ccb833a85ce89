package view

import (
	"strings"
	"sync"

	"todo-api/domain"
)

// State holds the per-session view slots. At most one task is being edited and
// at most one row menu is open; opening another replaces the previous one.
type State struct {
	mu      sync.Mutex
	filter  Filter
	editing string
	menu    string
}

// NewState returns an empty State showing every task.
func NewState() *State {
	return &State{filter: Filter{Status: StatusAll}}
}

// Snapshot is a consistent copy of the slots.
type Snapshot struct {
	Filter  Filter `json:"filter"`
	Editing string `json:"editing,omitempty"`
	Menu    string `json:"menu,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Filter: s.filter, Editing: s.editing, Menu: s.menu}
}

func (s *State) SetFilter(f Filter) {
	if f.Status == "" {
		f.Status = StatusAll
	}
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

// OpenEdit makes id the edit target, closing any other edit.
func (s *State) OpenEdit(id string) {
	s.mu.Lock()
	s.editing = id
	s.menu = ""
	s.mu.Unlock()
}

func (s *State) CloseEdit() {
	s.mu.Lock()
	s.editing = ""
	s.mu.Unlock()
}

// Editing returns the current edit target.
func (s *State) Editing() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing, s.editing != ""
}

// ToggleMenu opens the row menu for id, or closes it when it is already open.
// It reports whether the menu for id is open afterwards.
func (s *State) ToggleMenu(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.menu == id {
		s.menu = ""
		return false
	}
	s.menu = id
	return true
}

func (s *State) CloseMenu() {
	s.mu.Lock()
	s.menu = ""
	s.mu.Unlock()
}

// Prune clears slots pointing at tasks that are no longer in the collection.
func (s *State) Prune(tasks []domain.Task) {
	present := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		present[t.ID] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := present[s.editing]; !ok {
		s.editing = ""
	}
	if _, ok := present[s.menu]; !ok {
		s.menu = ""
	}
}

// Draft is the edit form prefilled from a task.
type Draft struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Category   domain.Category `json:"category"`
	Priority   domain.Priority `json:"priority"`
	IsComplete bool            `json:"is_complete"`
}

// NewDraft fills the form from t, using the form defaults for fields the task
// does not carry.
func NewDraft(t domain.Task) Draft {
	d := Draft{ID: t.ID, Title: t.Title, Category: t.Category, Priority: t.Priority, IsComplete: t.IsComplete}
	if d.Category == "" {
		d.Category = domain.DefaultCategory
	}
	if p, err := domain.ParsePriority(string(d.Priority)); err == nil && p != "" {
		d.Priority = p
	} else {
		d.Priority = domain.DefaultPriority
	}
	return d
}

// CanSave reports whether the form may be submitted.
func (d Draft) CanSave() bool { return strings.TrimSpace(d.Title) != "" }

// Task converts the draft into the task handed to the synchronizer.
func (d Draft) Task() domain.Task {
	return domain.Task{
		ID:         d.ID,
		Title:      strings.TrimSpace(d.Title),
		Category:   d.Category,
		Priority:   d.Priority,
		IsComplete: d.IsComplete,
	}
}
