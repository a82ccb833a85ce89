package domain

import (
	"strconv"
	"time"
)

// Task represents a single to-do row owned by a user.
type Task struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Category   Category  `json:"category,omitempty"`
	Priority   Priority  `json:"priority,omitempty"`
	IsComplete bool      `json:"is_complete"`
	InsertedAt time.Time `json:"inserted_at"`
	UserID     string    `json:"user_id,omitempty"`
}

// Value returns the column rendered the way equality filters compare it.
func (t Task) Value(c Column) string {
	switch c {
	case ColumnID:
		return t.ID
	case ColumnTitle:
		return t.Title
	case ColumnCategory:
		return string(t.Category)
	case ColumnPriority:
		return string(t.Priority)
	case ColumnIsComplete:
		return strconv.FormatBool(t.IsComplete)
	case ColumnInsertedAt:
		if t.InsertedAt.IsZero() {
			return ""
		}
		return t.InsertedAt.UTC().Format(time.RFC3339Nano)
	case ColumnUserID:
		return t.UserID
	}
	return ""
}

// Matches reports whether every filter holds for the task.
func (t Task) Matches(filters []Filter) bool {
	for _, f := range filters {
		if t.Value(f.Column) != f.Value {
			return false
		}
	}
	return true
}

// Apply returns a copy of t with every present patch field written over it.
func (t Task) Apply(p TaskPatch) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.IsComplete != nil {
		t.IsComplete = *p.IsComplete
	}
	if p.UserID != nil {
		t.UserID = *p.UserID
	}
	return t
}
