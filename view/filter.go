// Package view derives what the dashboard shows from the task collection. It
// never talks to the remote store.
package view

import (
	"strings"

	"todo-api/domain"
)

// VisibleTasks returns the tasks whose title contains search,
// case-insensitively, in their original order. An empty search returns tasks
// unchanged.
func VisibleTasks(tasks []domain.Task, search string) []domain.Task {
	if search == "" {
		return tasks
	}
	needle := strings.ToLower(search)
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), needle) {
			out = append(out, t)
		}
	}
	return out
}

// Status selects tasks by completion state.
type Status string

const (
	StatusAll        Status = "all"
	StatusDone       Status = "done"
	StatusInProgress Status = "in-progress"
)

// ParseStatus accepts the status query values; anything unknown means all.
func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusDone:
		return StatusDone
	case StatusInProgress, "pending", "open":
		return StatusInProgress
	}
	return StatusAll
}

func (s Status) admits(t domain.Task) bool {
	switch s {
	case StatusDone:
		return t.IsComplete
	case StatusInProgress:
		return !t.IsComplete
	}
	return true
}

// Label is the dashboard wording for a task's completion state.
func Label(t domain.Task) string {
	if t.IsComplete {
		return "Done"
	}
	return "In Progress"
}

// Filter combines the search box with the status control.
type Filter struct {
	Search string `json:"search"`
	Status Status `json:"status"`
}

// Apply narrows tasks by status and then by search text, preserving order.
func (f Filter) Apply(tasks []domain.Task) []domain.Task {
	if f.Status == "" || f.Status == StatusAll {
		return VisibleTasks(tasks, f.Search)
	}
	byStatus := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Status.admits(t) {
			byStatus = append(byStatus, t)
		}
	}
	return VisibleTasks(byStatus, f.Search)
}

// Counts backs the dashboard statistics cards.
type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

func CountTasks(tasks []domain.Task) Counts {
	c := Counts{Total: len(tasks)}
	for _, t := range tasks {
		if t.IsComplete {
			c.Completed++
		}
	}
	c.Pending = c.Total - c.Completed
	return c
}
