package tasksync

import (
	"context"
	"fmt"

	"todo-api/domain"
)

// Op names a synchronization operation.
type Op string

const (
	OpLoad   Op = "load"
	OpAdd    Op = "add"
	OpToggle Op = "toggle"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
)

// Level is the severity of a notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Notice describes the outcome of one operation. Failures are reported exactly
// once per operation.
type Notice struct {
	Op     Op
	Level  Level
	UserID string
	TaskID string

	// Task is the row as confirmed by the store, set on successful mutations.
	Task *domain.Task

	// Count is the number of rows loaded, set on a successful load.
	Count int

	Kind domain.Kind
	Err  error
}

// Title renders the notice as a short user-facing message.
func (n Notice) Title() string {
	if n.Level == LevelError {
		switch n.Kind {
		case domain.KindPrecondition:
			return fmt.Sprintf("Could not %s task: %v", n.Op, n.Err)
		case domain.KindEmptyResult:
			return fmt.Sprintf("Could not %s task: it no longer exists", n.Op)
		case domain.KindUnauthenticated:
			return "Please sign in again"
		}
		if n.Op == OpLoad {
			return "Could not load tasks"
		}
		return fmt.Sprintf("Could not %s task", n.Op)
	}
	switch n.Op {
	case OpLoad:
		return fmt.Sprintf("Loaded %d tasks", n.Count)
	case OpAdd:
		return "Task added"
	case OpToggle:
		if n.Task != nil && n.Task.IsComplete {
			return "Task completed"
		}
		return "Task reopened"
	case OpUpdate:
		return "Task updated"
	case OpRemove:
		return "Task deleted"
	}
	return string(n.Op)
}

// Reporter receives operation notices.
type Reporter interface {
	Report(ctx context.Context, n Notice)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, n Notice)

func (f ReporterFunc) Report(ctx context.Context, n Notice) { f(ctx, n) }

type discard struct{}

func (discard) Report(context.Context, Notice) {}
