package tasksync

import (
	"context"

	"todo-api/domain"
)

// DefaultTable is the remote table holding task rows.
const DefaultTable = "todos"

// Store is the row-level contract of the remote data service. Insert and
// Update must return the affected rows as persisted, including server-assigned
// id and inserted_at.
type Store interface {
	Select(ctx context.Context, table string, filters []domain.Filter, order domain.Order) ([]domain.Task, error)
	Insert(ctx context.Context, table string, record domain.TaskPatch) ([]domain.Task, error)
	Update(ctx context.Context, table string, patch domain.TaskPatch, filters []domain.Filter) ([]domain.Task, error)
	Delete(ctx context.Context, table string, filters []domain.Filter) error
}
