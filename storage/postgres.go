package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"todo-api/domain"
)

const taskColumns = "id, title, category, priority, is_complete, inserted_at, user_id"

// Postgres is a PostgreSQL-backed task store for self-hosted deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store over pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureTable creates the task table and its owner index if they don't exist.
func (s *Postgres) EnsureTable(ctx context.Context, table string) error {
	ident, err := tableIdent(table)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+ident+` (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			category    TEXT DEFAULT 'Documentation'
				CHECK (category IN ('Bug', 'Feature', 'Documentation', 'Other')),
			priority    TEXT CHECK (priority IN ('low', 'medium', 'high')),
			is_complete BOOLEAN NOT NULL DEFAULT FALSE,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			user_id     TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	index := pgx.Identifier{"idx_" + strings.ReplaceAll(table, ".", "_") + "_user_inserted"}.Sanitize()
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS `+index+` ON `+ident+`(user_id, inserted_at DESC)`)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (s *Postgres) Select(ctx context.Context, table string, filters []domain.Filter, order domain.Order) ([]domain.Task, error) {
	sql, args, err := selectSQL(table, filters, order)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, sql, args...)
}

// Insert stores record with a fresh time-ordered id.
func (s *Postgres) Insert(ctx context.Context, table string, record domain.TaskPatch) ([]domain.Task, error) {
	sql, args, err := insertSQL(table, uuid.Must(uuid.NewV7()).String(), record)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return rows, nil
}

func (s *Postgres) Update(ctx context.Context, table string, patch domain.TaskPatch, filters []domain.Filter) ([]domain.Task, error) {
	sql, args, err := updateSQL(table, patch, filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return rows, nil
}

func (s *Postgres) Delete(ctx context.Context, table string, filters []domain.Filter) error {
	sql, args, err := deleteSQL(table, filters)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *Postgres) query(ctx context.Context, sql string, args ...any) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		var t domain.Task
		var category, priority *string
		if err := rows.Scan(&t.ID, &t.Title, &category, &priority, &t.IsComplete, &t.InsertedAt, &t.UserID); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if category != nil {
			t.Category = domain.Category(*category)
		}
		if priority != nil {
			t.Priority = domain.Priority(*priority)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// tableIdent quotes a table name, optionally schema qualified.
func tableIdent(table string) (string, error) {
	if table == "" {
		return "", errors.New("table name is empty")
	}
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid table name %q", table)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

// whereClause renders filters as positional predicates starting at $next.
func whereClause(filters []domain.Filter, next int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	preds := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for _, f := range filters {
		if !f.Column.Valid() {
			return "", nil, fmt.Errorf("unknown filter column %q", f.Column)
		}
		arg, err := filterArg(f)
		if err != nil {
			return "", nil, err
		}
		preds = append(preds, string(f.Column)+" = $"+strconv.Itoa(next))
		args = append(args, arg)
		next++
	}
	return " WHERE " + strings.Join(preds, " AND "), args, nil
}

func filterArg(f domain.Filter) (any, error) {
	switch f.Column {
	case domain.ColumnIsComplete:
		b, err := strconv.ParseBool(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Column, err)
		}
		return b, nil
	case domain.ColumnInsertedAt:
		at, err := time.Parse(time.RFC3339Nano, f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Column, err)
		}
		return at, nil
	}
	return f.Value, nil
}

func selectSQL(table string, filters []domain.Filter, order domain.Order) (string, []any, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return "", nil, err
	}
	where, args, err := whereClause(filters, 1)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT " + taskColumns + " FROM " + ident + where
	if order.Column != "" {
		if !order.Column.Valid() {
			return "", nil, fmt.Errorf("unknown order column %q", order.Column)
		}
		sql += " ORDER BY " + string(order.Column)
		if order.Descending {
			sql += " DESC"
		}
	}
	return sql, args, nil
}

func insertSQL(table, id string, record domain.TaskPatch) (string, []any, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return "", nil, err
	}
	cols := []string{string(domain.ColumnID)}
	marks := []string{"$1"}
	args := []any{id}
	for _, f := range record.Fields() {
		args = append(args, f.Value)
		cols = append(cols, string(f.Column))
		marks = append(marks, "$"+strconv.Itoa(len(args)))
	}
	sql := "INSERT INTO " + ident + " (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.Join(marks, ", ") + ") RETURNING " + taskColumns
	return sql, args, nil
}

func updateSQL(table string, patch domain.TaskPatch, filters []domain.Filter) (string, []any, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return "", nil, err
	}
	fields := patch.Fields()
	if len(fields) == 0 {
		return "", nil, errors.New("update patch is empty")
	}
	if len(filters) == 0 {
		return "", nil, errors.New("update requires at least one filter")
	}
	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+len(filters))
	for _, f := range fields {
		args = append(args, f.Value)
		sets = append(sets, string(f.Column)+" = $"+strconv.Itoa(len(args)))
	}
	where, whereArgs, err := whereClause(filters, len(args)+1)
	if err != nil {
		return "", nil, err
	}
	args = append(args, whereArgs...)
	sql := "UPDATE " + ident + " SET " + strings.Join(sets, ", ") + where + " RETURNING " + taskColumns
	return sql, args, nil
}

func deleteSQL(table string, filters []domain.Filter) (string, []any, error) {
	ident, err := tableIdent(table)
	if err != nil {
		return "", nil, err
	}
	if len(filters) == 0 {
		return "", nil, errors.New("delete requires at least one filter")
	}
	where, args, err := whereClause(filters, 1)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM " + ident + where, args, nil
}
