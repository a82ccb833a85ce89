package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"todo-api/domain"
)

const (
	edmBoolean  = "Edm.Boolean"
	edmDateTime = "Edm.DateTime"
)

// ErrUnscoped is returned when a table write is not addressed to a single
// owner and id.
var ErrUnscoped = errors.New("table writes require id and user_id filters")

// entityTable is the subset of table operations the adapter relies on.
type entityTable interface {
	list(ctx context.Context, filter string) ([][]byte, error)
	add(ctx context.Context, entity []byte) error
	merge(ctx context.Context, entity []byte) error
	// get returns nil without error when the entity does not exist.
	get(ctx context.Context, partitionKey, rowKey string) ([]byte, error)
	remove(ctx context.Context, partitionKey, rowKey string) error
}

// Tables stores tasks in Azure Table Storage, partitioned by owner with the
// task id as row key.
type Tables struct {
	open  func(table string) entityTable
	now   func() time.Time
	newID func() string
}

// NewTables creates a table-backed store from the given connection string.
func NewTables(connStr string) (*Tables, error) {
	svc, err := newTableService(connStr)
	if err != nil {
		return nil, err
	}
	return newTables(func(table string) entityTable {
		return azureTable{client: svc.NewClient(table)}
	}), nil
}

func newTables(open func(string) entityTable) *Tables {
	return &Tables{
		open:  open,
		now:   time.Now,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

func newTableService(connStr string) (*aztables.ServiceClient, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return aztables.NewServiceClientFromConnectionString(connStr, &opts)
}

type taskEntity struct {
	PartitionKey   string `json:"PartitionKey"`
	RowKey         string `json:"RowKey"`
	Title          string `json:"Title"`
	Category       string `json:"Category,omitempty"`
	Priority       string `json:"Priority,omitempty"`
	IsComplete     bool   `json:"IsComplete"`
	IsCompleteType string `json:"IsComplete@odata.type,omitempty"`
	InsertedAt     string `json:"InsertedAt"`
	InsertedAtType string `json:"InsertedAt@odata.type,omitempty"`
}

// taskMerge carries only the present properties of a patch.
type taskMerge struct {
	PartitionKey   string  `json:"PartitionKey"`
	RowKey         string  `json:"RowKey"`
	Title          *string `json:"Title,omitempty"`
	Category       *string `json:"Category,omitempty"`
	Priority       *string `json:"Priority,omitempty"`
	IsComplete     *bool   `json:"IsComplete,omitempty"`
	IsCompleteType string  `json:"IsComplete@odata.type,omitempty"`
}

func (e taskEntity) task() (domain.Task, error) {
	t := domain.Task{
		ID:         e.RowKey,
		UserID:     e.PartitionKey,
		Title:      e.Title,
		Category:   domain.Category(e.Category),
		Priority:   domain.Priority(e.Priority),
		IsComplete: e.IsComplete,
	}
	if e.InsertedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, e.InsertedAt)
		if err != nil {
			return domain.Task{}, fmt.Errorf("entity %s: inserted at: %w", e.RowKey, err)
		}
		t.InsertedAt = at.UTC()
	}
	return t, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.task()
}

var entityProperty = map[domain.Column]string{
	domain.ColumnID:         "RowKey",
	domain.ColumnUserID:     "PartitionKey",
	domain.ColumnTitle:      "Title",
	domain.ColumnCategory:   "Category",
	domain.ColumnPriority:   "Priority",
	domain.ColumnIsComplete: "IsComplete",
	domain.ColumnInsertedAt: "InsertedAt",
}

// odataFilter renders equality filters as an OData expression.
func odataFilter(filters []domain.Filter) (string, error) {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		prop, ok := entityProperty[f.Column]
		if !ok {
			return "", fmt.Errorf("unknown filter column %q", f.Column)
		}
		switch f.Column {
		case domain.ColumnIsComplete:
			if f.Value != "true" && f.Value != "false" {
				return "", fmt.Errorf("filter %s: %q is not a boolean", f.Column, f.Value)
			}
			parts = append(parts, prop+" eq "+f.Value)
		case domain.ColumnInsertedAt:
			at, err := time.Parse(time.RFC3339Nano, f.Value)
			if err != nil {
				return "", fmt.Errorf("filter %s: %w", f.Column, err)
			}
			parts = append(parts, prop+" eq datetime'"+at.UTC().Format(time.RFC3339Nano)+"'")
		default:
			parts = append(parts, prop+" eq '"+strings.ReplaceAll(f.Value, "'", "''")+"'")
		}
	}
	return strings.Join(parts, " and "), nil
}

func entityKeys(filters []domain.Filter) (partitionKey, rowKey string, err error) {
	for _, f := range filters {
		switch f.Column {
		case domain.ColumnUserID:
			partitionKey = f.Value
		case domain.ColumnID:
			rowKey = f.Value
		default:
			return "", "", fmt.Errorf("%w: unsupported column %q", ErrUnscoped, f.Column)
		}
	}
	if partitionKey == "" || rowKey == "" {
		return "", "", ErrUnscoped
	}
	return partitionKey, rowKey, nil
}

// Select lists matching entities. The OData filter narrows the scan and rows
// are re-checked with exact equality before sorting in memory.
func (s *Tables) Select(ctx context.Context, table string, filters []domain.Filter, order domain.Order) ([]domain.Task, error) {
	filter, err := odataFilter(filters)
	if err != nil {
		return nil, err
	}
	raw, err := s.open(table).list(ctx, filter)
	if err != nil {
		return nil, err
	}
	tasks := []domain.Task{}
	for _, data := range raw {
		t, err := decodeTaskEntity(data)
		if err != nil {
			return nil, err
		}
		if t.Matches(filters) {
			tasks = append(tasks, t)
		}
	}
	sortTasks(tasks, order)
	return tasks, nil
}

func sortTasks(tasks []domain.Task, order domain.Order) {
	if order.Column == "" {
		return
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if order.Descending {
			a, b = b, a
		}
		if order.Column == domain.ColumnInsertedAt {
			return a.InsertedAt.Before(b.InsertedAt)
		}
		return a.Value(order.Column) < b.Value(order.Column)
	})
}

// Insert creates an entity. The store assigns the id, the insertion time and
// the default category.
func (s *Tables) Insert(ctx context.Context, table string, record domain.TaskPatch) ([]domain.Task, error) {
	if record.UserID == nil || *record.UserID == "" {
		return nil, errors.New("insert requires user_id")
	}
	row := domain.Task{
		ID:         s.newID(),
		Category:   domain.DefaultCategory,
		InsertedAt: s.now().UTC(),
	}.Apply(record)

	ent := taskEntity{
		PartitionKey:   row.UserID,
		RowKey:         row.ID,
		Title:          row.Title,
		Category:       string(row.Category),
		Priority:       string(row.Priority),
		IsComplete:     row.IsComplete,
		IsCompleteType: edmBoolean,
		InsertedAt:     row.InsertedAt.Format(time.RFC3339Nano),
		InsertedAtType: edmDateTime,
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return nil, err
	}
	if err := s.open(table).add(ctx, data); err != nil {
		return nil, err
	}
	return []domain.Task{row}, nil
}

// Update merges patch into the single entity addressed by filters and returns
// it as stored. A missing entity yields no rows.
func (s *Tables) Update(ctx context.Context, table string, patch domain.TaskPatch, filters []domain.Filter) ([]domain.Task, error) {
	pk, rk, err := entityKeys(filters)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return nil, errors.New("update patch is empty")
	}
	if patch.UserID != nil && *patch.UserID != pk {
		return nil, errors.New("user_id is the partition key and cannot change")
	}
	upd := taskMerge{PartitionKey: pk, RowKey: rk, Title: patch.Title, IsComplete: patch.IsComplete}
	if patch.Category != nil {
		c := string(*patch.Category)
		upd.Category = &c
	}
	if patch.Priority != nil {
		p := string(*patch.Priority)
		upd.Priority = &p
	}
	if patch.IsComplete != nil {
		upd.IsCompleteType = edmBoolean
	}
	data, err := json.Marshal(upd)
	if err != nil {
		return nil, err
	}
	client := s.open(table)
	if err := client.merge(ctx, data); err != nil {
		if isNotFound(err) {
			return []domain.Task{}, nil
		}
		return nil, err
	}
	stored, err := client.get(ctx, pk, rk)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return []domain.Task{}, nil
	}
	t, err := decodeTaskEntity(stored)
	if err != nil {
		return nil, err
	}
	return []domain.Task{t}, nil
}

// Delete removes the entity addressed by filters. Deleting a missing entity
// succeeds.
func (s *Tables) Delete(ctx context.Context, table string, filters []domain.Filter) error {
	pk, rk, err := entityKeys(filters)
	if err != nil {
		return err
	}
	if err := s.open(table).remove(ctx, pk, rk); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

type azureTable struct {
	client *aztables.Client
}

func (a azureTable) list(ctx context.Context, filter string) ([][]byte, error) {
	opts := &aztables.ListEntitiesOptions{}
	if filter != "" {
		opts.Filter = &filter
	}
	pager := a.client.NewListEntitiesPager(opts)
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

func (a azureTable) add(ctx context.Context, entity []byte) error {
	_, err := a.client.AddEntity(ctx, entity, nil)
	return err
}

func (a azureTable) merge(ctx context.Context, entity []byte) error {
	et := azcore.ETagAny
	_, err := a.client.UpdateEntity(ctx, entity, &aztables.UpdateEntityOptions{
		IfMatch:    &et,
		UpdateMode: aztables.UpdateModeMerge,
	})
	return err
}

func (a azureTable) get(ctx context.Context, partitionKey, rowKey string) ([]byte, error) {
	resp, err := a.client.GetEntity(ctx, partitionKey, rowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Value, nil
}

func (a azureTable) remove(ctx context.Context, partitionKey, rowKey string) error {
	_, err := a.client.DeleteEntity(ctx, partitionKey, rowKey, nil)
	return err
}
