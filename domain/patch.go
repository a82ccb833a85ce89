package domain

// Column names a task column in the remote store.
type Column string

const (
	ColumnID         Column = "id"
	ColumnTitle      Column = "title"
	ColumnCategory   Column = "category"
	ColumnPriority   Column = "priority"
	ColumnIsComplete Column = "is_complete"
	ColumnInsertedAt Column = "inserted_at"
	ColumnUserID     Column = "user_id"
)

// Columns lists every task column in select order.
var Columns = []Column{ColumnID, ColumnTitle, ColumnCategory, ColumnPriority, ColumnIsComplete, ColumnInsertedAt, ColumnUserID}

// Valid reports whether c is one of the known task columns.
func (c Column) Valid() bool {
	for _, known := range Columns {
		if c == known {
			return true
		}
	}
	return false
}

// Filter is an equality predicate on a single column.
type Filter struct {
	Column Column
	Value  string
}

// Eq builds an equality filter.
func Eq(c Column, v string) Filter { return Filter{Column: c, Value: v} }

// FilterValue returns the value the filters require for c.
func FilterValue(filters []Filter, c Column) (string, bool) {
	for _, f := range filters {
		if f.Column == c {
			return f.Value, true
		}
	}
	return "", false
}

// Order describes the sort applied by a select.
type Order struct {
	Column     Column
	Descending bool
}

// NewestFirst is the only ordering the dashboard uses.
var NewestFirst = Order{Column: ColumnInsertedAt, Descending: true}

// TaskPatch carries the explicitly present fields of an insert or update.
// A nil field is absent and must never be transmitted.
type TaskPatch struct {
	Title      *string   `json:"title,omitempty"`
	Category   *Category `json:"category,omitempty"`
	Priority   *Priority `json:"priority,omitempty"`
	IsComplete *bool     `json:"is_complete,omitempty"`
	UserID     *string   `json:"user_id,omitempty"`
}

// Field is a present column and its value.
type Field struct {
	Column Column
	Value  any
}

// Fields returns the present columns in a fixed order.
func (p TaskPatch) Fields() []Field {
	fields := make([]Field, 0, 5)
	if p.Title != nil {
		fields = append(fields, Field{Column: ColumnTitle, Value: *p.Title})
	}
	if p.Category != nil {
		fields = append(fields, Field{Column: ColumnCategory, Value: string(*p.Category)})
	}
	if p.Priority != nil {
		fields = append(fields, Field{Column: ColumnPriority, Value: string(*p.Priority)})
	}
	if p.IsComplete != nil {
		fields = append(fields, Field{Column: ColumnIsComplete, Value: *p.IsComplete})
	}
	if p.UserID != nil {
		fields = append(fields, Field{Column: ColumnUserID, Value: *p.UserID})
	}
	return fields
}

// Empty reports whether no field is present.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Category == nil && p.Priority == nil && p.IsComplete == nil && p.UserID == nil
}
