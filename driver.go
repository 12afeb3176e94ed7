/*
Package rincewind – backing-resource driver contracts.

One Dao type serves every backing resource; the resource-specific behaviour
lives behind these small capability interfaces.
*/
package rincewind

import "context"

// Driver is the capability set every backing resource provides.
type Driver interface {
	DateCodec

	// Select executes a query. Zero matches is an empty ResultSet, not an error.
	Select(ctx context.Context, q *Query) (ResultSet, error)
	// Insert writes one row and returns the backing-resource id of the new row
	// (the last insert id), or nil when the resource cannot report one.
	Insert(ctx context.Context, resource, idColumn string, values []Value) (any, error)
	// Update writes values to the row identified by key.
	Update(ctx context.Context, resource string, key Value, values []Value) error
	// Delete removes the row identified by key.
	Delete(ctx context.Context, resource string, key Value) error
}

// ResultSet is an executed query. Rows are raw storage-side maps.
type ResultSet interface {
	NumRows() int
	// FetchRow returns row i, or nil when i is out of range.
	FetchRow(ctx context.Context, i int) (map[string]any, error)
	// Reset drops any cursor state; the next fetch sees fresh data.
	Reset(ctx context.Context) error
}

// Transactor is implemented by drivers with connection-scoped transactions.
type Transactor interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Counter is implemented by drivers that can count rows without fetching them.
type Counter interface {
	Count(ctx context.Context, q *Query) (int, error)
}

// RowsResult is a ResultSet over rows already in memory.
type RowsResult struct {
	Rows []map[string]any
}

// NewRowsResult wraps rows in a ResultSet.
func NewRowsResult(rows []map[string]any) *RowsResult { return &RowsResult{Rows: rows} }

func (r *RowsResult) NumRows() int { return len(r.Rows) }

func (r *RowsResult) FetchRow(_ context.Context, i int) (map[string]any, error) {
	if i < 0 || i >= len(r.Rows) {
		return nil, nil
	}
	return r.Rows[i], nil
}

func (r *RowsResult) Reset(context.Context) error { return nil }
