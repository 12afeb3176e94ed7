package dynamodriver

import (
	"context"

	rw "github.com/enyo/rincewind-sub000"
)

// resultSet holds the rows of one executed query. Reset runs the query again.
type resultSet struct {
	driver *Driver
	query  *rw.Query
	rows   []map[string]any
}

func (r *resultSet) NumRows() int { return len(r.rows) }

func (r *resultSet) FetchRow(_ context.Context, i int) (map[string]any, error) {
	if i < 0 || i >= len(r.rows) {
		return nil, nil
	}
	return r.rows[i], nil
}

func (r *resultSet) Reset(ctx context.Context) error {
	rows, err := r.driver.selectRows(ctx, r.query)
	if err != nil {
		return err
	}
	r.rows = rows
	return nil
}
