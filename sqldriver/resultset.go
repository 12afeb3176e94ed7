package sqldriver

import "context"

// resultSet buffers the rows of one statement. Reset executes it again.
type resultSet struct {
	driver   *Driver
	resource string
	stmt     string
	rows     []map[string]any
}

func (r *resultSet) NumRows() int { return len(r.rows) }

func (r *resultSet) FetchRow(_ context.Context, i int) (map[string]any, error) {
	if i < 0 || i >= len(r.rows) {
		return nil, nil
	}
	return r.rows[i], nil
}

func (r *resultSet) Reset(ctx context.Context) error {
	rows, err := r.driver.query(ctx, r.resource, r.stmt)
	if err != nil {
		return err
	}
	r.rows = rows
	return nil
}

// SQL returns the executed statement.
func (r *resultSet) SQL() string { return r.stmt }
