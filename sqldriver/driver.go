package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	rw "github.com/enyo/rincewind-sub000"
)

// Driver implements rincewind.Driver, Transactor and Counter over a
// database/sql pool.
type Driver struct {
	db      *sql.DB
	dialect Dialect
	builder *Builder
	log     rw.Logger

	mu sync.Mutex
	tx *sql.Tx
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to a database. dialect is "sqlite" or "postgres".
func Open(ctx context.Context, dialect, dsn string, logger rw.Logger) (*Driver, error) {
	dl, ok := DialectByName(dialect)
	if !ok {
		return nil, rw.NewError(fmt.Sprintf(`Unknown SQL dialect "%s"`, dialect), rw.WithCode(rw.ErrArgument))
	}
	db, err := sql.Open(dl.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dl == SQLite && strings.Contains(dsn, ":memory:") {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db, dl, logger), nil
}

// New wraps an open pool.
func New(db *sql.DB, dialect Dialect, logger rw.Logger) *Driver {
	if logger == nil {
		logger = rw.NopLogger{}
	}
	return &Driver{db: db, dialect: dialect, builder: NewBuilder(dialect), log: logger}
}

// DB returns the underlying pool.
func (d *Driver) DB() *sql.DB { return d.db }

// Builder returns the statement builder.
func (d *Driver) Builder() *Builder { return d.builder }

// Close closes the pool, rolling back an open transaction.
func (d *Driver) Close() error {
	d.mu.Lock()
	tx := d.tx
	d.tx = nil
	d.mu.Unlock()
	if tx != nil {
		_ = tx.Rollback()
	}
	return d.db.Close()
}

func (d *Driver) conn() querier {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return d.tx
	}
	return d.db
}

// Exec runs a statement outside the query model, e.g. schema setup.
func (d *Driver) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	d.log.Debug("SQL exec", map[string]any{"sql": stmt})
	res, err := d.conn().ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify("exec", "", stmt, err)
	}
	return res, nil
}

// ─── Dates ──────────────────────────────────────────────────────────────────

// ParseDate reads what the database returns for date columns: time.Time from
// typed columns, text otherwise.
func (d *Driver) ParseDate(raw any, withTime bool) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return d.ParseDate(string(v), withTime)
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range []string{rw.DateWithTimeLayout, rw.DateLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparsable date %q", s)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported date value %T", raw)
}

// FormatDate writes "2006-01-02" or "2006-01-02 15:04:05".
func (d *Driver) FormatDate(t time.Time, withTime bool) any {
	if withTime {
		return t.Format(rw.DateWithTimeLayout)
	}
	return t.Format(rw.DateLayout)
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Select runs the query and buffers its rows.
func (d *Driver) Select(ctx context.Context, q *rw.Query) (rw.ResultSet, error) {
	stmt, err := d.builder.SelectSQL(q)
	if err != nil {
		return nil, rw.NewError("Cannot render query", rw.WithCode(rw.ErrArgument), rw.WithCause(err),
			rw.WithContext(map[string]any{"resource": q.Resource}))
	}
	rs := &resultSet{driver: d, resource: q.Resource, stmt: stmt}
	if err := rs.Reset(ctx); err != nil {
		return nil, err
	}
	return rs, nil
}

func (d *Driver) query(ctx context.Context, resource, stmt string) ([]map[string]any, error) {
	d.log.Debug("SQL query", map[string]any{"sql": stmt})
	rows, err := d.conn().QueryContext(ctx, stmt)
	if err != nil {
		return nil, classify("select", resource, stmt, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify("select", resource, stmt, err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify("select", resource, stmt, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("select", resource, stmt, err)
	}
	return out, nil
}

// Count runs SELECT COUNT(*) for the query's conditions.
func (d *Driver) Count(ctx context.Context, q *rw.Query) (int, error) {
	stmt, err := d.builder.CountSQL(q)
	if err != nil {
		return 0, rw.NewError("Cannot render query", rw.WithCode(rw.ErrArgument), rw.WithCause(err))
	}
	d.log.Debug("SQL count", map[string]any{"sql": stmt})
	var n int64
	if err := d.conn().QueryRowContext(ctx, stmt).Scan(&n); err != nil {
		return 0, classify("count", q.Resource, stmt, err)
	}
	return int(n), nil
}

// ─── Writes ─────────────────────────────────────────────────────────────────

// Insert writes one row and returns its id: the explicit id value when one
// was written, otherwise the generated one.
func (d *Driver) Insert(ctx context.Context, resource, idColumn string, values []rw.Value) (any, error) {
	var explicit any
	for _, v := range values {
		if v.Column == idColumn && v.Value != nil {
			explicit = v.Value
		}
	}
	returning := explicit == nil && d.dialect.Returning()
	stmt, err := d.builder.InsertSQL(resource, idColumn, values, returning)
	if err != nil {
		return nil, rw.NewError("Cannot render insert", rw.WithCode(rw.ErrArgument), rw.WithCause(err))
	}
	d.log.Debug("SQL insert", map[string]any{"sql": stmt})

	if returning {
		var id any
		if err := d.conn().QueryRowContext(ctx, stmt).Scan(&id); err != nil {
			return nil, classify("insert", resource, stmt, err)
		}
		return id, nil
	}
	res, err := d.conn().ExecContext(ctx, stmt)
	if err != nil {
		return nil, classify("insert", resource, stmt, err)
	}
	if explicit != nil {
		return explicit, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, nil
	}
	return id, nil
}

// Update writes values to one row. Zero affected rows is a not-found error.
func (d *Driver) Update(ctx context.Context, resource string, key rw.Value, values []rw.Value) error {
	stmt, err := d.builder.UpdateSQL(resource, key, values)
	if err != nil {
		return rw.NewError("Cannot render update", rw.WithCode(rw.ErrArgument), rw.WithCause(err))
	}
	if stmt == "" {
		return nil
	}
	d.log.Debug("SQL update", map[string]any{"sql": stmt})
	res, err := d.conn().ExecContext(ctx, stmt)
	if err != nil {
		return classify("update", resource, stmt, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return rw.NewError(fmt.Sprintf(`No row to update in "%s"`, resource), rw.WithCode(rw.ErrNotFound),
			rw.WithContext(map[string]any{"sql": stmt}))
	}
	return nil
}

// Delete removes one row. Deleting a missing row is not an error.
func (d *Driver) Delete(ctx context.Context, resource string, key rw.Value) error {
	stmt, err := d.builder.DeleteSQL(resource, key)
	if err != nil {
		return rw.NewError("Cannot render delete", rw.WithCode(rw.ErrArgument), rw.WithCause(err))
	}
	d.log.Debug("SQL delete", map[string]any{"sql": stmt})
	if _, err := d.conn().ExecContext(ctx, stmt); err != nil {
		return classify("delete", resource, stmt, err)
	}
	return nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

// Begin opens a transaction that every following statement joins.
func (d *Driver) Begin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return rw.NewError("SQL transactions cannot be nested", rw.WithCode(rw.ErrNotSupported))
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", "", "BEGIN", err)
	}
	d.tx = tx
	return nil
}

// Commit commits the open transaction.
func (d *Driver) Commit(context.Context) error {
	tx, err := d.takeTx("commit")
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", "", "COMMIT", err)
	}
	return nil
}

// Rollback discards the open transaction.
func (d *Driver) Rollback(context.Context) error {
	tx, err := d.takeTx("roll back")
	if err != nil {
		return err
	}
	if err := tx.Rollback(); err != nil {
		return classify("rollback", "", "ROLLBACK", err)
	}
	return nil
}

func (d *Driver) takeTx(verb string) (*sql.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx == nil {
		return nil, rw.NewError("No transaction to "+verb, rw.WithCode(rw.ErrArgument))
	}
	tx := d.tx
	d.tx = nil
	return tx, nil
}

// classify wraps a database error with the failing statement. Constraint
// violations are integrity errors.
func classify(op, resource, stmt string, err error) error {
	ctx := map[string]any{"op": op, "sql": stmt}
	if resource != "" {
		ctx["resource"] = resource
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "FOREIGN KEY constraint failed"),
		strings.Contains(msg, "NOT NULL constraint failed"),
		strings.Contains(msg, "SQLSTATE 23"):
		return rw.NewError("Constraint violation", rw.WithCode(rw.ErrIntegrity), rw.WithCause(err), rw.WithContext(ctx))
	}
	return rw.NewError(fmt.Sprintf("SQL %s failed", op), rw.WithCode(rw.ErrBackend), rw.WithCause(err), rw.WithContext(ctx))
}
