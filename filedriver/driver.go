package filedriver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	rw "github.com/enyo/rincewind-sub000"
	"github.com/enyo/rincewind-sub000/internal/uid"
)

// Options configures a Driver.
type Options struct {
	// IDColumn is the column used for the View fast path, default "id".
	IDColumn string
	Logger   rw.Logger
	// NewID is handed to the DirSource built by Open. Nil keeps integer
	// auto-increment.
	NewID uid.Generator
}

// Driver implements rincewind.Driver and Counter over a Source. File sources
// have no transactions.
type Driver struct {
	src  Source
	opts Options
	log  rw.Logger
}

// New wraps a Source.
func New(src Source, opts Options) (*Driver, error) {
	if src == nil {
		return nil, rw.NewError("File driver needs a source", rw.WithCode(rw.ErrArgument))
	}
	if opts.IDColumn == "" {
		opts.IDColumn = "id"
	}
	log := opts.Logger
	if log == nil {
		log = rw.NopLogger{}
	}
	return &Driver{src: src, opts: opts, log: log}, nil
}

// Open is New over a DirSource in dir with the named codec ("json", "yaml").
func Open(dir, format string, opts Options) (*Driver, error) {
	codec, ok := CodecByName(format)
	if !ok {
		return nil, rw.NewError(fmt.Sprintf(`Unknown file format "%s"`, format), rw.WithCode(rw.ErrArgument))
	}
	src, err := NewDirSource(dir, codec)
	if err != nil {
		return nil, err
	}
	src.NewID = opts.NewID
	return New(src, opts)
}

// Source returns the wrapped source.
func (d *Driver) Source() Source { return d.src }

// ─── Dates ──────────────────────────────────────────────────────────────────

// ParseDate treats the raw value as a Unix timestamp.
func (d *Driver) ParseDate(raw any, _ bool) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case float64:
		return time.Unix(int64(v), 0).UTC(), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("unparsable timestamp %q", v)
		}
		return time.Unix(n, 0).UTC(), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("unparsable timestamp %q", v)
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported date value %T", raw)
}

// FormatDate writes a Unix timestamp; dates without time are truncated to
// midnight UTC.
func (d *Driver) FormatDate(t time.Time, withTime bool) any {
	if !withTime {
		y, m, day := t.Date()
		t = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	}
	return t.Unix()
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Select reads rows. A single equality condition on the id column uses View.
func (d *Driver) Select(ctx context.Context, q *rw.Query) (rw.ResultSet, error) {
	rs := &resultSet{driver: d, query: q}
	if err := rs.Reset(ctx); err != nil {
		return nil, err
	}
	return rs, nil
}

func (d *Driver) rows(ctx context.Context, q *rw.Query) ([]map[string]any, error) {
	if d.isIDLookup(q) {
		d.log.Debug(fmt.Sprintf(`File view "%s"`, q.Resource), map[string]any{"id": q.Conditions[0].Value})
		row, err := d.src.View(ctx, q.Resource, q.Conditions)
		if err != nil {
			return nil, d.wrap("view", q.Resource, err)
		}
		if row == nil {
			return nil, nil
		}
		return []map[string]any{row}, nil
	}
	d.log.Debug(fmt.Sprintf(`File list "%s"`, q.Resource), map[string]any{"conditions": len(q.Conditions)})
	rows, err := d.src.ViewList(ctx, q.Resource, q.Conditions, q.Sort, q.Offset, q.Limit)
	if err != nil {
		return nil, d.wrap("viewList", q.Resource, err)
	}
	return rows, nil
}

func (d *Driver) isIDLookup(q *rw.Query) bool {
	return len(q.Conditions) == 1 && q.Offset == 0 &&
		q.Conditions[0].Column == d.opts.IDColumn && q.Conditions[0].Operator == rw.OpEq
}

// Count uses TotalCount without conditions and counts listed rows otherwise.
func (d *Driver) Count(ctx context.Context, q *rw.Query) (int, error) {
	if len(q.Conditions) == 0 {
		n, err := d.src.TotalCount(ctx, q.Resource)
		if err != nil {
			return 0, d.wrap("totalCount", q.Resource, err)
		}
		return n, nil
	}
	rows, err := d.src.ViewList(ctx, q.Resource, q.Conditions, nil, 0, 0)
	if err != nil {
		return 0, d.wrap("viewList", q.Resource, err)
	}
	return len(rows), nil
}

// ─── Writes ─────────────────────────────────────────────────────────────────

// Insert stores a row; null values are not written.
func (d *Driver) Insert(ctx context.Context, resource, idColumn string, values []rw.Value) (any, error) {
	row := make(map[string]any, len(values))
	for _, v := range values {
		if v.Value != nil {
			row[v.Column] = v.Value
		}
	}
	d.log.Debug(fmt.Sprintf(`File insert "%s"`, resource), nil)
	id, err := d.src.Insert(ctx, resource, idColumn, row)
	if err != nil {
		return nil, d.wrap("insert", resource, err)
	}
	return id, nil
}

func (d *Driver) Update(ctx context.Context, resource string, key rw.Value, values []rw.Value) error {
	set := make(map[string]any, len(values))
	for _, v := range values {
		set[v.Column] = v.Value
	}
	d.log.Debug(fmt.Sprintf(`File update "%s"`, resource), map[string]any{"id": key.Value})
	if err := d.src.Update(ctx, resource, key, set); err != nil {
		return d.wrap("update", resource, err)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, resource string, key rw.Value) error {
	d.log.Debug(fmt.Sprintf(`File delete "%s"`, resource), map[string]any{"id": key.Value})
	if err := d.src.Delete(ctx, resource, key); err != nil {
		return d.wrap("delete", resource, err)
	}
	return nil
}

// wrap keeps classified source errors and tags the rest as backend failures.
func (d *Driver) wrap(op, resource string, err error) error {
	if _, ok := err.(*rw.Error); ok {
		return err
	}
	return rw.NewError(fmt.Sprintf(`File source %s on "%s" failed`, op, resource),
		rw.WithCode(rw.ErrBackend), rw.WithCause(err),
		rw.WithContext(map[string]any{"op": op, "resource": resource}))
}

// ─── Result set ─────────────────────────────────────────────────────────────

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
	rows, err := r.driver.rows(ctx, r.query)
	if err != nil {
		return err
	}
	r.rows = rows
	return nil
}
