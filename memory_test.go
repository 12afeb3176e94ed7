package rincewind_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	rw "github.com/enyo/rincewind-sub000"
	"github.com/enyo/rincewind-sub000/internal/match"
)

// ─── in-memory driver ───────────────────────────────────────────────────────

type call struct {
	op       string
	resource string
	query    *rw.Query
	key      rw.Value
	values   []rw.Value
}

// memDriver keeps resources as row slices and records every call.
type memDriver struct {
	rw.DateCodec

	tables   map[string][]map[string]any
	defaults map[string]map[string]any // filled in on insert, like column defaults
	next     map[string]int64
	calls    []call

	snapshot map[string][]map[string]any
	failWith error
}

func newMemDriver() *memDriver {
	return &memDriver{
		DateCodec: rw.DefaultDates,
		tables:    map[string][]map[string]any{},
		defaults:  map[string]map[string]any{},
		next:      map[string]int64{},
	}
}

func clone(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func (m *memDriver) seed(resource string, rows ...map[string]any) {
	for _, row := range rows {
		m.tables[resource] = append(m.tables[resource], clone(row))
		var id int64
		switch v := row["id"].(type) {
		case int:
			id = int64(v)
		case int64:
			id = v
		}
		if id > m.next[resource] {
			m.next[resource] = id
		}
	}
}

func (m *memDriver) reset() { m.calls = nil }

// count returns how many calls of op reached resource ("" for any).
func (m *memDriver) count(op, resource string) int {
	n := 0
	for _, c := range m.calls {
		if c.op == op && (resource == "" || c.resource == resource) {
			n++
		}
	}
	return n
}

func (m *memDriver) run(q *rw.Query) []map[string]any {
	rows := match.Apply(m.tables[q.Resource], q)
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = clone(row)
	}
	return out
}

func (m *memDriver) Select(_ context.Context, q *rw.Query) (rw.ResultSet, error) {
	m.calls = append(m.calls, call{op: "select", resource: q.Resource, query: q})
	if m.failWith != nil {
		return nil, m.failWith
	}
	return &memResult{drv: m, q: q, rows: m.run(q)}, nil
}

func (m *memDriver) Insert(_ context.Context, resource, idColumn string, values []rw.Value) (any, error) {
	m.calls = append(m.calls, call{op: "insert", resource: resource, values: values})
	if m.failWith != nil {
		return nil, m.failWith
	}
	row := clone(m.defaults[resource])
	for _, v := range values {
		row[v.Column] = v.Value
	}
	if row[idColumn] == nil {
		m.next[resource]++
		row[idColumn] = m.next[resource]
	}
	m.tables[resource] = append(m.tables[resource], row)
	return row[idColumn], nil
}

func (m *memDriver) indexOf(resource string, key rw.Value) int {
	for i, row := range m.tables[resource] {
		if match.Key(row[key.Column]) == match.Key(key.Value) {
			return i
		}
	}
	return -1
}

func (m *memDriver) Update(_ context.Context, resource string, key rw.Value, values []rw.Value) error {
	m.calls = append(m.calls, call{op: "update", resource: resource, key: key, values: values})
	if m.failWith != nil {
		return m.failWith
	}
	i := m.indexOf(resource, key)
	if i < 0 {
		return rw.NewError("no row to update", rw.WithCode(rw.ErrNotFound))
	}
	for _, v := range values {
		m.tables[resource][i][v.Column] = v.Value
	}
	return nil
}

func (m *memDriver) Delete(_ context.Context, resource string, key rw.Value) error {
	m.calls = append(m.calls, call{op: "delete", resource: resource, key: key})
	if m.failWith != nil {
		return m.failWith
	}
	if i := m.indexOf(resource, key); i >= 0 {
		m.tables[resource] = append(m.tables[resource][:i], m.tables[resource][i+1:]...)
	}
	return nil
}

func (m *memDriver) Begin(context.Context) error {
	m.calls = append(m.calls, call{op: "begin"})
	m.snapshot = map[string][]map[string]any{}
	for res, rows := range m.tables {
		for _, row := range rows {
			m.snapshot[res] = append(m.snapshot[res], clone(row))
		}
	}
	return nil
}

func (m *memDriver) Commit(context.Context) error {
	m.calls = append(m.calls, call{op: "commit"})
	m.snapshot = nil
	return nil
}

func (m *memDriver) Rollback(context.Context) error {
	m.calls = append(m.calls, call{op: "rollback"})
	if m.snapshot != nil {
		m.tables = m.snapshot
		m.snapshot = nil
	}
	return nil
}

// memResult re-runs its query on Reset.
type memResult struct {
	drv  *memDriver
	q    *rw.Query
	rows []map[string]any
}

func (r *memResult) NumRows() int { return len(r.rows) }

func (r *memResult) FetchRow(_ context.Context, i int) (map[string]any, error) {
	if i < 0 || i >= len(r.rows) {
		return nil, nil
	}
	return r.rows[i], nil
}

func (r *memResult) Reset(context.Context) error {
	r.drv.calls = append(r.drv.calls, call{op: "reset", resource: r.q.Resource, query: r.q})
	r.rows = r.drv.run(r.q)
	return nil
}

// ─── logging ────────────────────────────────────────────────────────────────

type logEntry struct {
	level, msg string
	ctx        map[string]any
}

type captureLog struct{ entries []logEntry }

func (c *captureLog) logger() rw.Logger {
	return rw.FuncLogger{Fn: func(level, msg string, ctx map[string]any) {
		c.entries = append(c.entries, logEntry{level, msg, ctx})
	}}
}

func (c *captureLog) count(level string) int {
	n := 0
	for _, e := range c.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

// ─── fixture ────────────────────────────────────────────────────────────────

func bg() context.Context { return context.Background() }

func userDefinition() rw.Definition {
	return rw.Definition{
		Name:     "user",
		Resource: "users",
		Attributes: map[string]rw.AttributeType{
			"id":           rw.Int,
			"name":         rw.Text,
			"age":          rw.Int,
			"score":        rw.Float,
			"active":       rw.Bool,
			"status":       rw.Enum("active", "idle", "banned"),
			"joined":       rw.Date,
			"tags":         rw.Sequence,
			"defaultValue": rw.Text,
			"addressId":    rw.Int,
			"address":      rw.Reference,
			"addresses":    rw.Reference,
			"posts":        rw.Reference,
			"groups":       rw.Reference,
			"note":         rw.Ignore,
		},
		AdditionalAttributes:   map[string]rw.AttributeType{"postCount": rw.Int},
		NullAttributes:         []string{"addressId", "joined"},
		DefaultValueAttributes: []string{"id", "defaultValue"},
		ExportMapping:          map[string]string{"defaultValue": "default_value", "addressId": "address_id"},
		DefaultSort:            "name",
		References: map[string]rw.RefDef{
			"address":   {Kind: rw.ToOne, Dao: "address", LocalKey: "addressId", ForeignKey: "id"},
			"addresses": {Kind: rw.ToMany, Dao: "address"},
			"posts":     {Kind: rw.ToMany, Dao: "post", LocalKey: "id", ForeignKey: "authorId"},
			"groups": {Kind: rw.JoinToMany, Dao: "group",
				JoinDao: "membership", JoinLocalKey: "userId", JoinForeignKey: "groupId"},
		},
	}
}

func supportDefinitions() []rw.Definition {
	return []rw.Definition{
		{
			Name:                   "address",
			Attributes:             map[string]rw.AttributeType{"id": rw.Int, "street": rw.Text},
			DefaultValueAttributes: []string{"id"},
		},
		{
			Name:                   "post",
			Resource:               "posts",
			Attributes:             map[string]rw.AttributeType{"id": rw.Int, "authorId": rw.Int, "title": rw.Text, "author": rw.Reference},
			DefaultValueAttributes: []string{"id"},
			DefaultSort:            "title",
			References:             map[string]rw.RefDef{"author": {Kind: rw.ToOne, Dao: "user", LocalKey: "authorId"}},
		},
		{
			Name:                   "group",
			Resource:               "groups",
			Attributes:             map[string]rw.AttributeType{"id": rw.Int, "name": rw.Text},
			DefaultValueAttributes: []string{"id"},
		},
		{
			Name:                   "membership",
			Attributes:             map[string]rw.AttributeType{"id": rw.Int, "userId": rw.Int, "groupId": rw.Int},
			DefaultValueAttributes: []string{"id"},
		},
	}
}

type fixture struct {
	drv *memDriver
	reg *rw.Registry
	log *captureLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{drv: newMemDriver(), log: &captureLog{}}
	f.reg = rw.NewRegistry(f.drv, f.log.logger())
	require.NoError(t, f.reg.Define(append([]rw.Definition{userDefinition()}, supportDefinitions()...)...))
	return f
}

func (f *fixture) dao(t *testing.T, name string) *rw.Dao {
	t.Helper()
	d, err := f.reg.Dao(name)
	require.NoError(t, err)
	return d
}
