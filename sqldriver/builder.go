package sqldriver

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	rw "github.com/enyo/rincewind-sub000"
)

// Builder renders core queries as SQL text for one dialect.
type Builder struct {
	dialect Dialect
}

// NewBuilder returns a Builder for dialect.
func NewBuilder(dialect Dialect) *Builder { return &Builder{dialect: dialect} }

// EscapeString quotes s as a string literal.
func (b *Builder) EscapeString(s string) string { return b.dialect.QuoteString(s) }

// EscapeColumn quotes a column name.
func (b *Builder) EscapeColumn(name string) string { return b.dialect.QuoteIdent(name) }

// EscapeTable quotes a table name, keeping a schema prefix apart.
func (b *Builder) EscapeTable(name string) string { return b.dialect.QuoteIdent(name) }

// Literal renders an exported value. Sequences and maps are stored as JSON
// text.
func (b *Builder) Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		return b.dialect.Bool(x), nil
	case string:
		return b.EscapeString(x), nil
	case []byte:
		return b.EscapeString(string(x)), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case time.Time:
		return b.EscapeString(x.Format(rw.DateWithTimeLayout)), nil
	case fmt.Stringer:
		return b.EscapeString(x.String()), nil
	case []any, map[string]any:
		raw, err := json.Marshal(x)
		if err != nil {
			return "", err
		}
		return b.EscapeString(string(raw)), nil
	}
	return "", fmt.Errorf("cannot render %T as SQL literal", v)
}

// ─── Statements ─────────────────────────────────────────────────────────────

// SelectSQL renders "SELECT * FROM ..." with conditions, order and paging.
func (b *Builder) SelectSQL(q *rw.Query) (string, error) {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(b.EscapeTable(q.Resource))
	if err := b.writeWhere(&sb, q.Conditions); err != nil {
		return "", err
	}
	if len(q.Sort) > 0 {
		parts := make([]string, len(q.Sort))
		for i, s := range q.Sort {
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			parts[i] = b.EscapeColumn(s.Column) + " " + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}
	sb.WriteString(b.dialect.LimitOffset(q.Limit, q.Offset))
	return sb.String(), nil
}

// CountSQL renders the COUNT(*) of the rows a query matches, ignoring sort
// and paging.
func (b *Builder) CountSQL(q *rw.Query) (string, error) {
	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*) FROM ")
	sb.WriteString(b.EscapeTable(q.Resource))
	if err := b.writeWhere(&sb, q.Conditions); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Where renders the condition list joined with AND, "" for none.
func (b *Builder) Where(conds []rw.Condition) (string, error) {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		col := b.EscapeColumn(c.Column)
		switch c.Operator {
		case rw.OpNull, rw.OpNotNull:
			parts = append(parts, col+" "+c.Operator)
			continue
		}
		lit, err := b.Literal(c.Value)
		if err != nil {
			return "", fmt.Errorf("condition on %s: %w", c.Column, err)
		}
		parts = append(parts, col+" "+c.Operator+" "+lit)
	}
	return strings.Join(parts, " AND "), nil
}

func (b *Builder) writeWhere(sb *strings.Builder, conds []rw.Condition) error {
	where, err := b.Where(conds)
	if err != nil {
		return err
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	return nil
}

// InsertSQL renders an INSERT. With returning set the new id column is read
// back with RETURNING.
func (b *Builder) InsertSQL(resource, idColumn string, values []rw.Value, returning bool) (string, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.EscapeTable(resource))
	if len(values) == 0 {
		sb.WriteString(" DEFAULT VALUES")
	} else {
		cols := make([]string, len(values))
		lits := make([]string, len(values))
		for i, v := range values {
			lit, err := b.Literal(v.Value)
			if err != nil {
				return "", fmt.Errorf("value of %s: %w", v.Column, err)
			}
			cols[i], lits[i] = b.EscapeColumn(v.Column), lit
		}
		fmt.Fprintf(&sb, " (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(lits, ", "))
	}
	if returning {
		sb.WriteString(" RETURNING ")
		sb.WriteString(b.EscapeColumn(idColumn))
	}
	return sb.String(), nil
}

// UpdateSQL renders an UPDATE of the row identified by key. The key column is
// never assigned.
func (b *Builder) UpdateSQL(resource string, key rw.Value, values []rw.Value) (string, error) {
	sets := make([]string, 0, len(values))
	for _, v := range values {
		if v.Column == key.Column {
			continue
		}
		lit, err := b.Literal(v.Value)
		if err != nil {
			return "", fmt.Errorf("value of %s: %w", v.Column, err)
		}
		sets = append(sets, b.EscapeColumn(v.Column)+" = "+lit)
	}
	if len(sets) == 0 {
		return "", nil
	}
	where, err := b.keyWhere(key)
	if err != nil {
		return "", err
	}
	return "UPDATE " + b.EscapeTable(resource) + " SET " + strings.Join(sets, ", ") + where, nil
}

// DeleteSQL renders a DELETE of the row identified by key.
func (b *Builder) DeleteSQL(resource string, key rw.Value) (string, error) {
	where, err := b.keyWhere(key)
	if err != nil {
		return "", err
	}
	return "DELETE FROM " + b.EscapeTable(resource) + where, nil
}

func (b *Builder) keyWhere(key rw.Value) (string, error) {
	lit, err := b.Literal(key.Value)
	if err != nil {
		return "", fmt.Errorf("key %s: %w", key.Column, err)
	}
	return " WHERE " + b.EscapeColumn(key.Column) + " = " + lit, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
