/*
Package match evaluates queries in memory for backing resources that cannot
filter, sort or page on their own.
*/
package match

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	rw "github.com/enyo/rincewind-sub000"
)

var (
	likeMu    sync.Mutex
	likeCache = map[string]*regexp.Regexp{}
)

// Like reports whether s matches a SQL LIKE pattern: % matches any run of
// characters, _ exactly one and a backslash escapes the next character.
// Matching is case-sensitive.
func Like(pattern, s string) bool {
	likeMu.Lock()
	re, ok := likeCache[pattern]
	if !ok {
		re = regexp.MustCompile(likeToRegexp(pattern))
		likeCache[pattern] = re
	}
	likeMu.Unlock()
	return re.MatchString(s)
}

func likeToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(`.*`)
		case r == '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if escaped {
		b.WriteString(`\\`)
	}
	b.WriteString(`$`)
	return b.String()
}

// LikePrefix returns the literal prefix of a pattern shaped "abc%".
func LikePrefix(pattern string) (string, bool) {
	if !strings.HasSuffix(pattern, "%") {
		return "", false
	}
	body := pattern[:len(pattern)-1]
	if body == "" || strings.ContainsAny(body, `%_\`) {
		return "", false
	}
	return body, true
}

// LikeInfix returns the literal of a pattern shaped "%abc%".
func LikeInfix(pattern string) (string, bool) {
	if len(pattern) < 3 || !strings.HasPrefix(pattern, "%") || !strings.HasSuffix(pattern, "%") {
		return "", false
	}
	body := pattern[1 : len(pattern)-1]
	if strings.ContainsAny(body, `%_\`) {
		return "", false
	}
	return body, true
}

// IsLiteral reports whether a LIKE pattern has no wildcards.
func IsLiteral(pattern string) bool { return !strings.ContainsAny(pattern, `%_\`) }

// ─── Comparison ─────────────────────────────────────────────────────────────

// Compare orders two raw values: nil first, then numbers, bools, times and
// strings by their natural order. Mixed kinds compare by their text form.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := a.(bool); ok {
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(text(a), text(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func text(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if n, ok := number(v); ok && n == math.Trunc(n) && math.Abs(n) < 1<<53 {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%v", v)
}

// Key renders a value as a stable string, used for equality on ids.
func Key(v any) string {
	if v == nil {
		return ""
	}
	return text(v)
}

// ─── Evaluation ─────────────────────────────────────────────────────────────

// Condition reports whether a row satisfies one condition.
func Condition(row map[string]any, c rw.Condition) bool {
	value, present := row[c.Column]
	if !present {
		value = nil
	}
	switch c.Operator {
	case rw.OpNull:
		return value == nil
	case rw.OpNotNull:
		return value != nil
	case rw.OpLike:
		if value == nil {
			return false
		}
		pattern, _ := c.Value.(string)
		return Like(pattern, text(value))
	}
	if value == nil {
		return false
	}
	cmp := Compare(value, c.Value)
	switch c.Operator {
	case rw.OpEq:
		return cmp == 0
	case rw.OpNe:
		return cmp != 0
	case rw.OpGt:
		return cmp > 0
	case rw.OpGte:
		return cmp >= 0
	case rw.OpLt:
		return cmp < 0
	case rw.OpLte:
		return cmp <= 0
	}
	return false
}

// All reports whether a row satisfies every condition.
func All(row map[string]any, conds []rw.Condition) bool {
	for _, c := range conds {
		if !Condition(row, c) {
			return false
		}
	}
	return true
}

// Filter returns the rows satisfying every condition, in order.
func Filter(rows []map[string]any, conds []rw.Condition) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if All(row, conds) {
			out = append(out, row)
		}
	}
	return out
}

// Sort orders rows in place by the sort fields; equal rows keep their order.
func Sort(rows []map[string]any, fields []rw.SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, f := range fields {
			c := Compare(rows[i][f.Column], rows[j][f.Column])
			if c == 0 {
				continue
			}
			if f.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Window applies offset and limit; a zero limit means no limit.
func Window(rows []map[string]any, offset, limit int) []map[string]any {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// Apply runs a whole query over rows: filter, sort, window.
func Apply(rows []map[string]any, q *rw.Query) []map[string]any {
	out := Filter(rows, q.Conditions)
	Sort(out, q.Sort)
	return Window(out, q.Offset, q.Limit)
}
