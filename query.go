/*
Package rincewind – predicates and the backend-neutral query model.

A Dao turns a Predicate plus Params into a Query whose column names and values
are already in storage form. Drivers render the Query in their own syntax.
*/
package rincewind

import (
	"fmt"
	"sort"
	"strings"
)

// Item is a generic attribute map returned from / passed to Dao operations.
type Item = map[string]any

// Predicate selects rows: attribute name → scalar, or attribute name →
// Assignment carrying an explicit operator.
type Predicate map[string]any

// Comparison operators accepted in an Assignment.
const (
	OpEq      = "="
	OpGt      = ">"
	OpLt      = "<"
	OpGte     = ">="
	OpLte     = "<="
	OpNe      = "<>"
	OpLike    = "LIKE"
	OpNull    = "IS NULL"
	OpNotNull = "IS NOT NULL"
)

var validOperators = map[string]bool{
	OpEq: true, OpGt: true, OpLt: true, OpGte: true, OpLte: true, OpNe: true, OpLike: true,
}

// Assignment is a predicate value carrying an explicit comparison operator.
// Attribute overrides the predicate key when set, which allows several
// conditions on one attribute.
type Assignment struct {
	Attribute string
	Operator  string
	Value     any
}

// Eq creates an equality assignment.
func Eq(attribute string, value any) Assignment { return Assignment{attribute, OpEq, value} }

// Ne creates an inequality assignment.
func Ne(attribute string, value any) Assignment { return Assignment{attribute, OpNe, value} }

// Gt creates a greater-than assignment.
func Gt(attribute string, value any) Assignment { return Assignment{attribute, OpGt, value} }

// Gte creates a greater-than-or-equal assignment.
func Gte(attribute string, value any) Assignment { return Assignment{attribute, OpGte, value} }

// Lt creates a less-than assignment.
func Lt(attribute string, value any) Assignment { return Assignment{attribute, OpLt, value} }

// Lte creates a less-than-or-equal assignment.
func Lte(attribute string, value any) Assignment { return Assignment{attribute, OpLte, value} }

// Like creates a pattern assignment (% and _ wildcards).
func Like(attribute string, value any) Assignment { return Assignment{attribute, OpLike, value} }

// Condition is one rendered predicate entry in storage form.
type Condition struct {
	Column   string
	Operator string
	Value    any
	Type     AttributeType
}

// SortField is one ORDER BY entry. Column is the storage name.
type SortField struct {
	Column string
	Desc   bool
}

func (s SortField) String() string {
	if s.Desc {
		return s.Column + " DESC"
	}
	return s.Column + " ASC"
}

// Value is one column/value pair written by insert and update.
type Value struct {
	Column string
	Value  any
	Type   AttributeType
}

// Query is the backend-neutral description of a select.
type Query struct {
	Resource   string
	Conditions []Condition
	Sort       []SortField
	Offset     int
	Limit      int
}

// Params holds optional operation modifiers.
type Params struct {
	// Sort accepts "col", "col DESC", "a, b DESC", map[string]string{col: dir},
	// []SortField or nil for the Dao default.
	Sort   any
	Offset int
	Limit  int
	// Raw skips value coercion/export; the values are already in storage form.
	Raw bool
}

// ─── Query generation ───────────────────────────────────────────────────────

// GenerateQuery builds the Query for a predicate. Unknown attribute names are
// configuration errors, raised before anything reaches the backing resource.
func (d *Dao) GenerateQuery(pred Predicate, params *Params) (*Query, error) {
	if params == nil {
		params = &Params{}
	}
	q := &Query{Resource: d.resource, Offset: params.Offset, Limit: params.Limit}
	if params.Offset < 0 || params.Limit < 0 {
		return nil, NewError("offset and limit must not be negative", WithCode(ErrArgument),
			WithContext(map[string]any{"offset": params.Offset, "limit": params.Limit}))
	}

	conds, err := d.generateConditions(pred, !params.Raw)
	if err != nil {
		return nil, err
	}
	q.Conditions = conds

	sortSpec := params.Sort
	if sortSpec == nil && d.defaultSort != "" {
		sortSpec = d.defaultSort
	}
	q.Sort, err = d.GenerateSort(sortSpec)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (d *Dao) generateConditions(pred Predicate, exportValues bool) ([]Condition, error) {
	keys := make([]string, 0, len(pred))
	for k := range pred {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]Condition, 0, len(keys))
	for _, key := range keys {
		name, op, value := key, OpEq, pred[key]
		switch a := value.(type) {
		case Assignment:
			if a.Attribute != "" {
				name = a.Attribute
			}
			op, value = strings.ToUpper(strings.TrimSpace(a.Operator)), a.Value
		case *Assignment:
			if a.Attribute != "" {
				name = a.Attribute
			}
			op, value = strings.ToUpper(strings.TrimSpace(a.Operator)), a.Value
		}
		if op == "" || op == "==" {
			op = OpEq
		}
		if op == "!=" {
			op = OpNe
		}
		if !validOperators[op] {
			return nil, NewError(fmt.Sprintf(`Invalid operator "%s" for "%s"`, op, name),
				WithCode(ErrArgument), WithContext(map[string]any{"dao": d.name, "attribute": name}))
		}

		t, ok := d.attributeType(name)
		if !ok {
			return nil, &ConfigError{
				Dao:     d.name,
				Message: fmt.Sprintf(`Unknown attribute "%s" in predicate`, name),
				Context: map[string]any{"predicate": keys},
			}
		}
		if t.kind == KindReference {
			var err error
			if name, t, value, err = d.referenceColumn(name, value); err != nil {
				return nil, err
			}
		}

		if value == nil {
			nullOp := OpNull
			if op == OpNe {
				nullOp = OpNotNull
			}
			conds = append(conds, Condition{Column: d.names.ToStorageName(name), Operator: nullOp, Type: t})
			continue
		}

		if exportValues {
			exported, err := d.exportPredicateValue(name, t, op, value)
			if err != nil {
				return nil, err
			}
			value = exported
		}
		conds = append(conds, Condition{Column: d.names.ToStorageName(name), Operator: op, Value: value, Type: t})
	}
	return conds, nil
}

// referenceColumn maps a predicate on a reference onto the column holding
// it. A to-one reference with a local key is queried through that key;
// references backed by another resource cannot be queried.
func (d *Dao) referenceColumn(name string, value any) (string, AttributeType, any, error) {
	ref, err := d.Reference(name)
	if err != nil {
		return "", AttributeType{}, nil, err
	}
	if ref.Stored() {
		return name, d.attributes[name], value, nil
	}
	if ref.Kind() != ToOne {
		return "", AttributeType{}, nil, NewConfigError(d.name,
			fmt.Sprintf(`Reference "%s" is not stored and cannot be used in a predicate`, name))
	}
	lk := ref.LocalKey()
	lt, ok := d.attributeType(lk)
	if !ok {
		return "", AttributeType{}, nil, NewConfigError(d.name,
			fmt.Sprintf(`Local key "%s" of reference "%s" is not an attribute`, lk, name))
	}
	if rec, ok := value.(*Record); ok {
		value = ref.recordKey(rec)
	}
	return lk, lt, value, nil
}

// exportPredicateValue routes one predicate value through coercion. LIKE
// patterns stay text whatever the column type.
func (d *Dao) exportPredicateValue(name string, t AttributeType, op string, value any) (any, error) {
	if op == OpLike {
		s, err := coerceText(value)
		if err != nil {
			return nil, NewError(fmt.Sprintf(`Invalid LIKE pattern for "%s"`, name), WithCode(ErrArgument), WithCause(err))
		}
		return s, nil
	}
	if t.kind == KindReference {
		ref, err := d.Reference(name)
		if err != nil {
			return nil, err
		}
		return ref.Coerce(value)
	}
	exported, err := Export(value, t, true, d.dates())
	if err != nil {
		// a predicate value that cannot be coerced would silently match the
		// fallback, so it is rejected
		return nil, NewError(fmt.Sprintf(`Invalid predicate value for "%s"`, name),
			WithCode(ErrArgument), WithCause(err),
			WithContext(map[string]any{"dao": d.name, "attribute": name, "value": fmt.Sprintf("%v", value)}))
	}
	return exported, nil
}

// GenerateSort converts a sort spec into storage-side sort fields.
func (d *Dao) GenerateSort(spec any) ([]SortField, error) {
	var fields []SortField
	switch s := spec.(type) {
	case nil:
		return nil, nil
	case string:
		for _, part := range strings.Split(s, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			words := strings.Fields(part)
			f := SortField{Column: words[0]}
			if len(words) > 1 {
				dir, err := parseDirection(words[1])
				if err != nil {
					return nil, err
				}
				f.Desc = dir
			}
			fields = append(fields, f)
		}
	case []string:
		for _, part := range s {
			sub, err := d.GenerateSort(part)
			if err != nil {
				return nil, err
			}
			fields = append(fields, d.unmapSort(sub)...)
		}
	case map[string]string:
		cols := make([]string, 0, len(s))
		for c := range s {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		for _, c := range cols {
			desc, err := parseDirection(s[c])
			if err != nil {
				return nil, err
			}
			fields = append(fields, SortField{Column: c, Desc: desc})
		}
	case []SortField:
		fields = append(fields, s...)
	case SortField:
		fields = append(fields, s)
	default:
		return nil, NewError(fmt.Sprintf("unsupported sort spec %T", spec), WithCode(ErrArgument))
	}

	out := make([]SortField, 0, len(fields))
	for _, f := range fields {
		if _, ok := d.attributeType(f.Column); !ok {
			return nil, NewConfigError(d.name, fmt.Sprintf(`Unknown sort attribute "%s"`, f.Column))
		}
		out = append(out, SortField{Column: d.names.ToStorageName(f.Column), Desc: f.Desc})
	}
	return out, nil
}

// unmapSort reverts storage names so a nested GenerateSort result can be
// validated again by the caller.
func (d *Dao) unmapSort(fields []SortField) []SortField {
	out := make([]SortField, len(fields))
	for i, f := range fields {
		out[i] = SortField{Column: d.names.ToAppName(f.Column), Desc: f.Desc}
	}
	return out
}

func parseDirection(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ASC":
		return false, nil
	case "DESC":
		return true, nil
	}
	return false, NewError(fmt.Sprintf("invalid sort direction %q", s), WithCode(ErrArgument))
}
