/*
Package rincewind – reference resolution.

A Ref turns the value of a reference attribute into related Records. Results
are cached on the owning Record, so a second access never reaches the
foreign Dao. Related Daos are resolved by registry key on first use, which
keeps cyclic reference graphs lazy.
*/
package rincewind

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Ref is the resolved form of one RefDef on one Dao.
type Ref struct {
	owner *Dao
	name  string
	def   RefDef

	mu      sync.Mutex
	foreign *Dao
	join    *Dao
}

// Reference returns the memoized Ref of a declared reference attribute.
func (d *Dao) Reference(name string) (*Ref, error) {
	t, ok := d.attributes[name]
	if !ok || t.kind != KindReference {
		return nil, NewConfigError(d.name, fmt.Sprintf(`Attribute "%s" is not a reference`, name))
	}
	def, ok := d.refDefs[name]
	if !ok {
		return nil, NewConfigError(d.name, fmt.Sprintf(`No reference registered for "%s"`, name))
	}

	d.refsMu.Lock()
	defer d.refsMu.Unlock()
	if ref, ok := d.refs[name]; ok {
		return ref, nil
	}
	ref := &Ref{owner: d, name: name, def: def}
	d.refs[name] = ref
	return ref, nil
}

func (f *Ref) Name() string     { return f.name }
func (f *Ref) Kind() RefKind    { return f.def.Kind }
func (f *Ref) Def() RefDef      { return f.def }
func (f *Ref) LocalKey() string { return f.def.LocalKey }

// Stored reports whether the reference attribute itself is a column. It is
// not when a local key carries the value or when a join resource does.
func (f *Ref) Stored() bool {
	return f.def.LocalKey == "" && f.def.Kind != JoinToMany
}

// ForeignDao resolves the target Dao through the owner's registry.
func (f *Ref) ForeignDao() (*Dao, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.foreign == nil {
		d, err := f.owner.CreateDao(f.def.Dao)
		if err != nil {
			return nil, err
		}
		f.foreign = d
	}
	return f.foreign, nil
}

// JoinDao resolves the join Dao of a join-table reference.
func (f *Ref) JoinDao() (*Dao, error) {
	if f.def.Kind != JoinToMany {
		return nil, NewConfigError(f.owner.name, fmt.Sprintf(`Reference "%s" has no join resource`, f.name))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.join == nil {
		d, err := f.owner.CreateDao(f.def.JoinDao)
		if err != nil {
			return nil, err
		}
		f.join = d
	}
	return f.join, nil
}

// foreignKey is the matched attribute on the foreign Dao, its id by default.
func (f *Ref) foreignKey(foreign *Dao) string {
	if f.def.ForeignKey != "" {
		return f.def.ForeignKey
	}
	return foreign.idAttribute
}

// ─── Coercion on write ──────────────────────────────────────────────────────

// Coerce normalizes a value assigned to the reference attribute into its
// storage form: a Record becomes its key, a list of Records a list of keys.
// Join-table references are read-only.
func (f *Ref) Coerce(value any) (any, error) {
	if f.def.Kind == JoinToMany {
		return nil, NewError(fmt.Sprintf(`Join reference "%s.%s" cannot be written`, f.owner.name, f.name),
			WithCode(ErrReadOnly))
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *Record:
		return f.recordKey(v), nil
	case []*Record:
		keys := make([]any, len(v))
		for i, rec := range v {
			keys[i] = f.recordKey(rec)
		}
		return keys, nil
	case []any:
		keys := make([]any, len(v))
		for i, el := range v {
			if rec, ok := el.(*Record); ok {
				keys[i] = f.recordKey(rec)
				continue
			}
			keys[i] = normalizeKey(el)
		}
		return keys, nil
	case map[string]any, []map[string]any:
		return v, nil
	}
	if !isScalar(value) {
		return nil, NewError(fmt.Sprintf(`Cannot assign %T to reference "%s.%s"`, value, f.owner.name, f.name),
			WithCode(ErrArgument))
	}
	return normalizeKey(value), nil
}

func (f *Ref) recordKey(rec *Record) any {
	if rec == nil {
		return nil
	}
	if f.def.ForeignKey != "" {
		return rec.values[f.def.ForeignKey]
	}
	return rec.ID()
}

func normalizeKey(v any) any {
	switch v.(type) {
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		n, _ := toInt64(v)
		return n
	}
	return v
}

func isScalar(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Ptr,
		reflect.Func, reflect.Chan, reflect.Interface:
		return false
	}
	return true
}

// ─── Resolution ─────────────────────────────────────────────────────────────

// Resolve returns a *Record (to-one) or *ResultIterator (to-many).
func (f *Ref) Resolve(ctx context.Context, rec *Record) (any, error) {
	if f.def.Kind == ToOne {
		one, err := f.ResolveOne(ctx, rec)
		if err != nil || one == nil {
			return nil, err
		}
		return one, nil
	}
	many, err := f.ResolveMany(ctx, rec)
	if err != nil {
		return nil, err
	}
	return many, nil
}

func (f *Ref) integrityWarning(rec *Record, value any) {
	f.owner.warn(fmt.Sprintf(`Reference "%s.%s" holds a malformed value`, f.owner.name, f.name),
		map[string]any{"dao": f.owner.name, "attribute": f.name, "type": fmt.Sprintf("%T", value), "id": fmt.Sprintf("%v", rec.ID())})
}

// ResolveOne resolves a to-one reference on rec, caching the result.
func (f *Ref) ResolveOne(ctx context.Context, rec *Record) (*Record, error) {
	if cached, ok := rec.refs[f.name]; ok {
		one, _ := cached.(*Record)
		return one, nil
	}

	foreign, err := f.ForeignDao()
	if err != nil {
		return nil, err
	}

	value := rec.values[f.name]
	switch v := value.(type) {
	case *Record:
		rec.refs[f.name] = v
		return v, nil
	case map[string]any:
		one := foreign.RecordFromData(v)
		rec.refs[f.name] = one
		return one, nil
	}
	if !isScalar(value) {
		f.integrityWarning(rec, value)
		return nil, nil
	}

	local := value
	if f.def.LocalKey != "" {
		local = rec.values[f.def.LocalKey]
	}
	if local == nil {
		rec.refs[f.name] = (*Record)(nil)
		return nil, nil
	}

	one, err := foreign.Find(ctx, Predicate{f.foreignKey(foreign): local}, nil)
	if err != nil {
		return nil, err
	}
	if one == nil {
		f.owner.warn(fmt.Sprintf(`Reference "%s.%s" points to a missing "%s" record`, f.owner.name, f.name, foreign.name),
			map[string]any{"dao": f.owner.name, "attribute": f.name, "key": fmt.Sprintf("%v", local)})
	}
	rec.refs[f.name] = one
	return one, nil
}

// ResolveMany resolves a to-many or join-table reference on rec.
func (f *Ref) ResolveMany(ctx context.Context, rec *Record) (*ResultIterator, error) {
	if cached, ok := rec.refs[f.name].(*ResultIterator); ok {
		cached.Rewind()
		return cached, nil
	}
	foreign, err := f.ForeignDao()
	if err != nil {
		return nil, err
	}

	var it *ResultIterator
	if f.def.Kind == JoinToMany {
		it, err = f.resolveJoin(ctx, rec, foreign)
	} else {
		it, err = f.resolveMany(ctx, rec, foreign)
	}
	if err != nil {
		return nil, err
	}
	rec.refs[f.name] = it
	return it, nil
}

func (f *Ref) resolveMany(ctx context.Context, rec *Record, foreign *Dao) (*ResultIterator, error) {
	value := rec.values[f.name]

	switch v := value.(type) {
	case []map[string]any:
		return foreign.IteratorFromHashes(v), nil
	case []any:
		if hashes, ok := allHashes(v); ok {
			return foreign.IteratorFromHashes(hashes), nil
		}
		for _, el := range v {
			if !isScalar(el) || el == nil {
				f.integrityWarning(rec, value)
				return foreign.IteratorFromHashes(nil), nil
			}
		}
		return foreign.IteratorFromKeys(f.foreignKey(foreign), v), nil
	}
	if !isScalar(value) {
		f.integrityWarning(rec, value)
		return foreign.IteratorFromHashes(nil), nil
	}

	local := value
	if f.def.LocalKey != "" {
		local = rec.values[f.def.LocalKey]
	}
	switch l := local.(type) {
	case nil:
		return foreign.IteratorFromHashes(nil), nil
	case []any:
		return foreign.IteratorFromKeys(f.foreignKey(foreign), l), nil
	}
	if !isScalar(local) {
		f.integrityWarning(rec, local)
		return foreign.IteratorFromHashes(nil), nil
	}
	return foreign.GetIterator(ctx, Predicate{f.foreignKey(foreign): local}, nil)
}

// resolveJoin reads the join rows for the local value, collects their
// foreign keys and iterates the foreign Dao over them.
func (f *Ref) resolveJoin(ctx context.Context, rec *Record, foreign *Dao) (*ResultIterator, error) {
	local := rec.ID()
	if f.def.LocalKey != "" {
		local = rec.values[f.def.LocalKey]
	}
	if local == nil {
		return foreign.IteratorFromHashes(nil), nil
	}
	join, err := f.JoinDao()
	if err != nil {
		return nil, err
	}
	rows, err := join.GetIterator(ctx, Predicate{f.def.JoinLocalKey: local}, nil)
	if err != nil {
		return nil, err
	}
	keys := make([]any, 0, rows.Count())
	for ; rows.Valid(); rows.Next() {
		row, err := rows.Record(ctx)
		if err != nil {
			return nil, err
		}
		keys = append(keys, row.Value(f.def.JoinForeignKey))
	}
	return foreign.IteratorFromKeys(f.foreignKey(foreign), keys), nil
}

func allHashes(values []any) ([]map[string]any, bool) {
	if len(values) == 0 {
		return nil, false
	}
	out := make([]map[string]any, len(values))
	for i, v := range values {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		out[i] = m
	}
	return out, true
}
