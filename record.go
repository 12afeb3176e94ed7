/*
Package rincewind – Record type.
*/
package rincewind

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Record is one typed entity bound to its Dao. Every declared attribute is
// present in the value map. A Record is owned by a single caller and is not
// safe for concurrent mutation.
type Record struct {
	dao     *Dao
	values  Item
	changed map[string]struct{}
	refs    map[string]any // resolved references: *Record, *ResultIterator or nil
	exists  bool
}

func newRecord(d *Dao) *Record {
	return &Record{
		dao:     d,
		values:  Item{},
		changed: map[string]struct{}{},
		refs:    map[string]any{},
	}
}

func (r *Record) resetState() {
	r.changed = map[string]struct{}{}
	r.refs = map[string]any{}
}

// Dao returns the owning Dao.
func (r *Record) Dao() *Dao { return r.dao }

// ExistsInDatabase reports whether Save updates (true) or inserts (false).
func (r *Record) ExistsInDatabase() bool { return r.exists }

// ID returns the value of the id attribute.
func (r *Record) ID() any { return r.values[r.dao.idAttribute] }

// ─── Reads ──────────────────────────────────────────────────────────────────

// Value returns the stored value of an attribute without resolving references.
func (r *Record) Value(name string) any { return r.values[name] }

// Get returns the value of an attribute. Reference attributes are resolved:
// to-one references yield a *Record (or nil), to-many a *ResultIterator.
func (r *Record) Get(ctx context.Context, name string) (any, error) {
	t, ok := r.dao.attributeType(name)
	if !ok {
		return nil, NewConfigError(r.dao.name, fmt.Sprintf(`Unknown attribute "%s"`, name))
	}
	if t.kind != KindReference {
		return r.values[name], nil
	}
	ref, err := r.dao.Reference(name)
	if err != nil {
		return nil, err
	}
	return ref.Resolve(ctx, r)
}

// One resolves a to-one reference.
func (r *Record) One(ctx context.Context, name string) (*Record, error) {
	ref, err := r.dao.Reference(name)
	if err != nil {
		return nil, err
	}
	if ref.Kind() != ToOne {
		return nil, NewConfigError(r.dao.name, fmt.Sprintf(`Reference "%s" is not to-one`, name))
	}
	return ref.ResolveOne(ctx, r)
}

// Many resolves a to-many or join-table reference.
func (r *Record) Many(ctx context.Context, name string) (*ResultIterator, error) {
	ref, err := r.dao.Reference(name)
	if err != nil {
		return nil, err
	}
	if ref.Kind() == ToOne {
		return nil, NewConfigError(r.dao.name, fmt.Sprintf(`Reference "%s" is not to-many`, name))
	}
	return ref.ResolveMany(ctx, r)
}

// Int returns an int attribute, 0 when null.
func (r *Record) Int(name string) int64 {
	n, _ := r.values[name].(int64)
	return n
}

// Float returns a float attribute, 0 when null.
func (r *Record) Float(name string) float64 {
	f, _ := r.values[name].(float64)
	return f
}

// Bool returns a bool attribute, false when null.
func (r *Record) Bool(name string) bool {
	b, _ := r.values[name].(bool)
	return b
}

// String returns a text or enum attribute, "" when null.
func (r *Record) String(name string) string {
	s, _ := r.values[name].(string)
	return s
}

// Time returns a date attribute, the zero time when null.
func (r *Record) Time(name string) time.Time {
	t, _ := r.values[name].(time.Time)
	return t
}

// Sequence returns a sequence attribute, nil when null.
func (r *Record) Sequence(name string) []any {
	s, _ := r.values[name].([]any)
	return s
}

// IsNull reports whether an attribute holds null.
func (r *Record) IsNull(name string) bool { return r.values[name] == nil }

// ─── Writes ─────────────────────────────────────────────────────────────────

// Set assigns an attribute and marks it changed. The value is coerced to the
// declared type; a recoverable coercion failure stores the fallback and is
// logged. Setting a reference attribute stores its storage form.
func (r *Record) Set(name string, value any) error {
	t, ok := r.dao.attributeType(name)
	if !ok {
		return NewConfigError(r.dao.name, fmt.Sprintf(`Cannot set unknown attribute "%s"`, name))
	}

	switch t.kind {
	case KindReference:
		ref, err := r.dao.Reference(name)
		if err != nil {
			return err
		}
		stored, err := ref.Coerce(value)
		if err != nil {
			return err
		}
		r.values[name] = stored
		delete(r.refs, name)
		if lk := ref.LocalKey(); lk != "" && ref.Kind() == ToOne {
			if lt, ok := r.dao.attributeType(lk); ok {
				r.values[lk] = r.dao.coerceAttribute(lk, lt, stored)
				r.changed[lk] = struct{}{}
			}
		}
		if rec, ok := value.(*Record); ok && ref.Kind() == ToOne {
			r.refs[name] = rec
		}
	case KindIgnore:
		r.values[name] = value
	default:
		r.values[name] = r.dao.coerceAttribute(name, t, value)
	}
	r.changed[name] = struct{}{}
	r.invalidateRefs(name)
	return nil
}

// invalidateRefs drops cached references keyed off a changed local attribute.
func (r *Record) invalidateRefs(name string) {
	for refName := range r.refs {
		if def, ok := r.dao.refDefs[refName]; ok && def.LocalKey == name {
			delete(r.refs, refName)
		}
	}
}

// SetAll assigns several attributes; the first failure stops.
func (r *Record) SetAll(values Item) error {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := r.Set(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// Changed returns the attributes written since the last load or save.
func (r *Record) Changed() []string {
	out := make([]string, 0, len(r.changed))
	for k := range r.changed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsChanged reports whether an attribute was written since the last load or save.
func (r *Record) IsChanged(name string) bool {
	_, ok := r.changed[name]
	return ok
}

// Data returns a copy of the stored attribute values. Reference attributes
// hold their stored form.
func (r *Record) Data() Item {
	out := make(Item, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// ─── Persistence ────────────────────────────────────────────────────────────

// Save inserts or updates the Record depending on ExistsInDatabase.
func (r *Record) Save(ctx context.Context) error {
	var err error
	if r.exists {
		_, err = r.dao.Update(ctx, r)
	} else {
		_, err = r.dao.Insert(ctx, r)
	}
	if err != nil {
		return err
	}
	r.changed = map[string]struct{}{}
	return nil
}

// Delete removes the Record from its backing resource.
func (r *Record) Delete(ctx context.Context) error { return r.dao.Delete(ctx, r) }

// Load replaces all values with a fresh read by id.
func (r *Record) Load(ctx context.Context) error {
	id := r.ID()
	if id == nil {
		return NewError(fmt.Sprintf(`Cannot load "%s" record without id`, r.dao.name), WithCode(ErrArgument))
	}
	fresh, err := r.dao.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.values = fresh.values
	r.exists = true
	r.resetState()
	return nil
}
