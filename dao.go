/*
Package rincewind – Dao type and high-level CRUD operations.

A Dao maps Records of one kind to rows of one backing resource. It holds
the attribute metadata, name mapping and reference declarations, all
immutable after New, and delegates storage to an injected Driver.
*/
package rincewind

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

const defaultIDAttribute = "id"

// Hooks run after successful writes.
type Hooks struct {
	AfterInsert func(ctx context.Context, rec *Record) error
	AfterUpdate func(ctx context.Context, rec *Record) error
	AfterDelete func(ctx context.Context, rec *Record) error
}

// Options wires a Dao to its collaborators.
type Options struct {
	Driver   Driver
	Registry *Registry
	Logger   Logger // nil → NopLogger
	Hooks    Hooks
	// Quiet suppresses coercion warnings.
	Quiet bool
}

// Dao is the data-access object for one backing resource. Metadata is
// read-only after construction and safe to share; Records are not.
type Dao struct {
	name     string
	resource string

	attributes map[string]AttributeType
	additional map[string]AttributeType
	attrOrder  []string // sorted declared attribute names

	nullAttributes         map[string]bool
	defaultValueAttributes map[string]bool

	names       *NameMapping
	defaultSort string
	idAttribute string
	changedOnly bool

	refDefs map[string]RefDef
	refsMu  sync.Mutex
	refs    map[string]*Ref // memoized by Reference

	driver   Driver
	registry *Registry
	log      Logger
	hooks    Hooks
	quiet    bool
}

// New constructs and validates a Dao.
func New(def Definition, opts Options) (*Dao, error) {
	if def.Name == "" {
		return nil, NewConfigError("", "Missing Dao name")
	}
	d := &Dao{
		name:                   def.Name,
		resource:               def.Resource,
		attributes:             map[string]AttributeType{},
		additional:             map[string]AttributeType{},
		nullAttributes:         map[string]bool{},
		defaultValueAttributes: map[string]bool{},
		names:                  NewNameMapping(def.ImportMapping, def.ExportMapping),
		defaultSort:            def.DefaultSort,
		idAttribute:            def.IDAttribute,
		changedOnly:            def.UpdateChangedOnly,
		refDefs:                map[string]RefDef{},
		refs:                   map[string]*Ref{},
		driver:                 opts.Driver,
		registry:               opts.Registry,
		log:                    opts.Logger,
		hooks:                  opts.Hooks,
		quiet:                  opts.Quiet,
	}
	if d.resource == "" {
		d.resource = def.Name
	}
	if d.idAttribute == "" {
		d.idAttribute = defaultIDAttribute
	}
	if d.log == nil {
		d.log = NopLogger{}
	}
	if len(def.Attributes) == 0 {
		return nil, NewConfigError(d.name, "No attributes declared")
	}
	for name, t := range def.Attributes {
		d.attributes[name] = t
		d.attrOrder = append(d.attrOrder, name)
	}
	sort.Strings(d.attrOrder)

	for name, t := range def.AdditionalAttributes {
		if _, dup := d.attributes[name]; dup {
			return nil, NewConfigError(d.name, fmt.Sprintf(`Additional attribute "%s" is already declared`, name))
		}
		if t.kind == KindReference {
			return nil, NewConfigError(d.name, fmt.Sprintf(`Additional attribute "%s" cannot be a reference`, name))
		}
		d.additional[name] = t
	}

	for _, name := range def.NullAttributes {
		if _, ok := d.attributes[name]; !ok {
			return nil, NewConfigError(d.name, fmt.Sprintf(`Null attribute "%s" is not declared`, name))
		}
		d.nullAttributes[name] = true
	}
	for _, name := range def.DefaultValueAttributes {
		if _, ok := d.attributes[name]; !ok {
			return nil, NewConfigError(d.name, fmt.Sprintf(`Default value attribute "%s" is not declared`, name))
		}
		d.defaultValueAttributes[name] = true
	}

	for name, rd := range def.References {
		t, ok := d.attributes[name]
		if !ok || t.kind != KindReference {
			return nil, NewConfigError(d.name, fmt.Sprintf(`Reference "%s" is not declared as a reference attribute`, name))
		}
		if err := d.validateRefDef(name, rd); err != nil {
			return nil, err
		}
		d.refDefs[name] = rd
	}
	for _, name := range d.attrOrder {
		if d.attributes[name].kind == KindReference {
			if _, ok := d.refDefs[name]; !ok {
				return nil, NewConfigError(d.name, fmt.Sprintf(`Reference attribute "%s" has no registered reference`, name))
			}
		}
	}
	return d, nil
}

func (d *Dao) validateRefDef(name string, rd RefDef) error {
	if rd.Dao == "" {
		return NewConfigError(d.name, fmt.Sprintf(`Reference "%s" names no foreign Dao`, name))
	}
	if rd.LocalKey != "" {
		if _, ok := d.attributes[rd.LocalKey]; !ok {
			return NewConfigError(d.name, fmt.Sprintf(`Reference "%s" uses undeclared local key "%s"`, name, rd.LocalKey))
		}
	}
	if rd.Kind == JoinToMany && (rd.JoinDao == "" || rd.JoinLocalKey == "" || rd.JoinForeignKey == "") {
		return NewConfigError(d.name, fmt.Sprintf(`Join reference "%s" needs joinDao, joinLocalKey and joinForeignKey`, name))
	}
	return nil
}

// ─── Metadata ───────────────────────────────────────────────────────────────

func (d *Dao) Name() string        { return d.name }
func (d *Dao) Resource() string    { return d.resource }
func (d *Dao) IDAttribute() string { return d.idAttribute }
func (d *Dao) Names() *NameMapping { return d.names }
func (d *Dao) Driver() Driver      { return d.driver }
func (d *Dao) Registry() *Registry { return d.registry }
func (d *Dao) Logger() Logger      { return d.log }

// Attributes returns the declared attribute names in sorted order.
func (d *Dao) Attributes() []string {
	out := make([]string, len(d.attrOrder))
	copy(out, d.attrOrder)
	return out
}

// AttributeType returns the declared (or additional) type of an attribute.
func (d *Dao) AttributeType(name string) (AttributeType, bool) { return d.attributeType(name) }

func (d *Dao) attributeType(name string) (AttributeType, bool) {
	if t, ok := d.attributes[name]; ok {
		return t, true
	}
	t, ok := d.additional[name]
	return t, ok
}

// Nullable reports whether an attribute may hold null: null attributes,
// default-value attributes (null until the resource assigns them) and
// additional attributes.
func (d *Dao) Nullable(name string) bool {
	if d.nullAttributes[name] || d.defaultValueAttributes[name] {
		return true
	}
	_, extra := d.additional[name]
	return extra
}

func (d *Dao) dates() DateCodec {
	if d.driver == nil {
		return DefaultDates
	}
	return d.driver
}

func (d *Dao) requireDriver(op string) error {
	if d.driver == nil {
		return NewError(fmt.Sprintf(`Dao "%s" has no driver configured for "%s"`, d.name, op), WithCode(ErrArgument))
	}
	return nil
}

// CreateDao resolves a related Dao by its registry key.
func (d *Dao) CreateDao(name string) (*Dao, error) {
	if d.registry == nil {
		return nil, NewConfigError(d.name, fmt.Sprintf(`Cannot create Dao "%s" without a registry`, name))
	}
	return d.registry.Dao(name)
}

// ─── Import / export ────────────────────────────────────────────────────────

func (d *Dao) warn(msg string, ctx map[string]any) {
	if d.quiet {
		return
	}
	d.log.Warning(msg, ctx)
}

// coerceAttribute coerces one value, logging recoverable failures.
func (d *Dao) coerceAttribute(name string, t AttributeType, value any) any {
	out, err := Coerce(value, t, d.Nullable(name), d.dates())
	if err != nil {
		d.warn(fmt.Sprintf(`Coercion of "%s.%s" fell back to a default`, d.name, name),
			map[string]any{"dao": d.name, "attribute": name, "value": fmt.Sprintf("%v", value), "error": err.Error()})
	}
	return out
}

// importData converts a raw storage-side row into typed application values.
// Every declared attribute is present in the result.
func (d *Dao) importData(raw map[string]any) Item {
	item := make(Item, len(d.attributes))
	for _, name := range d.attrOrder {
		t := d.attributes[name]
		value, present := raw[d.names.ToStorageName(name)]
		switch {
		case t.kind == KindIgnore || t.kind == KindReference:
			item[name] = value
		case !present && !d.Nullable(name):
			d.log.Debug(fmt.Sprintf(`Attribute "%s.%s" missing from data`, d.name, name), nil)
			out, _ := Coerce(nil, t, false, d.dates())
			item[name] = out
		default:
			item[name] = d.coerceAttribute(name, t, value)
		}
	}
	for name, t := range d.additional {
		if value, ok := raw[d.names.ToStorageName(name)]; ok {
			item[name] = d.coerceAttribute(name, t, value)
		}
	}
	return item
}

// exportRecord produces the column values written for a record.
func (d *Dao) exportRecord(rec *Record, forInsert bool) ([]Value, error) {
	values := make([]Value, 0, len(d.attrOrder))
	for _, name := range d.attrOrder {
		t := d.attributes[name]
		if t.kind == KindIgnore {
			continue
		}
		value := rec.values[name]
		if forInsert && d.defaultValueAttributes[name] && value == nil {
			continue
		}
		if !forInsert {
			if name == d.idAttribute {
				continue
			}
			if d.changedOnly && !rec.IsChanged(name) {
				continue
			}
		}

		if t.kind == KindReference {
			ref, err := d.Reference(name)
			if err != nil {
				return nil, err
			}
			if !ref.Stored() {
				continue
			}
			stored, err := ref.Coerce(value)
			if err != nil {
				return nil, err
			}
			values = append(values, Value{Column: d.names.ToStorageName(name), Value: stored, Type: t})
			continue
		}

		exported, err := Export(value, t, !d.Nullable(name), d.dates())
		if err != nil {
			d.warn(fmt.Sprintf(`Export of "%s.%s" fell back to a default`, d.name, name),
				map[string]any{"dao": d.name, "attribute": name, "error": err.Error()})
		}
		values = append(values, Value{Column: d.names.ToStorageName(name), Value: exported, Type: t})
	}
	return values, nil
}

// keyValue renders the id of a record as the storage-side match key.
func (d *Dao) keyValue(id any) (Value, error) {
	t, ok := d.attributes[d.idAttribute]
	if !ok {
		return Value{}, NewConfigError(d.name, fmt.Sprintf(`Id attribute "%s" is not declared`, d.idAttribute))
	}
	if id == nil {
		return Value{}, NewError(fmt.Sprintf(`Record of "%s" has no id`, d.name), WithCode(ErrArgument))
	}
	exported, err := Export(id, t, true, d.dates())
	if err != nil {
		return Value{}, NewError(fmt.Sprintf(`Invalid id for "%s"`, d.name), WithCode(ErrArgument), WithCause(err))
	}
	return Value{Column: d.names.ToStorageName(d.idAttribute), Value: exported, Type: t}, nil
}

// ─── Records ────────────────────────────────────────────────────────────────

// RawRecord returns a Record holding only defaults: the type's zero value for
// every attribute, null for null attributes, default-value attributes,
// references and ignored attributes.
func (d *Dao) RawRecord() *Record {
	rec := newRecord(d)
	for _, name := range d.attrOrder {
		t := d.attributes[name]
		switch {
		case t.kind == KindIgnore || t.kind == KindReference:
			rec.values[name] = nil
		case d.nullAttributes[name] || d.defaultValueAttributes[name]:
			rec.values[name] = nil
		default:
			rec.values[name] = ZeroValue(t)
		}
	}
	return rec
}

// RecordFromData builds a persisted Record from raw storage-side data.
func (d *Dao) RecordFromData(raw map[string]any) *Record {
	rec := newRecord(d)
	rec.values = d.importData(raw)
	rec.exists = true
	return rec
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// getData fetches the raw row for a predicate, or nil when nothing matches.
func (d *Dao) getData(ctx context.Context, pred Predicate, params *Params) (map[string]any, error) {
	if params == nil {
		params = &Params{}
	}
	p := *params
	p.Limit = 1
	q, err := d.GenerateQuery(pred, &p)
	if err != nil {
		return nil, err
	}
	if err := d.requireDriver("get"); err != nil {
		return nil, err
	}
	d.log.Debug(fmt.Sprintf(`Dao "%s" get`, d.name), map[string]any{"query": q})
	rs, err := d.driver.Select(ctx, q)
	if err != nil {
		return nil, backendError(d.name, "get", err)
	}
	if rs.NumRows() == 0 {
		return nil, nil
	}
	row, err := rs.FetchRow(ctx, 0)
	if err != nil {
		return nil, backendError(d.name, "get", err)
	}
	return row, nil
}

// Get fetches exactly one Record. Without a predicate it returns the raw
// Record. A predicate matching nothing is a not-found error.
func (d *Dao) Get(ctx context.Context, pred Predicate, params *Params) (*Record, error) {
	if len(pred) == 0 {
		return d.RawRecord(), nil
	}
	data, err := d.getData(ctx, pred, params)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, notFound(d.name, map[string]any{"dao": d.name, "predicate": fmtPredicate(pred)})
	}
	return d.RecordFromData(data), nil
}

// Find is Get that returns nil instead of a not-found error.
func (d *Dao) Find(ctx context.Context, pred Predicate, params *Params) (*Record, error) {
	rec, err := d.Get(ctx, pred, params)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// GetByID is Get({id: id}).
func (d *Dao) GetByID(ctx context.Context, id any) (*Record, error) {
	return d.Get(ctx, Predicate{d.idAttribute: id}, nil)
}

// FindByID is Find({id: id}).
func (d *Dao) FindByID(ctx context.Context, id any) (*Record, error) {
	return d.Find(ctx, Predicate{d.idAttribute: id}, nil)
}

// GetIterator returns a lazy iterator over all matches. Zero matches is an
// empty iterator.
func (d *Dao) GetIterator(ctx context.Context, pred Predicate, params *Params) (*ResultIterator, error) {
	q, err := d.GenerateQuery(pred, params)
	if err != nil {
		return nil, err
	}
	if err := d.requireDriver("list"); err != nil {
		return nil, err
	}
	d.log.Debug(fmt.Sprintf(`Dao "%s" list`, d.name), map[string]any{"query": q})
	rs, err := d.driver.Select(ctx, q)
	if err != nil {
		return nil, backendError(d.name, "list", err)
	}
	return newIterator(d, &rowSource{rs: rs}), nil
}

// Count returns the number of rows matching a predicate.
func (d *Dao) Count(ctx context.Context, pred Predicate) (int, error) {
	q, err := d.GenerateQuery(pred, &Params{Sort: []SortField{}})
	if err != nil {
		return 0, err
	}
	if err := d.requireDriver("count"); err != nil {
		return 0, err
	}
	if c, ok := d.driver.(Counter); ok {
		n, err := c.Count(ctx, q)
		if err != nil {
			return 0, backendError(d.name, "count", err)
		}
		return n, nil
	}
	rs, err := d.driver.Select(ctx, q)
	if err != nil {
		return 0, backendError(d.name, "count", err)
	}
	return rs.NumRows(), nil
}

// IteratorFromIDs lazily fetches one Record per id, in order.
func (d *Dao) IteratorFromIDs(ids []any) *ResultIterator {
	return newIterator(d, &keySource{dao: d, column: d.idAttribute, keys: ids})
}

// IteratorFromKeys lazily fetches one Record per key of the given attribute.
func (d *Dao) IteratorFromKeys(attribute string, keys []any) *ResultIterator {
	return newIterator(d, &keySource{dao: d, column: attribute, keys: keys})
}

// IteratorFromHashes wraps already-fetched raw data; it never calls the driver.
func (d *Dao) IteratorFromHashes(hashes []map[string]any) *ResultIterator {
	return newIterator(d, &hashSource{hashes: hashes})
}

// ─── Writes ─────────────────────────────────────────────────────────────────

// Insert writes a new row, then re-reads it by id so values assigned by the
// backing resource are reflected in the returned Record.
func (d *Dao) Insert(ctx context.Context, rec *Record) (*Record, error) {
	if err := d.checkOwner(rec); err != nil {
		return nil, err
	}
	if err := d.requireDriver("insert"); err != nil {
		return nil, err
	}
	values, err := d.exportRecord(rec, true)
	if err != nil {
		return nil, err
	}
	idColumn := d.names.ToStorageName(d.idAttribute)
	d.log.Debug(fmt.Sprintf(`Dao "%s" insert`, d.name), map[string]any{"values": len(values)})
	lastID, err := d.driver.Insert(ctx, d.resource, idColumn, values)
	if err != nil {
		return nil, backendError(d.name, "insert", err)
	}

	if idType, ok := d.attributes[d.idAttribute]; ok {
		id := rec.values[d.idAttribute]
		if id == nil {
			id = lastID
		}
		if id == nil {
			return nil, NewError(fmt.Sprintf(`Insert into "%s" returned no id`, d.name), WithCode(ErrIntegrity))
		}
		id = d.coerceAttribute(d.idAttribute, idType, id)
		data, err := d.getData(ctx, Predicate{d.idAttribute: id}, &Params{Sort: []SortField{}})
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, NewError(fmt.Sprintf(`Inserted "%s" row could not be read back`, d.name),
				WithCode(ErrIntegrity), WithContext(map[string]any{"id": id}))
		}
		rec.values = d.importData(data)
	}
	rec.exists = true
	rec.resetState()

	if d.hooks.AfterInsert != nil {
		if err := d.hooks.AfterInsert(ctx, rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// Update writes the record's attributes (all but the id, or only the changed
// ones with UpdateChangedOnly) to the row matching its id.
func (d *Dao) Update(ctx context.Context, rec *Record) (*Record, error) {
	if err := d.checkOwner(rec); err != nil {
		return nil, err
	}
	if err := d.requireDriver("update"); err != nil {
		return nil, err
	}
	key, err := d.keyValue(rec.values[d.idAttribute])
	if err != nil {
		return nil, err
	}
	values, err := d.exportRecord(rec, false)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		d.log.Debug(fmt.Sprintf(`Dao "%s" update`, d.name), map[string]any{"id": key.Value, "values": len(values)})
		if err := d.driver.Update(ctx, d.resource, key, values); err != nil {
			return nil, backendError(d.name, "update", err)
		}
	}
	rec.exists = true
	rec.changed = map[string]struct{}{}

	if d.hooks.AfterUpdate != nil {
		if err := d.hooks.AfterUpdate(ctx, rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// Delete removes the row of a record.
func (d *Dao) Delete(ctx context.Context, rec *Record) error {
	if err := d.checkOwner(rec); err != nil {
		return err
	}
	if err := d.requireDriver("delete"); err != nil {
		return err
	}
	key, err := d.keyValue(rec.values[d.idAttribute])
	if err != nil {
		return err
	}
	d.log.Debug(fmt.Sprintf(`Dao "%s" delete`, d.name), map[string]any{"id": key.Value})
	if err := d.driver.Delete(ctx, d.resource, key); err != nil {
		return backendError(d.name, "delete", err)
	}
	rec.exists = false

	if d.hooks.AfterDelete != nil {
		return d.hooks.AfterDelete(ctx, rec)
	}
	return nil
}

// DeleteByID fetches the record and delegates to Delete.
func (d *Dao) DeleteByID(ctx context.Context, id any) error {
	rec, err := d.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return d.Delete(ctx, rec)
}

func (d *Dao) checkOwner(rec *Record) error {
	if rec == nil {
		return NewError(fmt.Sprintf(`Nil record passed to "%s"`, d.name), WithCode(ErrArgument))
	}
	if rec.dao != d {
		return NewError(fmt.Sprintf(`Record of "%s" passed to "%s"`, rec.dao.name, d.name), WithCode(ErrArgument))
	}
	return nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

func (d *Dao) transactor(op string) (Transactor, error) {
	if err := d.requireDriver(op); err != nil {
		return nil, err
	}
	tx, ok := d.driver.(Transactor)
	if !ok {
		return nil, NewError(fmt.Sprintf(`Transactions are not supported by the backing resource of "%s"`, d.name),
			WithCode(ErrNotSupported))
	}
	return tx, nil
}

// BeginTransaction starts a connection-scoped transaction.
func (d *Dao) BeginTransaction(ctx context.Context) error {
	tx, err := d.transactor("begin")
	if err != nil {
		return err
	}
	return tx.Begin(ctx)
}

// Commit commits the current transaction.
func (d *Dao) Commit(ctx context.Context) error {
	tx, err := d.transactor("commit")
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Rollback aborts the current transaction.
func (d *Dao) Rollback(ctx context.Context) error {
	tx, err := d.transactor("rollback")
	if err != nil {
		return err
	}
	return tx.Rollback(ctx)
}

// fmtPredicate renders a predicate for error contexts.
func fmtPredicate(pred Predicate) string {
	ctx := make(map[string]any, len(pred))
	for k, v := range pred {
		if a, ok := v.(Assignment); ok {
			ctx[k] = fmt.Sprintf("%s %v", a.Operator, a.Value)
			continue
		}
		ctx[k] = v
	}
	return fmtCtx(ctx)
}
