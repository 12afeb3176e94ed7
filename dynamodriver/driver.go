/*
Package dynamodriver – DynamoDB backing resource.

All resources share one table. Every item carries a partition key
"<resource>#<id>" and a type attribute naming its resource, so a resource is
a filtered view of the table. Reads by id use GetItem; everything else is a
paginated Scan with a FilterExpression, sorted and paged client-side.
*/
package dynamodriver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	rw "github.com/enyo/rincewind-sub000"
	"github.com/enyo/rincewind-sub000/internal/match"
	"github.com/enyo/rincewind-sub000/internal/uid"
)

// Client is the subset of the AWS DynamoDB client used by the driver. Both the
// real *dynamodb.Client and test doubles satisfy it.
type Client interface {
	GetItem(ctx context.Context, params *ddb.GetItemInput, optFns ...func(*ddb.Options)) (*ddb.GetItemOutput, error)
	PutItem(ctx context.Context, params *ddb.PutItemInput, optFns ...func(*ddb.Options)) (*ddb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *ddb.UpdateItemInput, optFns ...func(*ddb.Options)) (*ddb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *ddb.DeleteItemInput, optFns ...func(*ddb.Options)) (*ddb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *ddb.ScanInput, optFns ...func(*ddb.Options)) (*ddb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *ddb.TransactWriteItemsInput, optFns ...func(*ddb.Options)) (*ddb.TransactWriteItemsOutput, error)
}

// Options configures a Driver.
type Options struct {
	Table     string
	KeyField  string // partition key attribute, default "pk"
	TypeField string // resource attribute, default "_type"
	IDColumn  string // id column shared by all resources, default "id"

	// IsoDates stores dates as ISO 8601 strings instead of epoch milliseconds.
	IsoDates bool
	// NewID generates ids for inserts that carry none, default ULID.
	NewID uid.Generator

	Logger rw.Logger
}

// Driver implements rincewind.Driver, Transactor and Counter on one table.
type Driver struct {
	client Client
	opts   Options
	log    rw.Logger

	mu      sync.Mutex
	tx      []types.TransactWriteItem
	pending map[string]map[string]types.AttributeValue // transaction writes by key
	inTx    bool
}

// New creates a driver over an existing table.
func New(client Client, opts Options) (*Driver, error) {
	if client == nil {
		return nil, rw.NewError("DynamoDB driver needs a client", rw.WithCode(rw.ErrArgument))
	}
	if opts.Table == "" {
		return nil, rw.NewError("DynamoDB driver needs a table name", rw.WithCode(rw.ErrArgument))
	}
	if opts.KeyField == "" {
		opts.KeyField = "pk"
	}
	if opts.TypeField == "" {
		opts.TypeField = "_type"
	}
	if opts.IDColumn == "" {
		opts.IDColumn = "id"
	}
	if opts.NewID == nil {
		opts.NewID = uid.ULID
	}
	log := opts.Logger
	if log == nil {
		log = rw.NopLogger{}
	}
	return &Driver{client: client, opts: opts, log: log}, nil
}

// ─── Dates ──────────────────────────────────────────────────────────────────

// ParseDate reads epoch milliseconds or ISO 8601 strings.
func (d *Driver) ParseDate(raw any, withTime bool) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, rw.DateWithTimeLayout, rw.DateLayout} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unparsable date %q", v)
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case int:
		return time.UnixMilli(int64(v)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported date value %T", raw)
}

// FormatDate writes epoch milliseconds, or an ISO 8601 string with IsoDates.
func (d *Driver) FormatDate(t time.Time, withTime bool) any {
	if !withTime {
		y, m, day := t.Date()
		t = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	}
	if d.opts.IsoDates {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UnixMilli()
}

// ─── Keys and marshalling ───────────────────────────────────────────────────

func (d *Driver) itemKey(resource string, id any) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		d.opts.KeyField: &types.AttributeValueMemberS{Value: resource + "#" + match.Key(id)},
	}
}

func (d *Driver) keyString(resource string, id any) string {
	return resource + "#" + match.Key(id)
}

// unmarshal strips the bookkeeping attributes from a stored item.
func (d *Driver) unmarshal(av map[string]types.AttributeValue) (map[string]any, error) {
	var row map[string]any
	if err := attributevalue.UnmarshalMap(av, &row); err != nil {
		return nil, err
	}
	delete(row, d.opts.KeyField)
	delete(row, d.opts.TypeField)
	return row, nil
}

func marshalValue(v any) (types.AttributeValue, error) {
	if t, ok := v.(time.Time); ok {
		v = t.UnixMilli()
	}
	return attributevalue.Marshal(v)
}

// ─── Select ─────────────────────────────────────────────────────────────────

// Select reads by id with GetItem when the query is a single id equality, and
// scans otherwise.
func (d *Driver) Select(ctx context.Context, q *rw.Query) (rw.ResultSet, error) {
	rs := &resultSet{driver: d, query: q}
	if err := rs.Reset(ctx); err != nil {
		return nil, err
	}
	return rs, nil
}

func (d *Driver) selectRows(ctx context.Context, q *rw.Query) ([]map[string]any, error) {
	if id, ok := d.idLookup(q); ok {
		row, err := d.getItem(ctx, q.Resource, id)
		if err != nil || row == nil {
			return nil, err
		}
		if q.Offset > 0 {
			return nil, nil
		}
		return []map[string]any{row}, nil
	}

	scan, local, err := d.buildScan(q, false)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	for {
		d.log.Debug(fmt.Sprintf(`DynamoDB scan "%s"`, q.Resource), map[string]any{"filter": aws.ToString(scan.FilterExpression)})
		out, err := d.client.Scan(ctx, scan)
		if err != nil {
			return nil, classify("scan", q.Resource, err)
		}
		for _, av := range out.Items {
			row, err := d.unmarshal(av)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		scan.ExclusiveStartKey = out.LastEvaluatedKey
	}
	rows = match.Filter(rows, local)
	match.Sort(rows, q.Sort)
	return match.Window(rows, q.Offset, q.Limit), nil
}

// idLookup reports the id of a query that is exactly "id = value".
func (d *Driver) idLookup(q *rw.Query) (any, bool) {
	if len(q.Conditions) != 1 {
		return nil, false
	}
	c := q.Conditions[0]
	if c.Column != d.opts.IDColumn || c.Operator != rw.OpEq || c.Value == nil {
		return nil, false
	}
	return c.Value, true
}

func (d *Driver) getItem(ctx context.Context, resource string, id any) (map[string]any, error) {
	d.mu.Lock()
	if av, ok := d.pending[d.keyString(resource, id)]; ok {
		d.mu.Unlock()
		if av == nil {
			return nil, nil
		}
		return d.unmarshal(av)
	}
	d.mu.Unlock()

	d.log.Debug(fmt.Sprintf(`DynamoDB get "%s"`, resource), map[string]any{"id": match.Key(id)})
	out, err := d.client.GetItem(ctx, &ddb.GetItemInput{
		TableName:      aws.String(d.opts.Table),
		Key:            d.itemKey(resource, id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("get", resource, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	return d.unmarshal(out.Item)
}

// buildScan renders the conditions DynamoDB can evaluate into a
// FilterExpression and returns the rest for client-side evaluation.
func (d *Driver) buildScan(q *rw.Query, count bool) (*ddb.ScanInput, []rw.Condition, error) {
	e := newExpression()
	e.filters = append(e.filters, fmt.Sprintf("%s = %s", e.name(d.opts.TypeField), e.value(&types.AttributeValueMemberS{Value: q.Resource})))

	var local []rw.Condition
	for _, c := range q.Conditions {
		ok, err := e.addCondition(c)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			local = append(local, c)
		}
	}
	input := &ddb.ScanInput{
		TableName:                 aws.String(d.opts.Table),
		FilterExpression:          aws.String(strings.Join(e.filters, " AND ")),
		ExpressionAttributeNames:  e.names,
		ExpressionAttributeValues: e.values,
		ConsistentRead:            aws.Bool(true),
	}
	if count {
		input.Select = types.SelectCount
	}
	return input, local, nil
}

// Count sums Scan counts across pages. Queries needing client-side
// evaluation are counted from their rows.
func (d *Driver) Count(ctx context.Context, q *rw.Query) (int, error) {
	if _, ok := d.idLookup(q); ok {
		rows, err := d.selectRows(ctx, &rw.Query{Resource: q.Resource, Conditions: q.Conditions})
		return len(rows), err
	}
	scan, local, err := d.buildScan(q, true)
	if err != nil {
		return 0, err
	}
	if len(local) > 0 {
		rows, err := d.selectRows(ctx, &rw.Query{Resource: q.Resource, Conditions: q.Conditions})
		return len(rows), err
	}
	total := 0
	for {
		out, err := d.client.Scan(ctx, scan)
		if err != nil {
			return 0, classify("count", q.Resource, err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		scan.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// ─── Writes ─────────────────────────────────────────────────────────────────

// Insert puts a new item. Items without an id get one from NewID.
func (d *Driver) Insert(ctx context.Context, resource, idColumn string, values []rw.Value) (any, error) {
	if idColumn == "" {
		idColumn = d.opts.IDColumn
	}
	var id any
	for _, v := range values {
		if v.Column == idColumn && v.Value != nil {
			id = v.Value
		}
	}
	if id == nil {
		id = d.opts.NewID()
	}

	item := d.itemKey(resource, id)
	item[d.opts.TypeField] = &types.AttributeValueMemberS{Value: resource}
	idAV, err := marshalValue(id)
	if err != nil {
		return nil, err
	}
	item[idColumn] = idAV
	for _, v := range values {
		if v.Value == nil || v.Column == idColumn {
			continue
		}
		av, err := marshalValue(v.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", v.Column, err)
		}
		item[v.Column] = av
	}

	e := newExpression()
	put := &ddb.PutItemInput{
		TableName:                aws.String(d.opts.Table),
		Item:                     item,
		ConditionExpression:      aws.String(fmt.Sprintf("attribute_not_exists(%s)", e.name(d.opts.KeyField))),
		ExpressionAttributeNames: e.names,
	}
	if d.buffer(d.keyString(resource, id), item, types.TransactWriteItem{Put: &types.Put{
		TableName:                put.TableName,
		Item:                     put.Item,
		ConditionExpression:      put.ConditionExpression,
		ExpressionAttributeNames: put.ExpressionAttributeNames,
	}}) {
		return id, nil
	}

	d.log.Debug(fmt.Sprintf(`DynamoDB put "%s"`, resource), map[string]any{"id": match.Key(id)})
	if _, err := d.client.PutItem(ctx, put); err != nil {
		return nil, classify("put", resource, err)
	}
	return id, nil
}

// Update sets the given values on an existing item; nil values are removed.
func (d *Driver) Update(ctx context.Context, resource string, key rw.Value, values []rw.Value) error {
	e := newExpression()
	var set, remove []string
	for _, v := range values {
		if v.Column == key.Column {
			continue
		}
		if v.Value == nil {
			remove = append(remove, e.name(v.Column))
			continue
		}
		av, err := marshalValue(v.Value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", v.Column, err)
		}
		set = append(set, fmt.Sprintf("%s = %s", e.name(v.Column), e.value(av)))
	}
	if len(set) == 0 && len(remove) == 0 {
		return nil
	}
	var clauses []string
	if len(set) > 0 {
		clauses = append(clauses, "set "+strings.Join(set, ", "))
	}
	if len(remove) > 0 {
		clauses = append(clauses, "remove "+strings.Join(remove, ", "))
	}
	update := &ddb.UpdateItemInput{
		TableName:                 aws.String(d.opts.Table),
		Key:                       d.itemKey(resource, key.Value),
		UpdateExpression:          aws.String(strings.Join(clauses, " ")),
		ConditionExpression:       aws.String(fmt.Sprintf("attribute_exists(%s)", e.name(d.opts.KeyField))),
		ExpressionAttributeNames:  e.names,
		ExpressionAttributeValues: e.values,
	}
	if len(update.ExpressionAttributeValues) == 0 {
		update.ExpressionAttributeValues = nil
	}

	if d.bufferUpdate(d.keyString(resource, key.Value), values, key.Column, types.TransactWriteItem{Update: &types.Update{
		TableName:                 update.TableName,
		Key:                       update.Key,
		UpdateExpression:          update.UpdateExpression,
		ConditionExpression:       update.ConditionExpression,
		ExpressionAttributeNames:  update.ExpressionAttributeNames,
		ExpressionAttributeValues: update.ExpressionAttributeValues,
	}}) {
		return nil
	}

	d.log.Debug(fmt.Sprintf(`DynamoDB update "%s"`, resource), map[string]any{"id": match.Key(key.Value)})
	if _, err := d.client.UpdateItem(ctx, update); err != nil {
		return classify("update", resource, err)
	}
	return nil
}

// Delete removes an item by id.
func (d *Driver) Delete(ctx context.Context, resource string, key rw.Value) error {
	input := &ddb.DeleteItemInput{
		TableName: aws.String(d.opts.Table),
		Key:       d.itemKey(resource, key.Value),
	}
	if d.buffer(d.keyString(resource, key.Value), nil, types.TransactWriteItem{Delete: &types.Delete{
		TableName: input.TableName,
		Key:       input.Key,
	}}) {
		return nil
	}
	d.log.Debug(fmt.Sprintf(`DynamoDB delete "%s"`, resource), map[string]any{"id": match.Key(key.Value)})
	if _, err := d.client.DeleteItem(ctx, input); err != nil {
		return classify("delete", resource, err)
	}
	return nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

// Begin starts buffering writes. Reads by id see buffered writes; scans do
// not.
func (d *Driver) Begin(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inTx {
		return rw.NewError("DynamoDB transactions cannot be nested", rw.WithCode(rw.ErrNotSupported))
	}
	d.inTx = true
	d.tx = nil
	d.pending = map[string]map[string]types.AttributeValue{}
	return nil
}

// Commit writes all buffered operations atomically with TransactWriteItems.
func (d *Driver) Commit(ctx context.Context) error {
	d.mu.Lock()
	items := d.tx
	inTx := d.inTx
	d.tx, d.pending, d.inTx = nil, nil, false
	d.mu.Unlock()

	if !inTx {
		return rw.NewError("No transaction to commit", rw.WithCode(rw.ErrArgument))
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) > maxTransactItems {
		return rw.NewError(fmt.Sprintf("Transaction holds %d writes, DynamoDB allows %d", len(items), maxTransactItems),
			rw.WithCode(rw.ErrNotSupported))
	}
	d.log.Debug("DynamoDB transact write", map[string]any{"items": len(items)})
	if _, err := d.client.TransactWriteItems(ctx, &ddb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return classify("transactWrite", d.opts.Table, err)
	}
	return nil
}

// Rollback discards all buffered operations.
func (d *Driver) Rollback(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inTx {
		return rw.NewError("No transaction to roll back", rw.WithCode(rw.ErrArgument))
	}
	d.tx, d.pending, d.inTx = nil, nil, false
	return nil
}

const maxTransactItems = 100

// buffer queues a write when a transaction is open. item is the resulting
// stored item, nil for a delete.
func (d *Driver) buffer(key string, item map[string]types.AttributeValue, op types.TransactWriteItem) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inTx {
		return false
	}
	d.tx = append(d.tx, op)
	d.pending[key] = item
	return true
}

func (d *Driver) bufferUpdate(key string, values []rw.Value, idColumn string, op types.TransactWriteItem) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.inTx {
		return false
	}
	d.tx = append(d.tx, op)
	if prior, ok := d.pending[key]; ok && prior != nil {
		for _, v := range values {
			if v.Column == idColumn {
				continue
			}
			if v.Value == nil {
				delete(prior, v.Column)
				continue
			}
			if av, err := marshalValue(v.Value); err == nil {
				prior[v.Column] = av
			}
		}
	}
	return true
}

// classify wraps a client error, naming the well-known DynamoDB failures.
func classify(op, resource string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ConditionalCheckFailedException") && op == "put":
		return rw.NewError(fmt.Sprintf(`Item already exists in "%s"`, resource), rw.WithCode(rw.ErrIntegrity), rw.WithCause(err))
	case strings.Contains(msg, "ConditionalCheckFailedException") && op == "update":
		return rw.NewError(fmt.Sprintf(`Item to update does not exist in "%s"`, resource), rw.WithCode(rw.ErrNotFound), rw.WithCause(err))
	case strings.Contains(msg, "TransactionCanceledException"):
		return rw.NewError("Transaction cancelled", rw.WithCode(rw.ErrIntegrity), rw.WithCause(err))
	}
	return fmt.Errorf("dynamodb %s %s: %w", op, resource, err)
}
