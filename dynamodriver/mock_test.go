package dynamodriver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ─── mock client ────────────────────────────────────────────────────────────

// mockClient is an in-memory DynamoDB substitute for one-table layouts keyed
// by "pk". Scans return pages of pageSize items.
type mockClient struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	calls    map[string]int
	pageSize int
	fail     error
}

func newMockClient() *mockClient {
	return &mockClient{
		items:    map[string]map[string]types.AttributeValue{},
		calls:    map[string]int{},
		pageSize: 100,
	}
}

func (m *mockClient) called(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func pkOf(item map[string]types.AttributeValue) string {
	if s, ok := item["pk"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (m *mockClient) GetItem(_ context.Context, p *ddb.GetItemInput, _ ...func(*ddb.Options)) (*ddb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetItem"]++
	if m.fail != nil {
		return nil, m.fail
	}
	return &ddb.GetItemOutput{Item: m.items[pkOf(p.Key)]}, nil
}

func (m *mockClient) PutItem(_ context.Context, p *ddb.PutItemInput, _ ...func(*ddb.Options)) (*ddb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["PutItem"]++
	if err := m.checkCondition(pkOf(p.Item), deref(p.ConditionExpression)); err != nil {
		return nil, err
	}
	m.items[pkOf(p.Item)] = p.Item
	return &ddb.PutItemOutput{}, nil
}

func (m *mockClient) UpdateItem(_ context.Context, p *ddb.UpdateItemInput, _ ...func(*ddb.Options)) (*ddb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["UpdateItem"]++
	key := pkOf(p.Key)
	if err := m.checkCondition(key, deref(p.ConditionExpression)); err != nil {
		return nil, err
	}
	m.applyUpdate(key, deref(p.UpdateExpression), p.ExpressionAttributeNames, p.ExpressionAttributeValues)
	return &ddb.UpdateItemOutput{}, nil
}

func (m *mockClient) DeleteItem(_ context.Context, p *ddb.DeleteItemInput, _ ...func(*ddb.Options)) (*ddb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["DeleteItem"]++
	delete(m.items, pkOf(p.Key))
	return &ddb.DeleteItemOutput{}, nil
}

func (m *mockClient) Scan(_ context.Context, p *ddb.ScanInput, _ ...func(*ddb.Options)) (*ddb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Scan"]++
	if m.fail != nil {
		return nil, m.fail
	}

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	start := pkOf(p.ExclusiveStartKey)

	out := &ddb.ScanOutput{}
	scanned, last := 0, ""
	for _, k := range keys {
		if start != "" && k <= start {
			continue
		}
		if scanned == m.pageSize {
			out.LastEvaluatedKey = map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: last}}
			break
		}
		scanned++
		last = k
		item := m.items[k]
		if evalFilter(item, deref(p.FilterExpression), p.ExpressionAttributeNames, p.ExpressionAttributeValues) {
			out.Count++
			if p.Select != types.SelectCount {
				out.Items = append(out.Items, item)
			}
		}
	}
	out.ScannedCount = int32(scanned)
	return out, nil
}

func (m *mockClient) TransactWriteItems(_ context.Context, p *ddb.TransactWriteItemsInput, _ ...func(*ddb.Options)) (*ddb.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["TransactWriteItems"]++
	for _, ti := range p.TransactItems {
		switch {
		case ti.Put != nil:
			if err := m.checkCondition(pkOf(ti.Put.Item), deref(ti.Put.ConditionExpression)); err != nil {
				return nil, fmt.Errorf("TransactionCanceledException: %w", err)
			}
		case ti.Update != nil:
			if err := m.checkCondition(pkOf(ti.Update.Key), deref(ti.Update.ConditionExpression)); err != nil {
				return nil, fmt.Errorf("TransactionCanceledException: %w", err)
			}
		}
	}
	for _, ti := range p.TransactItems {
		switch {
		case ti.Put != nil:
			m.items[pkOf(ti.Put.Item)] = ti.Put.Item
		case ti.Update != nil:
			m.applyUpdate(pkOf(ti.Update.Key), deref(ti.Update.UpdateExpression),
				ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues)
		case ti.Delete != nil:
			delete(m.items, pkOf(ti.Delete.Key))
		}
	}
	return &ddb.TransactWriteItemsOutput{}, nil
}

// checkCondition supports the two conditions the driver writes.
func (m *mockClient) checkCondition(key, cond string) error {
	_, exists := m.items[key]
	switch {
	case strings.HasPrefix(cond, "attribute_not_exists") && exists:
		return fmt.Errorf("ConditionalCheckFailedException: %s exists", key)
	case strings.HasPrefix(cond, "attribute_exists") && !exists:
		return fmt.Errorf("ConditionalCheckFailedException: %s missing", key)
	}
	return nil
}

// applyUpdate handles "set #a = :a, #b = :b remove #c, #d".
func (m *mockClient) applyUpdate(key, expr string, names map[string]string, vals map[string]types.AttributeValue) {
	item := m.items[key]
	if item == nil {
		return
	}
	setPart, removePart := expr, ""
	if i := strings.Index(expr, "remove "); i >= 0 {
		setPart, removePart = expr[:i], expr[i+len("remove "):]
	}
	setPart = strings.TrimPrefix(strings.TrimSpace(setPart), "set ")
	for _, assignment := range strings.Split(setPart, ",") {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			continue
		}
		item[names[strings.TrimSpace(parts[0])]] = vals[strings.TrimSpace(parts[1])]
	}
	for _, tok := range strings.Split(removePart, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			delete(item, names[tok])
		}
	}
}

// ─── filter evaluation ──────────────────────────────────────────────────────

// evalFilter evaluates the AND-joined filters the driver produces:
// comparisons, attribute_exists, attribute_not_exists, begins_with, contains.
func evalFilter(item map[string]types.AttributeValue, expr string, names map[string]string, vals map[string]types.AttributeValue) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}
	for _, clause := range strings.Split(expr, " AND ") {
		if !evalClause(item, strings.TrimSpace(clause), names, vals) {
			return false
		}
	}
	return true
}

func evalClause(item map[string]types.AttributeValue, clause string, names map[string]string, vals map[string]types.AttributeValue) bool {
	fn := func(prefix string) (string, string, bool) {
		if !strings.HasPrefix(clause, prefix+"(") {
			return "", "", false
		}
		inner := strings.TrimSuffix(strings.TrimPrefix(clause, prefix+"("), ")")
		attr, val, _ := strings.Cut(inner, ",")
		return names[strings.TrimSpace(attr)], strings.TrimSpace(val), true
	}
	if attr, _, ok := fn("attribute_not_exists"); ok {
		_, exists := item[attr]
		return !exists
	}
	if attr, _, ok := fn("attribute_exists"); ok {
		_, exists := item[attr]
		return exists
	}
	if attr, val, ok := fn("begins_with"); ok {
		s, isStr := avValue(item[attr]).(string)
		return isStr && strings.HasPrefix(s, avValue(vals[val]).(string))
	}
	if attr, val, ok := fn("contains"); ok {
		s, isStr := avValue(item[attr]).(string)
		return isStr && strings.Contains(s, avValue(vals[val]).(string))
	}

	fields := strings.Fields(clause)
	if len(fields) != 3 {
		return false
	}
	got, ok := item[names[fields[0]]]
	if !ok {
		return false
	}
	cmp := compareAV(got, vals[fields[2]])
	switch fields[1] {
	case "=":
		return cmp == 0
	case "<>":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}

func avValue(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		f, _ := strconv.ParseFloat(v.Value, 64)
		return f
	case *types.AttributeValueMemberBOOL:
		return v.Value
	}
	return nil
}

func compareAV(a, b types.AttributeValue) int {
	x, y := avValue(a), avValue(b)
	if xf, ok := x.(float64); ok {
		if yf, ok := y.(float64); ok {
			switch {
			case xf < yf:
				return -1
			case xf > yf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(x), fmt.Sprint(y))
}
