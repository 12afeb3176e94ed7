package rincewind_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rw "github.com/enyo/rincewind-sub000"
)

func TestNameMapping(t *testing.T) {
	m := rw.NewNameMapping(
		map[string]string{"bad_name": "goodName"},
		map[string]string{"other": "other_col"},
	)
	assert.Equal(t, "goodName", m.ToAppName("bad_name"))
	assert.Equal(t, "bad_name", m.ToStorageName("goodName"))
	assert.Equal(t, "other_col", m.ToStorageName("other"))
	assert.Equal(t, "other", m.ToAppName("other_col"))
	assert.Equal(t, "plain", m.ToStorageName("plain"))
	assert.Equal(t, "plain", m.ToAppName("plain"))

	var none *rw.NameMapping
	assert.Equal(t, "x", none.ToStorageName("x"))
	assert.Equal(t, "x", none.ToAppName("x"))
}

func testResourceDao(t *testing.T) *rw.Dao {
	t.Helper()
	dao, err := rw.New(rw.Definition{
		Name:       "test",
		Resource:   "test_resource_name",
		Attributes: map[string]rw.AttributeType{"id": rw.Int, "name": rw.Text, "integer": rw.Int},
	}, rw.Options{})
	require.NoError(t, err)
	return dao
}

func TestGenerateQuery(t *testing.T) {
	dao := testResourceDao(t)

	q, err := dao.GenerateQuery(rw.Predicate{"name": "TEST", "integer": 17}, nil)
	require.NoError(t, err)
	assert.Equal(t, &rw.Query{
		Resource: "test_resource_name",
		Conditions: []rw.Condition{
			{Column: "integer", Operator: rw.OpEq, Value: int64(17), Type: rw.Int},
			{Column: "name", Operator: rw.OpEq, Value: "TEST", Type: rw.Text},
		},
	}, q)

	q, err = dao.GenerateQuery(rw.Predicate{"integer": "17"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(17), q.Conditions[0].Value)

	_, err = dao.GenerateQuery(rw.Predicate{"integer": "17abc"}, nil)
	assert.True(t, rw.HasCode(err, rw.ErrArgument), "got %v", err)
}

func TestGenerateQueryNulls(t *testing.T) {
	dao := testResourceDao(t)

	q, err := dao.GenerateQuery(rw.Predicate{
		"integer": nil,
		"name":    rw.Ne("name", nil),
	}, &rw.Params{Sort: "name DESC", Offset: 20, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []rw.Condition{
		{Column: "integer", Operator: rw.OpNull, Type: rw.Int},
		{Column: "name", Operator: rw.OpNotNull, Type: rw.Text},
	}, q.Conditions)
	assert.Equal(t, []rw.SortField{{Column: "name", Desc: true}}, q.Sort)
	assert.Equal(t, 20, q.Offset)
	assert.Equal(t, 10, q.Limit)

	// any operator on null is a null test
	q, err = dao.GenerateQuery(rw.Predicate{"integer": rw.Gt("integer", nil)}, nil)
	require.NoError(t, err)
	assert.Equal(t, rw.OpNull, q.Conditions[0].Operator)
}

func TestGenerateQueryOperators(t *testing.T) {
	dao := testResourceDao(t)

	q, err := dao.GenerateQuery(rw.Predicate{
		"a": rw.Gte("integer", 3),
		"b": rw.Lt("integer", "10"),
		"c": rw.Like("name", "Ri%"),
		"d": rw.Assignment{Attribute: "name", Operator: "!=", Value: "Rincewind"},
		"e": &rw.Assignment{Attribute: "id", Operator: "==", Value: 1},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []rw.Condition{
		{Column: "integer", Operator: rw.OpGte, Value: int64(3), Type: rw.Int},
		{Column: "integer", Operator: rw.OpLt, Value: int64(10), Type: rw.Int},
		{Column: "name", Operator: rw.OpLike, Value: "Ri%", Type: rw.Text},
		{Column: "name", Operator: rw.OpNe, Value: "Rincewind", Type: rw.Text},
		{Column: "id", Operator: rw.OpEq, Value: int64(1), Type: rw.Int},
	}, q.Conditions)

	_, err = dao.GenerateQuery(rw.Predicate{"name": rw.Assignment{Operator: "~", Value: "x"}}, nil)
	assert.True(t, rw.HasCode(err, rw.ErrArgument))

	_, err = dao.GenerateQuery(nil, &rw.Params{Offset: -1})
	assert.True(t, rw.HasCode(err, rw.ErrArgument))
}

func TestGenerateQueryRaw(t *testing.T) {
	dao := testResourceDao(t)
	q, err := dao.GenerateQuery(rw.Predicate{"integer": "17abc"}, &rw.Params{Raw: true})
	require.NoError(t, err)
	assert.Equal(t, "17abc", q.Conditions[0].Value)
}

func TestUnknownAttributeIsConfigError(t *testing.T) {
	f := newFixture(t)
	users := f.dao(t, "user")
	pred := rw.Predicate{"nmae": "Rincewind"}

	_, err := users.Get(bg(), pred, nil)
	assert.True(t, rw.IsConfigError(err), "get: %v", err)
	_, err = users.Find(bg(), pred, nil)
	assert.True(t, rw.IsConfigError(err), "find: %v", err)
	_, err = users.GetIterator(bg(), pred, nil)
	assert.True(t, rw.IsConfigError(err), "list: %v", err)
	_, err = users.Count(bg(), pred)
	assert.True(t, rw.IsConfigError(err), "count: %v", err)
	_, err = users.GetIterator(bg(), nil, &rw.Params{Sort: "nmae"})
	assert.True(t, rw.IsConfigError(err), "sort: %v", err)

	assert.Empty(t, f.drv.calls)
}

func TestStorageNamesInQuery(t *testing.T) {
	f := newFixture(t)
	users := f.dao(t, "user")

	q, err := users.GenerateQuery(rw.Predicate{"addressId": "3"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "users", q.Resource)
	assert.Equal(t, []rw.Condition{{Column: "address_id", Operator: rw.OpEq, Value: int64(3), Type: rw.Int}}, q.Conditions)
	assert.Equal(t, []rw.SortField{{Column: "name"}}, q.Sort)
}

func TestGenerateSort(t *testing.T) {
	users := newFixture(t).dao(t, "user")

	for _, tc := range []struct {
		spec any
		want []rw.SortField
	}{
		{"name", []rw.SortField{{Column: "name"}}},
		{"defaultValue DESC", []rw.SortField{{Column: "default_value", Desc: true}}},
		{"age desc, name", []rw.SortField{{Column: "age", Desc: true}, {Column: "name"}}},
		{map[string]string{"name": "asc", "age": "DESC"}, []rw.SortField{{Column: "age", Desc: true}, {Column: "name"}}},
		{[]string{"addressId DESC", "name"}, []rw.SortField{{Column: "address_id", Desc: true}, {Column: "name"}}},
		{rw.SortField{Column: "age"}, []rw.SortField{{Column: "age"}}},
	} {
		got, err := users.GenerateSort(tc.spec)
		if assert.NoError(t, err, "%v", tc.spec) {
			assert.Equal(t, tc.want, got, "%v", tc.spec)
		}
	}

	_, err := users.GenerateSort("name sideways")
	assert.True(t, rw.HasCode(err, rw.ErrArgument))
	_, err = users.GenerateSort(42)
	assert.True(t, rw.HasCode(err, rw.ErrArgument))

	// an empty spec overrides the default sort
	q, err := users.GenerateQuery(nil, &rw.Params{Sort: []rw.SortField{}})
	require.NoError(t, err)
	assert.Empty(t, q.Sort)
}

func TestReferencePredicates(t *testing.T) {
	f := newFixture(t)
	seedWorld(f)
	users, addresses := f.dao(t, "user"), f.dao(t, "address")

	// a to-one with a local key is queried through that key
	q, err := users.GenerateQuery(rw.Predicate{"address": 123}, nil)
	require.NoError(t, err)
	assert.Equal(t, []rw.Condition{{Column: "address_id", Operator: rw.OpEq, Value: int64(123), Type: rw.Int}}, q.Conditions)

	elm := addresses.RecordFromData(map[string]any{"id": 123, "street": "Elm Street"})
	q, err = users.GenerateQuery(rw.Predicate{"address": elm}, nil)
	require.NoError(t, err)
	assert.Equal(t, []rw.Condition{{Column: "address_id", Operator: rw.OpEq, Value: int64(123), Type: rw.Int}}, q.Conditions)

	q, err = users.GenerateQuery(rw.Predicate{"address": nil}, nil)
	require.NoError(t, err)
	assert.Equal(t, []rw.Condition{{Column: "address_id", Operator: rw.OpNull, Type: rw.Int}}, q.Conditions)

	rincewind, err := users.Find(bg(), rw.Predicate{"address": 123}, nil)
	require.NoError(t, err)
	require.NotNil(t, rincewind)
	assert.Equal(t, "Rincewind", rincewind.String("name"))

	f.drv.reset()
	for _, name := range []string{"posts", "groups"} {
		_, err = users.GenerateQuery(rw.Predicate{name: 1}, nil)
		assert.True(t, rw.IsConfigError(err), "%s: got %v", name, err)
	}
	assert.Empty(t, f.drv.calls)
}
