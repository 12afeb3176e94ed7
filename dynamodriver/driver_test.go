package dynamodriver

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rw "github.com/enyo/rincewind-sub000"
)

var reULID = regexp.MustCompile(`^[0-9A-HJKMNP-TV-Z]{26}$`)

func bg() context.Context { return context.Background() }

func newTestDriver(t *testing.T, opts Options) (*Driver, *mockClient) {
	t.Helper()
	mock := newMockClient()
	if opts.Table == "" {
		opts.Table = "test"
	}
	d, err := New(mock, opts)
	require.NoError(t, err)
	return d, mock
}

func userDao(t *testing.T, d *Driver) *rw.Dao {
	t.Helper()
	dao, err := rw.New(rw.Definition{
		Name:     "user",
		Resource: "users",
		Attributes: map[string]rw.AttributeType{
			"id":     rw.Text,
			"name":   rw.Text,
			"age":    rw.Int,
			"joined": rw.Date,
		},
		NullAttributes:         []string{"age", "joined"},
		DefaultValueAttributes: []string{"id"},
		DefaultSort:            "name",
	}, rw.Options{Driver: d})
	require.NoError(t, err)
	return dao
}

func seedUsers(t *testing.T, dao *rw.Dao) {
	t.Helper()
	for _, u := range []rw.Item{
		{"name": "Ada", "age": 36},
		{"name": "Alan", "age": 41},
		{"name": "Grace", "age": 85},
		{"name": "Linus", "age": nil},
		{"name": "Barbara", "age": 30},
	} {
		rec := dao.RawRecord()
		require.NoError(t, rec.SetAll(u))
		require.NoError(t, rec.Save(bg()))
	}
}

func names(t *testing.T, it *rw.ResultIterator) []string {
	t.Helper()
	var out []string
	for rec, err := range it.All(bg()) {
		require.NoError(t, err)
		out = append(out, rec.String("name"))
	}
	return out
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(nil, Options{Table: "x"})
	assert.True(t, rw.HasCode(err, rw.ErrArgument))

	_, err = New(newMockClient(), Options{})
	assert.True(t, rw.HasCode(err, rw.ErrArgument))
}

func TestInsertGeneratesIDAndRefetchesByID(t *testing.T) {
	d, mock := newTestDriver(t, Options{})
	dao := userDao(t, d)

	rec := dao.RawRecord()
	require.NoError(t, rec.Set("name", "Ada"))
	require.NoError(t, rec.Set("age", 36))

	saved, err := dao.Insert(bg(), rec)
	require.NoError(t, err)

	assert.Regexp(t, reULID, saved.String("id"))
	assert.Equal(t, int64(36), saved.Int("age"))
	assert.True(t, saved.ExistsInDatabase())
	assert.Equal(t, 1, mock.called("PutItem"))
	assert.Equal(t, 1, mock.called("GetItem"))
	assert.Equal(t, 0, mock.called("Scan"))

	stored := mock.items["users#"+saved.String("id")]
	require.NotNil(t, stored, spew.Sdump(mock.items))
	assert.Equal(t, &types.AttributeValueMemberS{Value: "users"}, stored["_type"])
	_, hasJoined := stored["joined"]
	assert.False(t, hasJoined, "null attributes are not written")
}

func TestInsertExistingIDIsIntegrityError(t *testing.T) {
	d, _ := newTestDriver(t, Options{})
	values := []rw.Value{{Column: "id", Value: "u1"}, {Column: "name", Value: "Ada"}}

	_, err := d.Insert(bg(), "users", "id", values)
	require.NoError(t, err)
	_, err = d.Insert(bg(), "users", "id", values)
	assert.True(t, rw.HasCode(err, rw.ErrIntegrity), "got %v", err)
}

func TestScanFiltersSortsAndPages(t *testing.T) {
	d, mock := newTestDriver(t, Options{})
	dao := userDao(t, d)
	seedUsers(t, dao)
	_, err := d.Insert(bg(), "posts", "id", []rw.Value{{Column: "id", Value: "p1"}, {Column: "name", Value: "Alan"}})
	require.NoError(t, err)

	mock.pageSize = 2
	before := mock.called("Scan")

	it, err := dao.GetIterator(bg(), rw.Predicate{"age": rw.Gte("age", 30)}, &rw.Params{Sort: "age DESC", Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alan", "Ada"}, names(t, it))
	assert.Equal(t, 3, mock.called("Scan")-before, "six items in pages of two")

	all, err := dao.GetIterator(bg(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada", "Alan", "Barbara", "Grace", "Linus"}, names(t, all))
}

func TestLikeTranslation(t *testing.T) {
	d, _ := newTestDriver(t, Options{})

	scan, local, err := d.buildScan(&rw.Query{Resource: "users", Conditions: []rw.Condition{
		{Column: "name", Operator: rw.OpLike, Value: "Al%"},
		{Column: "bio", Operator: rw.OpLike, Value: "%love%"},
		{Column: "nick", Operator: rw.OpLike, Value: "A_a"},
	}}, false)
	require.NoError(t, err)
	assert.Equal(t, "#_0 = :_0 AND begins_with(#_1, :_1) AND contains(#_2, :_2)", aws.ToString(scan.FilterExpression))
	assert.Equal(t, "_type", scan.ExpressionAttributeNames["#_0"])
	require.Len(t, local, 1)
	assert.Equal(t, "nick", local[0].Column)

	dao := userDao(t, d)
	seedUsers(t, dao)

	it, err := dao.GetIterator(bg(), rw.Predicate{"name": rw.Like("name", "A_a")}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada"}, names(t, it))

	it, err = dao.GetIterator(bg(), rw.Predicate{"name": rw.Like("name", "Al%")}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alan"}, names(t, it))
}

func TestNullConditions(t *testing.T) {
	d, _ := newTestDriver(t, Options{})
	dao := userDao(t, d)
	seedUsers(t, dao)

	it, err := dao.GetIterator(bg(), rw.Predicate{"age": nil}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Linus"}, names(t, it))

	it, err = dao.GetIterator(bg(), rw.Predicate{"age": rw.Ne("age", nil)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, it.Count())
}

func TestGetByIDUsesGetItem(t *testing.T) {
	d, mock := newTestDriver(t, Options{})
	dao := userDao(t, d)

	id, err := d.Insert(bg(), "users", "id", []rw.Value{{Column: "id", Value: "u1"}, {Column: "name", Value: "Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	rec, err := dao.GetByID(bg(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", rec.String("name"))
	assert.Equal(t, 1, mock.called("GetItem"))
	assert.Equal(t, 0, mock.called("Scan"))

	missing, err := dao.FindByID(bg(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateRemovesNulls(t *testing.T) {
	d, mock := newTestDriver(t, Options{})
	dao := userDao(t, d)

	rec := dao.RawRecord()
	require.NoError(t, rec.SetAll(rw.Item{"name": "Ada", "age": 36}))
	require.NoError(t, rec.Save(bg()))

	require.NoError(t, rec.Set("age", nil))
	require.NoError(t, rec.Set("name", "Ada L."))
	require.NoError(t, rec.Save(bg()))
	assert.Equal(t, 1, mock.called("UpdateItem"))

	stored := mock.items["users#"+rec.String("id")]
	_, hasAge := stored["age"]
	assert.False(t, hasAge)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "Ada L."}, stored["name"])

	err := d.Update(bg(), "users", rw.Value{Column: "id", Value: "ghost"}, []rw.Value{{Column: "name", Value: "x"}})
	assert.True(t, rw.IsNotFound(err), "got %v", err)
}

func TestDelete(t *testing.T) {
	d, mock := newTestDriver(t, Options{})
	dao := userDao(t, d)
	seedUsers(t, dao)

	it, err := dao.GetIterator(bg(), rw.Predicate{"name": "Grace"}, nil)
	require.NoError(t, err)
	grace, err := it.Record(bg())
	require.NoError(t, err)

	require.NoError(t, dao.DeleteByID(bg(), grace.ID()))
	assert.Equal(t, 1, mock.called("DeleteItem"))

	n, err := dao.Count(bg(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestTransactionsCommitAtomically(t *testing.T) {
	d, mock := newTestDriver(t, Options{})
	dao := userDao(t, d)

	require.NoError(t, dao.BeginTransaction(bg()))
	first := dao.RawRecord()
	require.NoError(t, first.Set("name", "Ada"))
	saved, err := dao.Insert(bg(), first)
	require.NoError(t, err, "the re-read sees the buffered put")
	assert.Equal(t, "Ada", saved.String("name"))

	second := dao.RawRecord()
	require.NoError(t, second.Set("name", "Alan"))
	require.NoError(t, second.Save(bg()))

	assert.Equal(t, 0, mock.called("PutItem"))
	assert.Empty(t, mock.items)

	err = dao.BeginTransaction(bg())
	assert.True(t, rw.HasCode(err, rw.ErrNotSupported), "nested transactions are rejected")

	require.NoError(t, dao.Commit(bg()))
	assert.Equal(t, 1, mock.called("TransactWriteItems"))
	assert.Len(t, mock.items, 2)
}

func TestTransactionsRollback(t *testing.T) {
	d, mock := newTestDriver(t, Options{})
	dao := userDao(t, d)

	require.NoError(t, dao.BeginTransaction(bg()))
	rec := dao.RawRecord()
	require.NoError(t, rec.Set("name", "Ada"))
	require.NoError(t, rec.Save(bg()))
	require.NoError(t, dao.Rollback(bg()))

	assert.Empty(t, mock.items)
	assert.Equal(t, 0, mock.called("TransactWriteItems"))
	assert.Error(t, dao.Commit(bg()), "no open transaction")
}

func TestCount(t *testing.T) {
	d, _ := newTestDriver(t, Options{})
	dao := userDao(t, d)
	seedUsers(t, dao)

	n, err := dao.Count(bg(), rw.Predicate{"age": rw.Gte("age", 40)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = dao.Count(bg(), rw.Predicate{"name": rw.Like("name", "A_a")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDates(t *testing.T) {
	at := time.Date(2024, 5, 17, 13, 45, 0, 0, time.UTC)

	d, _ := newTestDriver(t, Options{})
	assert.Equal(t, at.UnixMilli(), d.FormatDate(at, true))
	assert.Equal(t, time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC).UnixMilli(), d.FormatDate(at, false))

	parsed, err := d.ParseDate(float64(at.UnixMilli()), true)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(at))

	iso, _ := newTestDriver(t, Options{IsoDates: true})
	assert.Equal(t, "2024-05-17T13:45:00Z", iso.FormatDate(at, true))
	parsed, err = iso.ParseDate("2024-05-17T13:45:00Z", true)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(at))

	dao := userDao(t, d)
	rec := dao.RawRecord()
	require.NoError(t, rec.SetAll(rw.Item{"name": "Ada", "joined": at}))
	require.NoError(t, rec.Save(bg()))
	assert.True(t, rec.Time("joined").Equal(time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC)), "joined = %v", rec.Time("joined"))
}

func TestBackendFailure(t *testing.T) {
	d, mock := newTestDriver(t, Options{})
	dao := userDao(t, d)
	mock.fail = errors.New("throughput exceeded")

	_, err := dao.GetIterator(bg(), nil, nil)
	require.Error(t, err)
	assert.True(t, rw.HasCode(err, rw.ErrBackend))
	assert.Contains(t, err.Error(), "throughput exceeded")
}
