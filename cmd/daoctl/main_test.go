package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rw "github.com/enyo/rincewind-sub000"
	"github.com/enyo/rincewind-sub000/internal/config"
)

func TestParsePredicate(t *testing.T) {
	pred, err := ParsePredicate([]string{"age>=18", "age<65", "name~Ri%", "deleted=null", "status!=idle"})
	require.NoError(t, err)
	assert.Equal(t, rw.Predicate{
		"age#0":     rw.Assignment{Attribute: "age", Operator: rw.OpGte, Value: "18"},
		"age#1":     rw.Assignment{Attribute: "age", Operator: rw.OpLt, Value: "65"},
		"name#2":    rw.Assignment{Attribute: "name", Operator: rw.OpLike, Value: "Ri%"},
		"deleted#3": rw.Assignment{Attribute: "deleted", Operator: rw.OpEq, Value: nil},
		"status#4":  rw.Assignment{Attribute: "status", Operator: rw.OpNe, Value: "idle"},
	}, pred)

	_, err = ParsePredicate([]string{"justaname"})
	assert.Error(t, err)
	_, err = ParsePredicate([]string{"=value"})
	assert.Error(t, err)
}

const definitions = `daos:
  - name: book
    attributes: {id: int, title: text, pages: int}
    nullAttributes: [pages]
    defaultValueAttributes: [id]
    defaultSort: title
`

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(data, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "book.json"),
		[]byte(`[{"id":1,"title":"Mort","pages":243},{"id":2,"title":"Eric","pages":155},{"id":3,"title":"Pyramids"}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "daos.yaml"), []byte(definitions), 0o644))

	cfg := "driver: file\ndir: " + data + "\ndefinitions: " + filepath.Join(dir, "daos.yaml") + "\n"
	path := filepath.Join(dir, "daoctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func runJSON(t *testing.T, cfg string, args ...string) any {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, false, args, &out))
	var v any
	require.NoError(t, json.Unmarshal(out.Bytes(), &v), out.String())
	return v
}

func TestCommands(t *testing.T) {
	cfg := setup(t)

	assert.Equal(t, []any{"book"}, runJSON(t, cfg, "daos"))

	rows := runJSON(t, cfg, "list", "-sort", "title DESC", "-limit", "2", "book").([]any)
	require.Len(t, rows, 2)
	assert.Equal(t, "Pyramids", rows[0].(map[string]any)["title"])
	assert.Equal(t, "Mort", rows[1].(map[string]any)["title"])

	rows = runJSON(t, cfg, "list", "book", "pages=null").([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "Pyramids", rows[0].(map[string]any)["title"])

	book := runJSON(t, cfg, "get", "book", "2").(map[string]any)
	assert.Equal(t, "Eric", book["title"])

	book = runJSON(t, cfg, "find", "book", "pages>200").(map[string]any)
	assert.Equal(t, "Mort", book["title"])

	assert.Equal(t, map[string]any{"count": float64(2)}, runJSON(t, cfg, "count", "book", "pages!=null"))

	runJSON(t, cfg, "delete", "book", "1")
	assert.Equal(t, map[string]any{"count": float64(2)}, runJSON(t, cfg, "count", "book"))

	err := run(context.Background(), cfg, false, []string{"get", "book", "1"}, &bytes.Buffer{})
	assert.True(t, rw.IsNotFound(err), "got %v", err)

	err = run(context.Background(), cfg, false, []string{"get", "author", "1"}, &bytes.Buffer{})
	assert.Error(t, err)

	err = run(context.Background(), cfg, false, []string{"frobnicate", "book"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown command")
}

func TestOpenDriverUsesConfiguredIDGenerator(t *testing.T) {
	ctx := context.Background()
	insert := func(cfg *config.Config) any {
		d, closeFn, err := openDriver(ctx, cfg, rw.NopLogger{})
		require.NoError(t, err)
		defer closeFn()
		id, err := d.Insert(ctx, "book", "id", []rw.Value{{Column: "title", Value: "Sourcery"}})
		require.NoError(t, err)
		return id
	}

	cfg := &config.Config{Driver: config.DriverFile, Dir: t.TempDir(), Format: "json", IDGenerator: "uuid"}
	id, ok := insert(cfg).(string)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	assert.NoError(t, err, id)

	// without a generator the file driver counts up
	cfg = &config.Config{Driver: config.DriverFile, Dir: t.TempDir(), Format: "json"}
	assert.EqualValues(t, 1, insert(cfg))

	cfg.IDGenerator = "uid(0)"
	_, _, err = openDriver(ctx, cfg, rw.NopLogger{})
	assert.ErrorContains(t, err, "invalid generator")
}
