package filedriver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	rw "github.com/enyo/rincewind-sub000"
	"github.com/enyo/rincewind-sub000/internal/match"
	"github.com/enyo/rincewind-sub000/internal/uid"
)

// Source is a file-backed row store. Conditions and sort fields use storage
// column names.
type Source interface {
	// View returns the first row matching conds, nil when there is none.
	View(ctx context.Context, resource string, conds []rw.Condition) (map[string]any, error)
	ViewList(ctx context.Context, resource string, conds []rw.Condition, sort []rw.SortField, offset, limit int) ([]map[string]any, error)
	// Insert stores a row and returns its id, generating one when the row
	// carries none.
	Insert(ctx context.Context, resource, idColumn string, row map[string]any) (any, error)
	Update(ctx context.Context, resource string, key rw.Value, values map[string]any) error
	Delete(ctx context.Context, resource string, key rw.Value) error
	TotalCount(ctx context.Context, resource string) (int, error)
}

// DirSource keeps each resource in "<Dir>/<resource>.<ext>".
type DirSource struct {
	Dir   string
	Codec Codec
	// NewID generates ids for rows without one. Nil means integer
	// auto-increment.
	NewID uid.Generator

	mu sync.Mutex
}

// NewDirSource creates the directory if needed.
func NewDirSource(dir string, codec Codec) (*DirSource, error) {
	if codec == nil {
		codec = JSONCodec{Indent: true}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create source dir: %w", err)
	}
	return &DirSource{Dir: dir, Codec: codec}, nil
}

func (s *DirSource) path(resource string) string {
	return filepath.Join(s.Dir, resource+"."+s.Codec.Ext())
}

// load reads a resource; a missing file is an empty resource.
func (s *DirSource) load(resource string) ([]map[string]any, error) {
	b, err := os.ReadFile(s.path(resource))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.Codec.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path(resource), err)
	}
	return rows, nil
}

// store replaces a resource file through a temporary file and rename.
func (s *DirSource) store(resource string, rows []map[string]any) error {
	b, err := s.Codec.Encode(rows)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, "."+resource+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(resource))
}

func (s *DirSource) View(_ context.Context, resource string, conds []rw.Condition) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load(resource)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if match.All(row, conds) {
			return row, nil
		}
	}
	return nil, nil
}

func (s *DirSource) ViewList(_ context.Context, resource string, conds []rw.Condition, sort []rw.SortField, offset, limit int) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load(resource)
	if err != nil {
		return nil, err
	}
	return match.Apply(rows, &rw.Query{Resource: resource, Conditions: conds, Sort: sort, Offset: offset, Limit: limit}), nil
}

func (s *DirSource) Insert(_ context.Context, resource, idColumn string, row map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load(resource)
	if err != nil {
		return nil, err
	}

	id := row[idColumn]
	if id == nil {
		id = s.nextID(rows, idColumn)
	}
	for _, r := range rows {
		if match.Key(r[idColumn]) == match.Key(id) {
			return nil, rw.NewError(fmt.Sprintf(`Row "%s" already exists in "%s"`, match.Key(id), resource),
				rw.WithCode(rw.ErrIntegrity))
		}
	}

	stored := make(map[string]any, len(row)+1)
	for k, v := range row {
		stored[k] = v
	}
	stored[idColumn] = id
	if err := s.store(resource, append(rows, stored)); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *DirSource) nextID(rows []map[string]any, idColumn string) any {
	if s.NewID != nil {
		return s.NewID()
	}
	var top int64
	for _, r := range rows {
		if n, ok := toInt(r[idColumn]); ok && n > top {
			top = n
		}
	}
	return top + 1
}

func (s *DirSource) Update(_ context.Context, resource string, key rw.Value, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load(resource)
	if err != nil {
		return err
	}
	i := indexOf(rows, key)
	if i < 0 {
		return rw.NewError(fmt.Sprintf(`No row to update in "%s"`, resource), rw.WithCode(rw.ErrNotFound),
			rw.WithContext(map[string]any{"id": match.Key(key.Value)}))
	}
	for k, v := range values {
		if k != key.Column {
			rows[i][k] = v
		}
	}
	return s.store(resource, rows)
}

func (s *DirSource) Delete(_ context.Context, resource string, key rw.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load(resource)
	if err != nil {
		return err
	}
	i := indexOf(rows, key)
	if i < 0 {
		return nil
	}
	return s.store(resource, append(rows[:i], rows[i+1:]...))
}

func (s *DirSource) TotalCount(_ context.Context, resource string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.load(resource)
	return len(rows), err
}

func indexOf(rows []map[string]any, key rw.Value) int {
	want := match.Key(key.Value)
	for i, r := range rows {
		if match.Key(r[key.Column]) == want {
			return i
		}
	}
	return -1
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
