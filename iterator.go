/*
Package rincewind – lazy result iteration.

A ResultIterator knows its length up front and materializes a Record only
when its position is read. Four sources feed it: executed result sets, id
lists, key lists and embedded data hashes.
*/
package rincewind

import (
	"context"
	"fmt"
	"iter"
)

// source yields raw storage-side data per position.
type source interface {
	len() int
	fetch(ctx context.Context, i int) (map[string]any, error)
	reset(ctx context.Context) error
}

// rowSource reads an executed ResultSet.
type rowSource struct{ rs ResultSet }

func (s *rowSource) len() int { return s.rs.NumRows() }
func (s *rowSource) fetch(ctx context.Context, i int) (map[string]any, error) {
	return s.rs.FetchRow(ctx, i)
}
func (s *rowSource) reset(ctx context.Context) error { return s.rs.Reset(ctx) }

// keySource fetches one row per key on demand. Nothing is fetched in bulk.
type keySource struct {
	dao    *Dao
	column string
	keys   []any
}

func (s *keySource) len() int { return len(s.keys) }

func (s *keySource) fetch(ctx context.Context, i int) (map[string]any, error) {
	key := s.keys[i]
	data, err := s.dao.getData(ctx, Predicate{s.column: key}, &Params{Sort: []SortField{}})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, notFound(s.dao.name, map[string]any{"dao": s.dao.name, s.column: fmt.Sprintf("%v", key)})
	}
	return data, nil
}

func (s *keySource) reset(context.Context) error { return nil }

// hashSource wraps data that is already in memory. It never calls the driver.
type hashSource struct{ hashes []map[string]any }

func (s *hashSource) len() int { return len(s.hashes) }
func (s *hashSource) fetch(_ context.Context, i int) (map[string]any, error) {
	if s.hashes[i] == nil {
		return map[string]any{}, nil
	}
	return s.hashes[i], nil
}
func (s *hashSource) reset(context.Context) error { return nil }

// ResultIterator iterates Records of one Dao:
//
//	for ; it.Valid(); it.Next() {
//		rec, err := it.Record(ctx)
//		...
//	}
//
// or with range-over-func via All. Past the end, Current returns nil, nil.
type ResultIterator struct {
	dao      *Dao
	src      source
	pos      int
	asArrays bool

	records map[int]*Record
	fetched bool // something was read since the last reset
	stale   bool // Rewind was called; reset the source before the next read
}

func newIterator(d *Dao, src source) *ResultIterator {
	return &ResultIterator{dao: d, src: src, records: map[int]*Record{}}
}

// Dao returns the Dao producing the Records.
func (it *ResultIterator) Dao() *Dao { return it.dao }

// Count is the total length of the source, known without fetching. After a
// Rewind of a database-backed iterator it reports the length of the last
// execution until the next read re-executes the query.
func (it *ResultIterator) Count() int { return it.src.len() }

// AsArrays makes Current return data mappings instead of Records.
func (it *ResultIterator) AsArrays(on bool) *ResultIterator {
	it.asArrays = on
	return it
}

// Rewind moves to the first position. Database-backed sources are re-read.
func (it *ResultIterator) Rewind() {
	it.pos = 0
	it.records = map[int]*Record{}
	if it.fetched {
		it.stale = true
	}
}

func (it *ResultIterator) Valid() bool { return it.pos >= 0 && it.pos < it.src.len() }
func (it *ResultIterator) Next()       { it.pos++ }
func (it *ResultIterator) Key() int    { return it.pos }

// Current returns the Record at the current position, or its data mapping
// when AsArrays is on.
func (it *ResultIterator) Current(ctx context.Context) (any, error) {
	if it.asArrays {
		data, err := it.Data(ctx)
		if err != nil || data == nil {
			return nil, err
		}
		return data, nil
	}
	rec, err := it.Record(ctx)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec, nil
}

// Record materializes the current position.
func (it *ResultIterator) Record(ctx context.Context) (*Record, error) {
	if !it.Valid() {
		return nil, nil
	}
	if rec, ok := it.records[it.pos]; ok {
		return rec, nil
	}
	if it.stale {
		if err := it.src.reset(ctx); err != nil {
			return nil, backendError(it.dao.name, "reset", err)
		}
		it.stale = false
		// the re-executed query may hold fewer rows
		if !it.Valid() {
			return nil, nil
		}
	}
	raw, err := it.src.fetch(ctx, it.pos)
	it.fetched = true
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	rec := it.dao.RecordFromData(raw)
	it.records[it.pos] = rec
	return rec, nil
}

// Data returns the attribute values at the current position.
func (it *ResultIterator) Data(ctx context.Context) (Item, error) {
	rec, err := it.Record(ctx)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Data(), nil
}

// All yields every Record from the first position. Iteration stops after
// the first error, or when a position yields no Record.
func (it *ResultIterator) All(ctx context.Context) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for it.Rewind(); it.Valid(); it.Next() {
			rec, err := it.Record(ctx)
			if err == nil && rec == nil {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Records collects every Record.
func (it *ResultIterator) Records(ctx context.Context) ([]*Record, error) {
	out := make([]*Record, 0, it.Count())
	for rec, err := range it.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetArray collects the data mappings of every position.
func (it *ResultIterator) GetArray(ctx context.Context) ([]Item, error) {
	out := make([]Item, 0, it.Count())
	for rec, err := range it.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Data())
	}
	return out, nil
}
