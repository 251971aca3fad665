package table

import (
	"strconv"

	"github.com/google/btree"

	"github.com/zpackdb/zpack/driver"
	"github.com/zpackdb/zpack/pack"
)

// RowID is the per-table logical row id. It is allocated sequentially from 1
// and is independent from the physical document id underneath.
type RowID int64

// row binds one logical identity to its current physical document.
type row struct {
	id     RowID
	docID  pack.DocID
	fields driver.Row // current values, including _id, excluding _table
}

func (r *row) Less(than *row) bool {
	return r.id < than.id
}

// tableState is everything the adapter tracks per table: the id counter, the
// rows ordered by id, and one value→ids map per indexed field.
type tableState struct {
	name    string
	nextID  RowID
	rows    *btree.BTreeG[*row]
	byID    map[RowID]*row
	indexes map[string]map[string]map[RowID]struct{}
}

func newTableState(name string, indexFields []string) *tableState {
	t := &tableState{
		name:    name,
		nextID:  1,
		rows:    btree.NewG(32, func(a, b *row) bool { return a.Less(b) }),
		byID:    map[RowID]*row{},
		indexes: map[string]map[string]map[RowID]struct{}{},
	}
	for _, field := range indexFields {
		t.indexes[field] = map[string]map[RowID]struct{}{}
	}
	return t
}

func (t *tableState) add(r *row) {
	t.rows.ReplaceOrInsert(r)
	t.byID[r.id] = r
	t.indexAdd(r)
	if r.id >= t.nextID {
		t.nextID = r.id + 1
	}
}

func (t *tableState) remove(r *row) {
	t.rows.Delete(r)
	delete(t.byID, r.id)
	t.indexRemove(r)
}

// indexAdd registers r under the canonical form of each indexed field it
// carries.
func (t *tableState) indexAdd(r *row) {
	for field, byValue := range t.indexes {
		value, ok := r.fields[field]
		if !ok {
			continue
		}
		key := driver.Canonical(value)
		ids := byValue[key]
		if ids == nil {
			ids = map[RowID]struct{}{}
			byValue[key] = ids
		}
		ids[r.id] = struct{}{}
	}
}

func (t *tableState) indexRemove(r *row) {
	for field, byValue := range t.indexes {
		value, ok := r.fields[field]
		if !ok {
			continue
		}
		key := driver.Canonical(value)
		ids := byValue[key]
		delete(ids, r.id)
		if len(ids) == 0 {
			delete(byValue, key)
		}
	}
}

// indexableValue reports whether a filter condition can be answered from a
// secondary index: plain scalars only, so operator objects and structured
// values take the full-scan path and keep both paths equivalent.
func indexableValue(v any) bool {
	switch v.(type) {
	case string, bool, nil,
		float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// parseRowID reads a logical id out of a decoded physical document, whatever
// numeric shape it survived serialization in.
func parseRowID(v any) (RowID, bool) {
	switch n := v.(type) {
	case int64:
		return RowID(n), n > 0
	case int:
		return RowID(n), n > 0
	case float64:
		return RowID(n), n > 0 && n == float64(int64(n))
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return RowID(parsed), err == nil && parsed > 0
	}
	return 0, false
}
