// Package table layers named tables with logical row ids on top of a single
// document store. Rows are plain JSON objects; each table keeps its rows
// ordered by id and maintains equality indexes over configured fields.
package table

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/zpackdb/zpack/driver"
	"github.com/zpackdb/zpack/metrics"
	"github.com/zpackdb/zpack/pack"
	"github.com/zpackdb/zpack/queue"
	"github.com/zpackdb/zpack/utils"
)

// Options configures an Adapter.
type Options struct {
	// IndexFields lists the equality-indexed fields per table.
	IndexFields map[string][]string

	// Defaults holds per-table values filled into inserted rows missing the
	// field. The templates "uuid()", "unixnano()" and "auto()" generate a
	// fresh value per row; any other value is applied verbatim.
	Defaults map[string]map[string]any

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Adapter exposes table semantics over one Store. Every public operation runs
// as a single task on a worker goroutine, so a multi-row operation is applied
// whole before the next one starts.
type Adapter struct {
	options Options
	logger  *slog.Logger
	metrics metrics.Recorder

	store  *pack.Store
	hooks  driver.Hooks
	tables map[string]*tableState

	tasks *queue.Queue
}

// Open builds an Adapter over store, rebuilding every table from the
// documents already in it.
func Open(store *pack.Store, options Options) (*Adapter, error) {
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Nop
	}

	a := &Adapter{
		options: options,
		logger:  options.Logger,
		metrics: options.Metrics,
		store:   store,
		tables:  map[string]*tableState{},
	}

	start := time.Now()
	err := a.rebuild()
	if err != nil {
		return nil, err
	}
	a.metrics.Record("table.open", time.Since(start))

	a.tasks = queue.New(1024, driver.ErrorClosed)

	return a, nil
}

// rebuild replays every live document into table state. Documents written by
// the adapter carry their table name and logical id; anything else is skipped.
func (a *Adapter) rebuild() error {
	keys, err := a.store.Keys()
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	for _, docID := range keys {
		fields, err := a.store.Get(docID)
		if err != nil {
			return fmt.Errorf("read document %d: %w", docID, err)
		}
		if fields == nil {
			continue
		}

		name, _ := fields[driver.FieldTable].(string)
		id, ok := parseRowID(fields[driver.FieldID])
		if name == "" || !ok {
			a.logger.Warn("skipping untagged document", "doc", docID)
			continue
		}

		values := driver.Row{}
		for k, v := range fields {
			if k == driver.FieldTable {
				continue
			}
			values[k] = v
		}
		values[driver.FieldID] = int64(id)

		t := a.table(name)
		if existing := t.byID[id]; existing != nil {
			// Two live documents for one row: whichever was written later
			// supersedes the other.
			if existing.docID > docID {
				continue
			}
			t.remove(existing)
		}
		t.add(&row{id: id, docID: docID, fields: values})
	}

	return nil
}

func (a *Adapter) do(fn func() error) error {
	if a.tasks == nil {
		return driver.ErrorClosed
	}
	return a.tasks.Do(fn)
}

func (a *Adapter) observe(op string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.Record(op, time.Since(start))
}

// table returns the state for name, creating it on first reference. Tables
// come into being lazily, on lookups as much as on writes.
func (a *Adapter) table(name string) *tableState {
	t := a.tables[name]
	if t == nil {
		t = newTableState(name, a.options.IndexFields[name])
		a.tables[name] = t
	}
	return t
}

// resolve returns the rows matching filter in ascending id order. A
// single-field scalar filter on an indexed field is answered from the index;
// everything else walks the table.
func (a *Adapter) resolve(t *tableState, filter driver.Filter) ([]*row, error) {
	if len(filter) == 1 {
		for field, value := range filter {
			byValue, indexed := t.indexes[field]
			if !indexed || !indexableValue(value) {
				break
			}
			ids := byValue[driver.Canonical(value)]
			rows := make([]*row, 0, len(ids))
			for id := range ids {
				rows = append(rows, t.byID[id])
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Less(rows[j]) })
			return rows, nil
		}
	}

	var rows []*row
	var scanErr error
	t.rows.Ascend(func(r *row) bool {
		match, err := driver.Match(filter, r.fields)
		if err != nil {
			scanErr = err
			return false
		}
		if match {
			rows = append(rows, r)
		}
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return rows, nil
}

// Select returns a copy of every row in table matching filter, ascending by
// logical id.
func (a *Adapter) Select(table string, filter driver.Filter) ([]driver.Row, error) {
	defer a.observe("table.select", time.Now())

	var result []driver.Row
	err := a.do(func() error {
		rows, err := a.resolve(a.table(table), filter)
		if err != nil {
			return err
		}
		result = make([]driver.Row, 0, len(rows))
		for _, r := range rows {
			result = append(result, r.fields.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SelectOne returns the matching row with the lowest id, or nil without error
// when nothing matches.
func (a *Adapter) SelectOne(table string, filter driver.Filter) (driver.Row, error) {
	defer a.observe("table.select_one", time.Now())

	var result driver.Row
	err := a.do(func() error {
		rows, err := a.resolve(a.table(table), filter)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			result = rows[0].fields.Clone()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Insert stores one row and returns it with defaults applied and its fresh
// logical id in "_id".
func (a *Adapter) Insert(table string, userRow driver.Row) (driver.Row, error) {
	defer a.observe("table.insert", time.Now())

	var result driver.Row
	err := a.do(func() error {
		var err error
		result, err = a.insertRow(a.table(table), userRow)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BulkInsert stores all rows through a single batched write. Either every row
// lands or none does.
func (a *Adapter) BulkInsert(table string, userRows []driver.Row) ([]driver.Row, error) {
	defer a.observe("table.bulk_insert", time.Now())

	var result []driver.Row
	err := a.do(func() error {
		t := a.table(table)

		prepared := make([]driver.Row, 0, len(userRows))
		docs := make([]map[string]any, 0, len(userRows))
		firstID := t.nextID
		for i, userRow := range userRows {
			fields := a.prepareInsert(t, userRow, firstID+RowID(i))
			a.hooks.Fire(driver.BeforeInsert, t.name, fields)
			docs = append(docs, a.document(t, fields))
			prepared = append(prepared, fields)
		}

		docIDs, err := a.store.InsertBatch(docs)
		if err != nil {
			return err
		}

		result = make([]driver.Row, 0, len(prepared))
		for i, fields := range prepared {
			t.add(&row{id: firstID + RowID(i), docID: docIDs[i], fields: fields})
			a.hooks.Fire(driver.AfterInsert, t.name, fields)
			result = append(result, fields.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update merges delta into every row matching filter and returns how many
// rows changed. No match is no error.
func (a *Adapter) Update(table string, delta driver.Row, filter driver.Filter) (int, error) {
	defer a.observe("table.update", time.Now())

	count := 0
	err := a.do(func() error {
		t := a.table(table)
		rows, err := a.resolve(t, filter)
		if err != nil {
			return err
		}
		for _, r := range rows {
			err = a.updateRow(t, r, delta)
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Set behaves like Update when filter matches, and otherwise inserts a single
// row carrying the filter fields merged with delta.
func (a *Adapter) Set(table string, delta driver.Row, filter driver.Filter) (int, error) {
	defer a.observe("table.set", time.Now())

	count := 0
	err := a.do(func() error {
		t := a.table(table)
		rows, err := a.resolve(t, filter)
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			seed := driver.Row{}
			for k, v := range filter {
				seed[k] = v
			}
			for k, v := range delta {
				seed[k] = v
			}
			_, err = a.insertRow(t, seed)
			if err != nil {
				return err
			}
			count = 1
			return nil
		}

		for _, r := range rows {
			err = a.updateRow(t, r, delta)
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Delete removes every row matching filter and returns how many went away.
func (a *Adapter) Delete(table string, filter driver.Filter) (int, error) {
	defer a.observe("table.delete", time.Now())

	count := 0
	err := a.do(func() error {
		t := a.table(table)
		rows, err := a.resolve(t, filter)
		if err != nil {
			return err
		}
		for _, r := range rows {
			err = a.deleteRow(t, r)
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Increment adds each delta to the named numeric fields of every matching
// row. Absent fields count from zero. The whole operation is one task, so
// concurrent increments never lose updates.
func (a *Adapter) Increment(table string, deltas map[string]float64, filter driver.Filter) (int, error) {
	defer a.observe("table.increment", time.Now())
	return a.applyIncrement(table, deltas, filter, 1)
}

// Decrement subtracts each delta, sharing Increment's semantics.
func (a *Adapter) Decrement(table string, deltas map[string]float64, filter driver.Filter) (int, error) {
	defer a.observe("table.decrement", time.Now())
	return a.applyIncrement(table, deltas, filter, -1)
}

func (a *Adapter) applyIncrement(table string, deltas map[string]float64, filter driver.Filter, sign float64) (int, error) {
	count := 0
	err := a.do(func() error {
		t := a.table(table)
		rows, err := a.resolve(t, filter)
		if err != nil {
			return err
		}
		for _, r := range rows {
			delta := driver.Row{}
			for field, amount := range deltas {
				current, err := driver.Numeric(r.fields[field])
				if err != nil {
					return fmt.Errorf("increment field %q: %w", field, err)
				}
				delta[field] = current + sign*amount
			}
			err = a.updateRow(t, r, delta)
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// On registers a hook. Callbacks run synchronously inside the operation, so
// they must not call back into the adapter.
func (a *Adapter) On(event driver.Event, fn driver.HookFunc) {
	a.hooks.On(event, fn)
}

// Vacuum compacts the underlying store. Logical state is untouched because
// document ids survive compaction.
func (a *Adapter) Vacuum() error {
	defer a.observe("table.vacuum", time.Now())

	return a.do(func() error {
		return a.store.Vacuum()
	})
}

// Tables returns the known table names in lexical order.
func (a *Adapter) Tables() []string {
	var names []string
	a.do(func() error {
		names = utils.GetKeys(a.tables)
		return nil
	})
	return names
}

// Count returns how many rows table holds.
func (a *Adapter) Count(table string) int {
	n := 0
	a.do(func() error {
		n = a.table(table).rows.Len()
		return nil
	})
	return n
}

// Close drains pending operations, closes the store and rejects everything
// after with ErrorClosed.
func (a *Adapter) Close() error {
	defer a.observe("table.close", time.Now())

	if a.tasks == nil {
		return driver.ErrorClosed
	}
	return a.tasks.Shutdown(func() error {
		return a.store.Close()
	})
}

// prepareInsert strips reserved fields from userRow, fills defaults and tags
// the row with its logical id.
func (a *Adapter) prepareInsert(t *tableState, userRow driver.Row, id RowID) driver.Row {
	fields := driver.Row{}
	for k, v := range userRow {
		if k == driver.FieldID || k == driver.FieldTable {
			continue
		}
		fields[k] = v
	}
	driver.ApplyDefaults(a.options.Defaults[t.name], fields, int64(id))
	fields[driver.FieldID] = int64(id)
	return fields
}

// document is the physical form of a row: its fields plus the table tag.
func (a *Adapter) document(t *tableState, fields driver.Row) map[string]any {
	doc := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	doc[driver.FieldTable] = t.name
	return doc
}

func (a *Adapter) insertRow(t *tableState, userRow driver.Row) (driver.Row, error) {
	id := t.nextID
	fields := a.prepareInsert(t, userRow, id)

	a.hooks.Fire(driver.BeforeInsert, t.name, fields)

	docID, err := a.store.Insert(a.document(t, fields))
	if err != nil {
		return nil, err
	}

	t.add(&row{id: id, docID: docID, fields: fields})

	a.hooks.Fire(driver.AfterInsert, t.name, fields)

	return fields.Clone(), nil
}

// updateRow writes the merged row as a fresh document, tombstones the old one
// and repoints the logical row. The id never changes.
func (a *Adapter) updateRow(t *tableState, r *row, delta driver.Row) error {
	a.hooks.Fire(driver.BeforeUpdate, t.name, delta)

	merged := r.fields.Clone()
	for k, v := range delta {
		if k == driver.FieldID || k == driver.FieldTable {
			continue
		}
		merged[k] = v
	}

	docID, err := a.store.Insert(a.document(t, merged))
	if err != nil {
		return err
	}
	oldDocID := r.docID

	t.indexRemove(r)
	r.fields = merged
	r.docID = docID
	t.indexAdd(r)

	err = a.store.Delete(oldDocID)
	if err != nil {
		return err
	}

	a.hooks.Fire(driver.AfterUpdate, t.name, merged)
	return nil
}

func (a *Adapter) deleteRow(t *tableState, r *row) error {
	a.hooks.Fire(driver.BeforeDelete, t.name, r.fields)

	err := a.store.Delete(r.docID)
	if err != nil {
		return err
	}
	t.remove(r)

	a.hooks.Fire(driver.AfterDelete, t.name, r.fields)
	return nil
}

var (
	_ driver.Driver   = (*Adapter)(nil)
	_ driver.Hooker   = (*Adapter)(nil)
	_ driver.Vacuumer = (*Adapter)(nil)
	_ driver.Tabler   = (*Adapter)(nil)
)
