// Package sqlite is a driver backed by a SQLite database file. Rows live in
// one relational table keyed by (tbl, id) with the document as JSON text, and
// filters are applied in Go exactly like the file-backed driver applies them.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	json2 "github.com/go-json-experiment/json"
	_ "modernc.org/sqlite" // pure Go sqlite driver

	"github.com/zpackdb/zpack/driver"
	"github.com/zpackdb/zpack/metrics"
	"github.com/zpackdb/zpack/queue"
)

const schema = `
CREATE TABLE IF NOT EXISTS zpack_rows (
	tbl TEXT NOT NULL,
	id  INTEGER NOT NULL,
	doc TEXT NOT NULL,
	PRIMARY KEY (tbl, id)
);`

// Options configures a Driver. Path is the only required field.
type Options struct {
	Path string

	// Defaults mirrors the file-backed driver's per-table insert defaults.
	Defaults map[string]map[string]any

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Driver stores rows in a SQLite file. Like the file-backed driver, every
// operation runs whole on a single worker, so multi-row operations never
// interleave.
type Driver struct {
	options Options
	logger  *slog.Logger
	metrics metrics.Recorder

	db    *sql.DB
	hooks driver.Hooks

	tasks *queue.Queue
}

// record is one scanned row: the id column is authoritative over whatever the
// document carries.
type record struct {
	id  int64
	row driver.Row
}

// Open opens or creates the database at options.Path and ensures the schema.
func Open(options Options) (*Driver, error) {
	if options.Path == "" {
		return nil, errors.New("database path is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Nop
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", options.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;") // best effort

	_, err = db.Exec(schema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	d := &Driver{
		options: options,
		logger:  options.Logger,
		metrics: options.Metrics,
		db:      db,
	}
	d.tasks = queue.New(1024, driver.ErrorClosed)

	return d, nil
}

func (d *Driver) do(fn func() error) error {
	if d.tasks == nil {
		return driver.ErrorClosed
	}
	return d.tasks.Do(fn)
}

func (d *Driver) observe(op string, start time.Time) {
	if d.metrics == nil {
		return
	}
	d.metrics.Record(op, time.Since(start))
}

// resolve scans the table in id order and keeps the rows matching filter.
func (d *Driver) resolve(table string, filter driver.Filter) ([]record, error) {
	rows, err := d.db.Query(`SELECT id, doc FROM zpack_rows WHERE tbl = ? ORDER BY id`, table)
	if err != nil {
		return nil, fmt.Errorf("scan table %q: %w", table, err)
	}
	defer rows.Close()

	var records []record
	for rows.Next() {
		var id int64
		var doc string
		err = rows.Scan(&id, &doc)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := driver.Row{}
		err = json2.Unmarshal([]byte(doc), &row)
		if err != nil {
			return nil, fmt.Errorf("decode row %d: %w", id, err)
		}
		row[driver.FieldID] = id

		match, err := driver.Match(filter, row)
		if err != nil {
			return nil, err
		}
		if match {
			records = append(records, record{id: id, row: row})
		}
	}
	return records, rows.Err()
}

func encodeDoc(row driver.Row) (string, error) {
	doc, err := json2.Marshal(map[string]any(row), json2.Deterministic(true))
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	return string(doc), nil
}

// Select returns a copy of every row in table matching filter, ascending by
// id. Unknown tables yield an empty result.
func (d *Driver) Select(table string, filter driver.Filter) ([]driver.Row, error) {
	defer d.observe("sqlite.select", time.Now())

	var result []driver.Row
	err := d.do(func() error {
		records, err := d.resolve(table, filter)
		if err != nil {
			return err
		}
		result = make([]driver.Row, 0, len(records))
		for _, rec := range records {
			result = append(result, rec.row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SelectOne returns the matching row with the lowest id, or nil without error.
func (d *Driver) SelectOne(table string, filter driver.Filter) (driver.Row, error) {
	defer d.observe("sqlite.select_one", time.Now())

	var result driver.Row
	err := d.do(func() error {
		records, err := d.resolve(table, filter)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			result = records[0].row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Insert stores one row under the next free id of the table.
func (d *Driver) Insert(table string, userRow driver.Row) (driver.Row, error) {
	defer d.observe("sqlite.insert", time.Now())

	var result driver.Row
	err := d.do(func() error {
		var err error
		result, err = d.insertRow(table, userRow)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Driver) insertRow(table string, userRow driver.Row) (driver.Row, error) {
	fields := driver.Row{}
	for k, v := range userRow {
		if k == driver.FieldID || k == driver.FieldTable {
			continue
		}
		fields[k] = v
	}

	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := nextID(tx, table)
	if err != nil {
		return nil, err
	}

	driver.ApplyDefaults(d.options.Defaults[table], fields, id)
	fields[driver.FieldID] = id

	d.hooks.Fire(driver.BeforeInsert, table, fields)

	doc, err := encodeDoc(fields)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(`INSERT INTO zpack_rows (tbl, id, doc) VALUES (?, ?, ?)`, table, id, doc)
	if err != nil {
		return nil, fmt.Errorf("insert row: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("commit insert: %w", err)
	}

	d.hooks.Fire(driver.AfterInsert, table, fields)
	return fields.Clone(), nil
}

func nextID(tx *sql.Tx, table string) (int64, error) {
	var id int64
	err := tx.QueryRow(`SELECT COALESCE(MAX(id), 0) + 1 FROM zpack_rows WHERE tbl = ?`, table).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("allocate row id: %w", err)
	}
	return id, nil
}

// BulkInsert stores all rows in one transaction. Either every row lands or
// none does.
func (d *Driver) BulkInsert(table string, userRows []driver.Row) ([]driver.Row, error) {
	defer d.observe("sqlite.bulk_insert", time.Now())

	var result []driver.Row
	err := d.do(func() error {
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("begin bulk insert: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		firstID, err := nextID(tx, table)
		if err != nil {
			return err
		}

		prepared := make([]driver.Row, 0, len(userRows))
		for i, userRow := range userRows {
			fields := driver.Row{}
			for k, v := range userRow {
				if k == driver.FieldID || k == driver.FieldTable {
					continue
				}
				fields[k] = v
			}
			id := firstID + int64(i)
			driver.ApplyDefaults(d.options.Defaults[table], fields, id)
			fields[driver.FieldID] = id

			d.hooks.Fire(driver.BeforeInsert, table, fields)

			doc, err := encodeDoc(fields)
			if err != nil {
				return err
			}
			_, err = tx.Exec(`INSERT INTO zpack_rows (tbl, id, doc) VALUES (?, ?, ?)`, table, id, doc)
			if err != nil {
				return fmt.Errorf("insert row: %w", err)
			}
			prepared = append(prepared, fields)
		}

		err = tx.Commit()
		if err != nil {
			return fmt.Errorf("commit bulk insert: %w", err)
		}

		result = make([]driver.Row, 0, len(prepared))
		for _, fields := range prepared {
			d.hooks.Fire(driver.AfterInsert, table, fields)
			result = append(result, fields.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update merges delta into every row matching filter.
func (d *Driver) Update(table string, delta driver.Row, filter driver.Filter) (int, error) {
	defer d.observe("sqlite.update", time.Now())

	count := 0
	err := d.do(func() error {
		records, err := d.resolve(table, filter)
		if err != nil {
			return err
		}
		for _, rec := range records {
			err = d.updateRecord(table, rec, delta)
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (d *Driver) updateRecord(table string, rec record, delta driver.Row) error {
	d.hooks.Fire(driver.BeforeUpdate, table, delta)

	merged := rec.row.Clone()
	for k, v := range delta {
		if k == driver.FieldID || k == driver.FieldTable {
			continue
		}
		merged[k] = v
	}
	merged[driver.FieldID] = rec.id

	doc, err := encodeDoc(merged)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`UPDATE zpack_rows SET doc = ? WHERE tbl = ? AND id = ?`, doc, table, rec.id)
	if err != nil {
		return fmt.Errorf("update row %d: %w", rec.id, err)
	}

	d.hooks.Fire(driver.AfterUpdate, table, merged)
	return nil
}

// Set behaves like Update when filter matches, and otherwise inserts a single
// row carrying the filter fields merged with delta.
func (d *Driver) Set(table string, delta driver.Row, filter driver.Filter) (int, error) {
	defer d.observe("sqlite.set", time.Now())

	count := 0
	err := d.do(func() error {
		records, err := d.resolve(table, filter)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			seed := driver.Row{}
			for k, v := range filter {
				seed[k] = v
			}
			for k, v := range delta {
				seed[k] = v
			}
			_, err = d.insertRow(table, seed)
			if err != nil {
				return err
			}
			count = 1
			return nil
		}

		for _, rec := range records {
			err = d.updateRecord(table, rec, delta)
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Delete removes every row matching filter.
func (d *Driver) Delete(table string, filter driver.Filter) (int, error) {
	defer d.observe("sqlite.delete", time.Now())

	count := 0
	err := d.do(func() error {
		records, err := d.resolve(table, filter)
		if err != nil {
			return err
		}
		for _, rec := range records {
			d.hooks.Fire(driver.BeforeDelete, table, rec.row)

			_, err = d.db.Exec(`DELETE FROM zpack_rows WHERE tbl = ? AND id = ?`, table, rec.id)
			if err != nil {
				return fmt.Errorf("delete row %d: %w", rec.id, err)
			}
			count++

			d.hooks.Fire(driver.AfterDelete, table, rec.row)
		}
		return nil
	})
	return count, err
}

// Increment adds each delta to the named numeric fields of every matching
// row. Absent fields count from zero.
func (d *Driver) Increment(table string, deltas map[string]float64, filter driver.Filter) (int, error) {
	defer d.observe("sqlite.increment", time.Now())
	return d.applyIncrement(table, deltas, filter, 1)
}

// Decrement subtracts each delta, sharing Increment's semantics.
func (d *Driver) Decrement(table string, deltas map[string]float64, filter driver.Filter) (int, error) {
	defer d.observe("sqlite.decrement", time.Now())
	return d.applyIncrement(table, deltas, filter, -1)
}

func (d *Driver) applyIncrement(table string, deltas map[string]float64, filter driver.Filter, sign float64) (int, error) {
	count := 0
	err := d.do(func() error {
		records, err := d.resolve(table, filter)
		if err != nil {
			return err
		}
		for _, rec := range records {
			delta := driver.Row{}
			for field, amount := range deltas {
				current, err := driver.Numeric(rec.row[field])
				if err != nil {
					return fmt.Errorf("increment field %q: %w", field, err)
				}
				delta[field] = current + sign*amount
			}
			err = d.updateRecord(table, rec, delta)
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
// they must not call back into the driver.
func (d *Driver) On(event driver.Event, fn driver.HookFunc) {
	d.hooks.On(event, fn)
}

// Vacuum rebuilds the database file, releasing space left by deleted rows.
func (d *Driver) Vacuum() error {
	defer d.observe("sqlite.vacuum", time.Now())

	return d.do(func() error {
		_, err := d.db.Exec("VACUUM")
		if err != nil {
			return fmt.Errorf("vacuum database: %w", err)
		}
		return nil
	})
}

// Tables returns the names of tables holding at least one row.
func (d *Driver) Tables() []string {
	var names []string
	d.do(func() error {
		rows, err := d.db.Query(`SELECT DISTINCT tbl FROM zpack_rows ORDER BY tbl`)
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			err = rows.Scan(&name)
			if err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	return names
}

// Count returns how many rows table holds.
func (d *Driver) Count(table string) int {
	n := 0
	d.do(func() error {
		return d.db.QueryRow(`SELECT COUNT(*) FROM zpack_rows WHERE tbl = ?`, table).Scan(&n)
	})
	return n
}

// Close drains pending operations, closes the database and rejects everything
// after with ErrorClosed.
func (d *Driver) Close() error {
	defer d.observe("sqlite.close", time.Now())

	if d.tasks == nil {
		return driver.ErrorClosed
	}
	return d.tasks.Shutdown(func() error {
		return d.db.Close()
	})
}

var (
	_ driver.Driver   = (*Driver)(nil)
	_ driver.Hooker   = (*Driver)(nil)
	_ driver.Vacuumer = (*Driver)(nil)
	_ driver.Tabler   = (*Driver)(nil)
)
