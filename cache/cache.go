// Package cache wraps a driver and serves repeated reads from memory.
// Results are keyed by table plus the canonical form of the filter, and any
// write to a table drops every cached result for that table. Eviction is
// least-recently-used over whole result sets.
package cache

import (
	"container/list"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/zpackdb/zpack/driver"
	"github.com/zpackdb/zpack/metrics"
)

// Options configures a cache Driver.
type Options struct {
	// Size is the maximum number of cached result sets. Zero means the
	// default of 1024.
	Size int

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries int    `json:"entries"`
	Size    int    `json:"size"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

// Driver decorates another driver with a read cache. It is safe for
// concurrent use.
type Driver struct {
	inner   driver.Driver
	size    int
	logger  *slog.Logger
	metrics metrics.Recorder

	mu      sync.Mutex
	entries map[key]*list.Element
	lru     *list.List

	hits   atomic.Uint64
	misses atomic.Uint64
}

type key struct {
	hi, lo uint64
}

// entry holds one cached result set. The rows slice is never mutated after
// insertion, so it can be read outside the lock.
type entry struct {
	key   key
	table string
	rows  []driver.Row
}

// New wraps inner with a result cache.
func New(inner driver.Driver, options Options) *Driver {
	if options.Size <= 0 {
		options.Size = 1024
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Nop
	}
	return &Driver{
		inner:   inner,
		size:    options.Size,
		logger:  options.Logger,
		metrics: options.Metrics,
		entries: map[key]*list.Element{},
		lru:     list.New(),
	}
}

func cacheKey(kind, table string, filter driver.Filter) key {
	h := xxh3.HashString128(kind + "\x00" + table + "\x00" + driver.Canonical(map[string]any(filter)))
	return key{hi: h.Hi, lo: h.Lo}
}

// Select serves the result from memory when the same table and filter were
// read since the last write to the table.
func (d *Driver) Select(table string, filter driver.Filter) ([]driver.Row, error) {
	defer d.observe("cache.select", time.Now())

	k := cacheKey("select", table, filter)
	cached, ok := d.lookup(k)
	if ok {
		return cloneRows(cached), nil
	}

	rows, err := d.inner.Select(table, filter)
	if err != nil {
		return nil, err
	}
	d.store(k, table, cloneRows(rows))
	return rows, nil
}

// SelectOne caches like Select, including the no-match result.
func (d *Driver) SelectOne(table string, filter driver.Filter) (driver.Row, error) {
	defer d.observe("cache.select_one", time.Now())

	k := cacheKey("one", table, filter)
	cached, ok := d.lookup(k)
	if ok {
		if len(cached) == 0 {
			return nil, nil
		}
		return cached[0].Clone(), nil
	}

	row, err := d.inner.SelectOne(table, filter)
	if err != nil {
		return nil, err
	}
	if row == nil {
		d.store(k, table, []driver.Row{})
	} else {
		d.store(k, table, []driver.Row{row.Clone()})
	}
	return row, nil
}

func (d *Driver) Insert(table string, row driver.Row) (driver.Row, error) {
	result, err := d.inner.Insert(table, row)
	if err != nil {
		return nil, err
	}
	d.invalidate(table)
	return result, nil
}

func (d *Driver) BulkInsert(table string, rows []driver.Row) ([]driver.Row, error) {
	result, err := d.inner.BulkInsert(table, rows)
	if err != nil {
		return nil, err
	}
	d.invalidate(table)
	return result, nil
}

func (d *Driver) Update(table string, delta driver.Row, filter driver.Filter) (int, error) {
	count, err := d.inner.Update(table, delta, filter)
	if err == nil {
		d.invalidate(table)
	}
	return count, err
}

func (d *Driver) Set(table string, delta driver.Row, filter driver.Filter) (int, error) {
	count, err := d.inner.Set(table, delta, filter)
	if err == nil {
		d.invalidate(table)
	}
	return count, err
}

func (d *Driver) Delete(table string, filter driver.Filter) (int, error) {
	count, err := d.inner.Delete(table, filter)
	if err == nil {
		d.invalidate(table)
	}
	return count, err
}

func (d *Driver) Increment(table string, deltas map[string]float64, filter driver.Filter) (int, error) {
	count, err := d.inner.Increment(table, deltas, filter)
	if err == nil {
		d.invalidate(table)
	}
	return count, err
}

func (d *Driver) Decrement(table string, deltas map[string]float64, filter driver.Filter) (int, error) {
	count, err := d.inner.Decrement(table, deltas, filter)
	if err == nil {
		d.invalidate(table)
	}
	return count, err
}

// On forwards hook registration to the wrapped driver.
func (d *Driver) On(event driver.Event, fn driver.HookFunc) {
	if hooker, ok := d.inner.(driver.Hooker); ok {
		hooker.On(event, fn)
		return
	}
	d.logger.Warn("hooks are not supported by the wrapped driver", "event", event)
}

// Vacuum forwards to the wrapped driver. Compaction does not change logical
// results, so the cache keeps its entries.
func (d *Driver) Vacuum() error {
	if vacuumer, ok := d.inner.(driver.Vacuumer); ok {
		return vacuumer.Vacuum()
	}
	return driver.ErrorNotSupported
}

func (d *Driver) Tables() []string {
	if tabler, ok := d.inner.(driver.Tabler); ok {
		return tabler.Tables()
	}
	return nil
}

func (d *Driver) Count(table string) int {
	if tabler, ok := d.inner.(driver.Tabler); ok {
		return tabler.Count(table)
	}
	return 0
}

// Close drops every entry and closes the wrapped driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.entries = map[key]*list.Element{}
	d.lru.Init()
	d.mu.Unlock()

	return d.inner.Close()
}

// Stats returns current occupancy and hit counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	entries := len(d.entries)
	d.mu.Unlock()

	return Stats{
		Entries: entries,
		Size:    d.size,
		Hits:    d.hits.Load(),
		Misses:  d.misses.Load(),
	}
}

func (d *Driver) observe(op string, start time.Time) {
	d.metrics.Record(op, time.Since(start))
}

func (d *Driver) lookup(k key) ([]driver.Row, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elem, ok := d.entries[k]
	if !ok {
		d.misses.Add(1)
		return nil, false
	}
	d.lru.MoveToFront(elem)
	d.hits.Add(1)
	return elem.Value.(*entry).rows, true
}

func (d *Driver) store(k key, table string, rows []driver.Row) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.entries[k]; ok {
		elem.Value.(*entry).rows = rows
		d.lru.MoveToFront(elem)
		return
	}

	for len(d.entries) >= d.size {
		oldest := d.lru.Back()
		if oldest == nil {
			break
		}
		d.remove(oldest)
	}

	d.entries[k] = d.lru.PushFront(&entry{key: k, table: table, rows: rows})
}

func (d *Driver) invalidate(table string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for elem := d.lru.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*entry).table == table {
			d.remove(elem)
		}
		elem = next
	}
}

// remove drops one element. Must be called with mu held.
func (d *Driver) remove(elem *list.Element) {
	delete(d.entries, elem.Value.(*entry).key)
	d.lru.Remove(elem)
}

func cloneRows(rows []driver.Row) []driver.Row {
	if rows == nil {
		return nil
	}
	clones := make([]driver.Row, 0, len(rows))
	for _, row := range rows {
		clones = append(clones, row.Clone())
	}
	return clones
}

var (
	_ driver.Driver   = (*Driver)(nil)
	_ driver.Hooker   = (*Driver)(nil)
	_ driver.Vacuumer = (*Driver)(nil)
	_ driver.Tabler   = (*Driver)(nil)
)
