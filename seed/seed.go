// Package seed loads initial rows into empty tables from a single JSON file
// shaped as {"table": [row, ...], ...}. Tables that already hold rows are
// left alone, so seeding can run on every start.
package seed

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	json2 "github.com/go-json-experiment/json"

	"github.com/zpackdb/zpack/driver"
	"github.com/zpackdb/zpack/utils"
)

// Load seeds every still-empty table listed in the file at path and returns
// how many rows were inserted. A missing file means nothing to do.
func Load(d driver.Driver, path string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	tables := map[string][]driver.Row{}
	err = json2.Unmarshal(data, &tables)
	if err != nil {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}

	inserted := 0
	for _, table := range utils.GetKeys(tables) {
		rows := tables[table]
		if len(rows) == 0 {
			continue
		}

		existing, err := d.SelectOne(table, driver.Filter{})
		if err != nil {
			return inserted, fmt.Errorf("inspect table %q: %w", table, err)
		}
		if existing != nil {
			logger.Debug("seed skipped, table holds rows", "table", table)
			continue
		}

		result, err := d.BulkInsert(table, rows)
		if err != nil {
			return inserted, fmt.Errorf("seed table %q: %w", table, err)
		}
		inserted += len(result)
		logger.Info("table seeded", "table", table, "rows", len(result))
	}

	return inserted, nil
}
