// Package migrate applies versioned data migrations to a driver. Migrations
// are JSON files named like 001_create_admin.json, applied in name order, and
// tracked in the _migrations table so each file runs exactly once.
package migrate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	json2 "github.com/go-json-experiment/json"

	"github.com/zpackdb/zpack/driver"
)

// TrackingTable records which migration files already ran.
const TrackingTable = "_migrations"

// Step is one migration instruction. Action selects the shape: "insert"
// takes Rows, "patch" takes Filter and Patch (an RFC 7386 merge patch),
// "delete" takes Filter.
type Step struct {
	Action string        `json:"action"`
	Table  string        `json:"table"`
	Rows   []driver.Row  `json:"rows,omitempty"`
	Filter driver.Filter `json:"filter,omitempty"`
	Patch  any           `json:"patch,omitempty"`
}

// Run applies every pending .json migration from dir in lexical order and
// returns how many files were applied. A missing directory means nothing to
// do.
func Run(d driver.Driver, dir string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read migrations directory: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		done, err := d.SelectOne(TrackingTable, driver.Filter{"name": name})
		if err != nil {
			return applied, fmt.Errorf("check migration %s: %w", name, err)
		}
		if done != nil {
			continue
		}

		err = applyFile(d, filepath.Join(dir, name))
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", name, err)
		}

		_, err = d.Insert(TrackingTable, driver.Row{
			"name":       name,
			"applied_at": time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			return applied, fmt.Errorf("record migration %s: %w", name, err)
		}

		applied++
		logger.Info("migration applied", "name", name)
	}

	return applied, nil
}

func applyFile(d driver.Driver, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var steps []Step
	err = json2.Unmarshal(data, &steps)
	if err != nil {
		return fmt.Errorf("decode file: %w", err)
	}

	for i, step := range steps {
		err = applyStep(d, step)
		if err != nil {
			return fmt.Errorf("step %d (%s on %q): %w", i, step.Action, step.Table, err)
		}
	}
	return nil
}

func applyStep(d driver.Driver, step Step) error {
	if step.Table == "" {
		return errors.New("step has no table")
	}

	switch step.Action {
	case "insert":
		_, err := d.BulkInsert(step.Table, step.Rows)
		return err

	case "patch":
		return patchRows(d, step)

	case "delete":
		_, err := d.Delete(step.Table, step.Filter)
		return err
	}

	return fmt.Errorf("unknown action %q", step.Action)
}

// patchRows applies a merge patch to every row matching the filter. Fields
// the patch removes have no removal operation underneath, so they are set to
// null instead.
func patchRows(d driver.Driver, step Step) error {
	rows, err := d.Select(step.Table, step.Filter)
	if err != nil {
		return err
	}

	patchBytes, err := json2.Marshal(step.Patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	for _, row := range rows {
		original, err := json2.Marshal(map[string]any(row))
		if err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
		mergedBytes, err := jsonpatch.MergePatch(original, patchBytes)
		if err != nil {
			return fmt.Errorf("apply patch: %w", err)
		}
		merged := driver.Row{}
		err = json2.Unmarshal(mergedBytes, &merged)
		if err != nil {
			return fmt.Errorf("decode patched row: %w", err)
		}

		delta := driver.Row{}
		for k, v := range merged {
			if k == driver.FieldID {
				continue
			}
			delta[k] = v
		}
		for k := range row {
			if k == driver.FieldID {
				continue
			}
			_, kept := merged[k]
			if !kept {
				delta[k] = nil
			}
		}

		_, err = d.Update(step.Table, delta, driver.Filter{driver.FieldID: row[driver.FieldID]})
		if err != nil {
			return err
		}
	}
	return nil
}
