package seed

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/fulldump/biff"

	"github.com/zpackdb/zpack/driver"
	"github.com/zpackdb/zpack/pack"
	"github.com/zpackdb/zpack/table"
)

// Environment provides a driver on a disposable file plus a seed file path
// inside a temp directory.
func Environment(f func(d driver.Driver, path string)) {
	filename := fmt.Sprintf("temp-seed-%v", time.Now().UnixNano())
	defer os.Remove(filename)
	defer os.Remove(filename + ".vacuum")

	dir, err := os.MkdirTemp("", "seed-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	store, err := pack.Open(pack.Options{Path: filename})
	if err != nil {
		panic(err)
	}
	adapter, err := table.Open(store, table.Options{})
	if err != nil {
		panic(err)
	}
	defer adapter.Close()

	f(adapter, filepath.Join(dir, "seed.json"))
}

func TestSeed_LoadsEmptyTables(t *testing.T) {
	Environment(func(d driver.Driver, path string) {
		err := os.WriteFile(path, []byte(`{
			"users": [{"name": "admin"}, {"name": "alice"}],
			"plans": [{"name": "free", "price": 0}]
		}`), 0666)
		AssertNil(err)

		inserted, err := Load(d, path, nil)
		AssertNil(err)
		AssertEqual(inserted, 3)

		rows, _ := d.Select("users", driver.Filter{})
		AssertEqual(len(rows), 2)
		row, _ := d.SelectOne("plans", driver.Filter{"name": "free"})
		AssertEqualJson(row["price"], 0)
	})
}

func TestSeed_Idempotent(t *testing.T) {
	Environment(func(d driver.Driver, path string) {
		os.WriteFile(path, []byte(`{"users": [{"name": "admin"}]}`), 0666)

		inserted, err := Load(d, path, nil)
		AssertNil(err)
		AssertEqual(inserted, 1)

		inserted, err = Load(d, path, nil)
		AssertNil(err)
		AssertEqual(inserted, 0)

		rows, _ := d.Select("users", driver.Filter{})
		AssertEqual(len(rows), 1)
	})
}

func TestSeed_SkipsTablesWithRows(t *testing.T) {
	Environment(func(d driver.Driver, path string) {
		d.Insert("users", driver.Row{"name": "existing"})

		os.WriteFile(path, []byte(`{
			"users": [{"name": "admin"}],
			"plans": [{"name": "free"}]
		}`), 0666)

		inserted, err := Load(d, path, nil)
		AssertNil(err)
		AssertEqual(inserted, 1)

		rows, _ := d.Select("users", driver.Filter{})
		AssertEqual(len(rows), 1)
		AssertEqual(rows[0]["name"], "existing")
	})
}

func TestSeed_MissingFile(t *testing.T) {
	Environment(func(d driver.Driver, path string) {
		inserted, err := Load(d, path, nil)
		AssertNil(err)
		AssertEqual(inserted, 0)
	})
}
