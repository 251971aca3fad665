package table

import (
	"errors"
	"strings"
	"sync"
	"testing"

	. "github.com/fulldump/biff"

	"github.com/zpackdb/zpack/driver"
)

func TestAdapter_UsersByCity(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		_, err := adapter.Insert("users", driver.Row{"name": "Alice", "city": "Porto"})
		AssertNil(err)
		_, err = adapter.Insert("users", driver.Row{"name": "Bob", "city": "Porto"})
		AssertNil(err)
		_, err = adapter.Insert("users", driver.Row{"name": "Carol", "city": "Madrid"})
		AssertNil(err)

		rows, err := adapter.Select("users", driver.Filter{"city": "Porto"})
		AssertNil(err)
		AssertEqual(len(rows), 2)
		AssertEqual(rows[0]["name"], "Alice")
		AssertEqual(rows[1]["name"], "Bob")

		row, err := adapter.SelectOne("users", driver.Filter{"name": "Bob"})
		AssertNil(err)
		AssertEqual(row["city"], "Porto")

		missing, err := adapter.SelectOne("users", driver.Filter{"name": "Zoe"})
		AssertNil(err)
		AssertNil(missing)

		affected, err := adapter.Increment("users", map[string]float64{"logins": 1}, driver.Filter{"city": "Porto"})
		AssertNil(err)
		AssertEqual(affected, 2)

		removed, err := adapter.Delete("users", driver.Filter{"name": "Bob"})
		AssertNil(err)
		AssertEqual(removed, 1)

		err = adapter.Vacuum()
		AssertNil(err)

		rows, err = adapter.Select("users", driver.Filter{})
		AssertNil(err)
		AssertEqual(len(rows), 2)
		AssertEqual(rows[0]["name"], "Alice")
		AssertEqualJson(rows[0]["logins"], 1)
		AssertEqual(rows[1]["name"], "Carol")
	})
}

func TestAdapter_ImplicitTables(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		rows, err := adapter.Select("never-written", driver.Filter{"a": 1})
		AssertNil(err)
		AssertEqual(len(rows), 0)

		AssertEqual(adapter.Tables(), []string{"never-written"})
		AssertEqual(adapter.Count("never-written"), 0)
	})
}

func TestAdapter_InsertAssignsSequentialIDs(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		first, err := adapter.Insert("items", driver.Row{"n": 1})
		AssertNil(err)
		AssertEqualJson(first["_id"], 1)

		// Reserved fields coming from the caller are discarded.
		second, err := adapter.Insert("items", driver.Row{"n": 2, "_id": 999, "_table": "other"})
		AssertNil(err)
		AssertEqualJson(second["_id"], 2)
		_, hasTable := second["_table"]
		AssertFalse(hasTable)

		// Ids are scoped per table.
		other, err := adapter.Insert("other", driver.Row{"n": 3})
		AssertNil(err)
		AssertEqualJson(other["_id"], 1)
	})
}

func TestAdapter_Defaults(t *testing.T) {
	options := &Options{
		Defaults: map[string]map[string]any{
			"sessions": {
				"token":   "uuid()",
				"created": "unixnano()",
				"seq":     "auto()",
				"plan":    "free",
			},
		},
	}
	Environment(options, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		row, err := adapter.Insert("sessions", driver.Row{"user": "alice"})
		AssertNil(err)

		token, isString := row["token"].(string)
		AssertTrue(isString)
		AssertEqual(len(token), 36)

		created, isNumber := row["created"].(float64)
		AssertTrue(isNumber)
		AssertTrue(created > 0)

		AssertEqualJson(row["seq"], 1)
		AssertEqual(row["plan"], "free")

		// Provided values win over defaults.
		row, err = adapter.Insert("sessions", driver.Row{"user": "bob", "plan": "pro"})
		AssertNil(err)
		AssertEqual(row["plan"], "pro")
		AssertEqualJson(row["seq"], 2)
	})
}

func TestAdapter_Update(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		adapter.Insert("users", driver.Row{"name": "Alice", "city": "Porto"})
		adapter.Insert("users", driver.Row{"name": "Bob", "city": "Porto"})

		count, err := adapter.Update("users", driver.Row{"city": "Madrid"}, driver.Filter{"city": "Porto"})
		AssertNil(err)
		AssertEqual(count, 2)

		rows, err := adapter.Select("users", driver.Filter{"city": "Madrid"})
		AssertNil(err)
		AssertEqual(len(rows), 2)
		AssertEqual(rows[0]["name"], "Alice")
		AssertEqualJson(rows[0]["_id"], 1)

		count, err = adapter.Update("users", driver.Row{"city": "Lisbon"}, driver.Filter{"name": "Zoe"})
		AssertNil(err)
		AssertEqual(count, 0)

		// The id cannot be rewritten through a delta.
		count, err = adapter.Update("users", driver.Row{"_id": 42}, driver.Filter{"name": "Alice"})
		AssertNil(err)
		AssertEqual(count, 1)
		row, _ := adapter.SelectOne("users", driver.Filter{"name": "Alice"})
		AssertEqualJson(row["_id"], 1)
	})
}

func TestAdapter_SetUpserts(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		count, err := adapter.Set("users", driver.Row{"city": "Berlin"}, driver.Filter{"name": "Dave"})
		AssertNil(err)
		AssertEqual(count, 1)

		row, err := adapter.SelectOne("users", driver.Filter{"name": "Dave"})
		AssertNil(err)
		AssertEqual(row["city"], "Berlin")
		firstID := row["_id"]

		count, err = adapter.Set("users", driver.Row{"city": "Lisbon"}, driver.Filter{"name": "Dave"})
		AssertNil(err)
		AssertEqual(count, 1)

		row, err = adapter.SelectOne("users", driver.Filter{"name": "Dave"})
		AssertNil(err)
		AssertEqual(row["city"], "Lisbon")
		AssertEqual(row["_id"], firstID)
		AssertEqual(adapter.Count("users"), 1)
	})
}

func TestAdapter_Delete(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		adapter.Insert("users", driver.Row{"name": "Alice", "city": "Porto"})
		adapter.Insert("users", driver.Row{"name": "Bob", "city": "Porto"})
		adapter.Insert("users", driver.Row{"name": "Carol", "city": "Madrid"})

		count, err := adapter.Delete("users", driver.Filter{"city": "Porto"})
		AssertNil(err)
		AssertEqual(count, 2)
		AssertEqual(adapter.Count("users"), 1)

		count, err = adapter.Delete("users", driver.Filter{"city": "Porto"})
		AssertNil(err)
		AssertEqual(count, 0)

		row, err := adapter.SelectOne("users", driver.Filter{})
		AssertNil(err)
		AssertEqual(row["name"], "Carol")
	})
}

func TestAdapter_IncrementAndDecrement(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		adapter.Insert("counters", driver.Row{"name": "page"})

		// Absent fields count from zero.
		count, err := adapter.Increment("counters", map[string]float64{"visits": 5}, driver.Filter{"name": "page"})
		AssertNil(err)
		AssertEqual(count, 1)

		row, _ := adapter.SelectOne("counters", driver.Filter{"name": "page"})
		AssertEqualJson(row["visits"], 5)

		count, err = adapter.Decrement("counters", map[string]float64{"visits": 2}, driver.Filter{"name": "page"})
		AssertNil(err)
		AssertEqual(count, 1)

		row, _ = adapter.SelectOne("counters", driver.Filter{"name": "page"})
		AssertEqualJson(row["visits"], 3)
	})
}

func TestAdapter_IncrementNumericStrings(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		adapter.Insert("counters", driver.Row{"name": "page", "visits": "10"})

		count, err := adapter.Increment("counters", map[string]float64{"visits": 5}, driver.Filter{"name": "page"})
		AssertNil(err)
		AssertEqual(count, 1)

		row, _ := adapter.SelectOne("counters", driver.Filter{"name": "page"})
		AssertEqualJson(row["visits"], 15)
	})
}

func TestAdapter_IncrementNonNumeric(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		adapter.Insert("counters", driver.Row{"name": "page"})

		count, err := adapter.Increment("counters", map[string]float64{"name": 1}, driver.Filter{})
		AssertNotNil(err)
		AssertEqual(count, 0)

		// The row is untouched.
		row, _ := adapter.SelectOne("counters", driver.Filter{})
		AssertEqual(row["name"], "page")
	})
}

func TestAdapter_ConcurrentIncrements(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		adapter.Insert("counters", driver.Row{"name": "page", "visits": 0})

		n := 50
		wg := sync.WaitGroup{}
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				count, err := adapter.Increment("counters", map[string]float64{"visits": 1}, driver.Filter{"name": "page"})
				AssertNil(err)
				AssertEqual(count, 1)
			}()
		}
		wg.Wait()

		row, err := adapter.SelectOne("counters", driver.Filter{"name": "page"})
		AssertNil(err)
		AssertEqualJson(row["visits"], n)
	})
}

func TestAdapter_IndexedSelectMatchesFullScan(t *testing.T) {
	options := &Options{
		IndexFields: map[string][]string{"users": {"city"}},
	}
	Environment(options, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		adapter.Insert("users", driver.Row{"name": "Alice", "city": "Porto"})
		adapter.Insert("users", driver.Row{"name": "Bob", "city": "Madrid"})
		adapter.Insert("users", driver.Row{"name": "Carol", "city": "Porto"})
		adapter.Insert("users", driver.Row{"name": "Dave"})

		indexed, err := adapter.Select("users", driver.Filter{"city": "Porto"})
		AssertNil(err)

		all, err := adapter.Select("users", driver.Filter{})
		AssertNil(err)
		scanned := []driver.Row{}
		for _, row := range all {
			match, err := driver.Match(driver.Filter{"city": "Porto"}, row)
			AssertNil(err)
			if match {
				scanned = append(scanned, row)
			}
		}

		AssertEqualJson(indexed, scanned)
		AssertEqual(len(indexed), 2)
	})
}

func TestAdapter_IndexFollowsUpdatesAndDeletes(t *testing.T) {
	options := &Options{
		IndexFields: map[string][]string{"users": {"city"}},
	}
	Environment(options, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		adapter.Insert("users", driver.Row{"name": "Alice", "city": "Porto"})

		adapter.Update("users", driver.Row{"city": "Madrid"}, driver.Filter{"name": "Alice"})

		rows, _ := adapter.Select("users", driver.Filter{"city": "Porto"})
		AssertEqual(len(rows), 0)
		rows, _ = adapter.Select("users", driver.Filter{"city": "Madrid"})
		AssertEqual(len(rows), 1)

		adapter.Delete("users", driver.Filter{"name": "Alice"})
		rows, _ = adapter.Select("users", driver.Filter{"city": "Madrid"})
		AssertEqual(len(rows), 0)
	})
}

func TestAdapter_BulkInsert(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		rows, err := adapter.BulkInsert("users", []driver.Row{
			{"name": "Alice"},
			{"name": "Bob"},
			{"name": "Carol"},
		})
		AssertNil(err)
		AssertEqual(len(rows), 3)
		AssertEqualJson(rows[0]["_id"], 1)
		AssertEqualJson(rows[2]["_id"], 3)
		AssertEqual(adapter.Count("users"), 3)

		next, err := adapter.Insert("users", driver.Row{"name": "Dave"})
		AssertNil(err)
		AssertEqualJson(next["_id"], 4)
	})
}

func TestAdapter_BulkInsertAllOrNothing(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		_, err := adapter.BulkInsert("users", []driver.Row{
			{"name": "Alice"},
			{"name": strings.Repeat("x", 300)},
		})
		AssertNotNil(err)
		AssertEqual(adapter.Count("users"), 0)

		// No id was burned by the failed batch.
		row, err := adapter.Insert("users", driver.Row{"name": "Bob"})
		AssertNil(err)
		AssertEqualJson(row["_id"], 1)
	})
}

func TestAdapter_Hooks(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		defer adapter.Close()

		type call struct {
			event driver.Event
			table string
			row   driver.Row
		}
		calls := []call{}
		record := func(event driver.Event) driver.HookFunc {
			return func(table string, row driver.Row) {
				calls = append(calls, call{event, table, row.Clone()})
			}
		}
		adapter.On(driver.BeforeInsert, record(driver.BeforeInsert))
		adapter.On(driver.AfterInsert, record(driver.AfterInsert))
		adapter.On(driver.BeforeUpdate, record(driver.BeforeUpdate))
		adapter.On(driver.AfterUpdate, record(driver.AfterUpdate))
		adapter.On(driver.BeforeDelete, record(driver.BeforeDelete))
		adapter.On(driver.AfterDelete, record(driver.AfterDelete))

		adapter.Insert("users", driver.Row{"name": "Alice", "city": "Porto"})
		adapter.Update("users", driver.Row{"city": "Madrid"}, driver.Filter{"name": "Alice"})
		adapter.Delete("users", driver.Filter{"name": "Alice"})

		AssertEqual(len(calls), 6)
		AssertEqual(calls[0].event, driver.BeforeInsert)
		AssertEqual(calls[0].table, "users")
		AssertEqual(calls[0].row["name"], "Alice")

		AssertEqual(calls[1].event, driver.AfterInsert)
		AssertEqualJson(calls[1].row["_id"], 1)

		// The update hooks see the delta going in and the merged row coming out.
		AssertEqual(calls[2].event, driver.BeforeUpdate)
		AssertEqualJson(calls[2].row, driver.Row{"city": "Madrid"})

		AssertEqual(calls[3].event, driver.AfterUpdate)
		AssertEqual(calls[3].row["name"], "Alice")
		AssertEqual(calls[3].row["city"], "Madrid")

		// The delete hooks see the removed row.
		AssertEqual(calls[4].event, driver.BeforeDelete)
		AssertEqual(calls[4].row["city"], "Madrid")
		AssertEqual(calls[5].event, driver.AfterDelete)
	})
}

func TestAdapter_PersistenceAcrossReopen(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		adapter.Insert("users", driver.Row{"name": "Alice", "city": "Porto"})
		adapter.Insert("users", driver.Row{"name": "Bob", "city": "Porto"})
		adapter.Insert("users", driver.Row{"name": "Carol", "city": "Madrid"})

		adapter.Update("users", driver.Row{"city": "Berlin"}, driver.Filter{"name": "Bob"})
		adapter.Delete("users", driver.Filter{"name": "Carol"})

		err := adapter.Close()
		AssertNil(err)

		reopened := Reopen(filename, nil)
		defer reopened.Close()

		rows, err := reopened.Select("users", driver.Filter{})
		AssertNil(err)
		AssertEqual(len(rows), 2)
		AssertEqual(rows[0]["name"], "Alice")
		AssertEqualJson(rows[0]["_id"], 1)
		AssertEqual(rows[1]["name"], "Bob")
		AssertEqual(rows[1]["city"], "Berlin")
		AssertEqualJson(rows[1]["_id"], 2)
	})
}

func TestAdapter_VacuumKeepsRows(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		pad := strings.Repeat("x", 200)
		adapter.Insert("blobs", driver.Row{"name": "a", "p1": pad, "p2": pad})
		adapter.Insert("blobs", driver.Row{"name": "b", "p1": pad, "p2": pad})
		adapter.Insert("blobs", driver.Row{"name": "c", "p1": pad, "p2": pad})

		adapter.Update("blobs", driver.Row{"name": "a2"}, driver.Filter{"name": "a"})
		adapter.Delete("blobs", driver.Filter{"name": "b"})

		before := fileSize(t, filename)
		err := adapter.Vacuum()
		AssertNil(err)
		after := fileSize(t, filename)
		AssertTrue(after < before)

		rows, err := adapter.Select("blobs", driver.Filter{})
		AssertNil(err)
		AssertEqual(len(rows), 2)
		AssertEqual(rows[0]["name"], "a2")
		AssertEqualJson(rows[0]["_id"], 1)
		AssertEqual(rows[1]["name"], "c")
		AssertEqualJson(rows[1]["_id"], 3)

		// Still all there after a restart.
		err = adapter.Close()
		AssertNil(err)
		reopened := Reopen(filename, nil)
		defer reopened.Close()

		rows, err = reopened.Select("blobs", driver.Filter{})
		AssertNil(err)
		AssertEqual(len(rows), 2)
		AssertEqual(rows[0]["name"], "a2")
	})
}

func TestAdapter_CloseRejectsOperations(t *testing.T) {
	Environment(nil, func(adapter *Adapter, filename string) {
		adapter.Insert("users", driver.Row{"name": "Alice"})

		err := adapter.Close()
		AssertNil(err)

		_, err = adapter.Select("users", driver.Filter{})
		AssertTrue(errors.Is(err, driver.ErrorClosed))

		_, err = adapter.Insert("users", driver.Row{"name": "Bob"})
		AssertTrue(errors.Is(err, driver.ErrorClosed))

		_, err = adapter.Delete("users", driver.Filter{})
		AssertTrue(errors.Is(err, driver.ErrorClosed))

		err = adapter.Vacuum()
		AssertTrue(errors.Is(err, driver.ErrorClosed))

		err = adapter.Close()
		AssertTrue(errors.Is(err, driver.ErrorClosed))
	})
}
