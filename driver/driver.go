package driver

import (
	"errors"

	"github.com/zpackdb/zpack/utils"
)

// Row is one logical document. The logical id travels in the "_id" field.
type Row map[string]any

// Reserved field names. Drivers own them: values supplied by callers under
// these keys are discarded.
const (
	FieldID    = "_id"
	FieldTable = "_table"
)

// Filter selects rows by exact match on every listed field (conjunction).
// An empty filter matches everything.
type Filter map[string]any

var (
	ErrorClosed       = errors.New("driver is closed")
	ErrorNotSupported = errors.New("operation not supported by this driver")
)

// Driver is the uniform contract every storage backend satisfies. Mutating
// operations return the number of affected rows; lookups return resolved
// values (a missing row is a nil Row, not an error).
type Driver interface {
	Select(table string, filter Filter) ([]Row, error)
	SelectOne(table string, filter Filter) (Row, error)
	Insert(table string, row Row) (Row, error)
	BulkInsert(table string, rows []Row) ([]Row, error)
	Update(table string, delta Row, filter Filter) (int, error)
	Set(table string, delta Row, filter Filter) (int, error)
	Delete(table string, filter Filter) (int, error)
	Increment(table string, deltas map[string]float64, filter Filter) (int, error)
	Decrement(table string, deltas map[string]float64, filter Filter) (int, error)
	Close() error
}

// Hooker is satisfied by drivers that dispatch lifecycle hooks.
type Hooker interface {
	On(event Event, fn HookFunc)
}

// Vacuumer is satisfied by drivers that can compact their storage in place.
type Vacuumer interface {
	Vacuum() error
}

// Tabler is satisfied by drivers that can enumerate their tables.
type Tabler interface {
	Tables() []string
	Count(table string) int
}

// Clone returns a deep copy of the row, decoupled through JSON so nested
// maps and slices are copied too. Values JSON cannot carry degrade to a
// shallow copy.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	clone := Row{}
	err := utils.Remarshal(map[string]any(r), &clone)
	if err != nil {
		for k, v := range r {
			clone[k] = v
		}
	}
	return clone
}
