package driver

import "sync"

// Event identifies a lifecycle hook point.
type Event string

const (
	BeforeInsert Event = "beforeInsert"
	AfterInsert  Event = "afterInsert"
	BeforeUpdate Event = "beforeUpdate"
	AfterUpdate  Event = "afterUpdate"
	BeforeDelete Event = "beforeDelete"
	AfterDelete  Event = "afterDelete"
)

// HookFunc receives the table name and the payload relevant to the event:
// the row being stored for inserts, the delta for beforeUpdate, the merged
// row for afterUpdate and the removed row for deletes. Callbacks run
// synchronously inside the operation that triggered them.
type HookFunc func(table string, row Row)

// Hooks is a reusable hook registry. The zero value is ready to use.
type Hooks struct {
	mu        sync.RWMutex
	callbacks map[Event][]HookFunc
}

func (h *Hooks) On(event Event, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.callbacks == nil {
		h.callbacks = map[Event][]HookFunc{}
	}
	h.callbacks[event] = append(h.callbacks[event], fn)
}

// Fire runs every callback registered for event, in registration order, and
// returns only when all of them have completed.
func (h *Hooks) Fire(event Event, table string, row Row) {
	h.mu.RLock()
	callbacks := h.callbacks[event]
	h.mu.RUnlock()

	for _, fn := range callbacks {
		fn(table, row)
	}
}
