package metrics

import (
	"sync"
	"time"
)

// Recorder receives one timing sample per completed operation. It is always
// injected; implementations must be safe for concurrent use.
type Recorder interface {
	Record(op string, d time.Duration)
}

// Nop discards every sample.
var Nop Recorder = nopRecorder{}

type nopRecorder struct{}

func (nopRecorder) Record(string, time.Duration) {}

// OpStats aggregates the samples recorded under one operation name.
type OpStats struct {
	Count int64         `json:"count"`
	Total time.Duration `json:"total_ns"`
	Min   time.Duration `json:"min_ns"`
	Max   time.Duration `json:"max_ns"`
}

// Registry is a Recorder that aggregates samples per operation name.
type Registry struct {
	mu  sync.Mutex
	ops map[string]*OpStats
}

func NewRegistry() *Registry {
	return &Registry{
		ops: map[string]*OpStats{},
	}
}

func (r *Registry) Record(op string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.ops[op]
	if s == nil {
		s = &OpStats{Min: d}
		r.ops[op] = s
	}
	s.Count++
	s.Total += d
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
}

// Snapshot copies the aggregated stats keyed by operation name.
func (r *Registry) Snapshot() map[string]OpStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]OpStats, len(r.ops))
	for k, v := range r.ops {
		out[k] = *v
	}
	return out
}
