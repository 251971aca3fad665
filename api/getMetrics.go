package api

import (
	"github.com/zpackdb/zpack/metrics"
)

func getMetrics(registry *metrics.Registry) func() map[string]metrics.OpStats {
	return func() map[string]metrics.OpStats {
		if registry == nil {
			return map[string]metrics.OpStats{}
		}
		return registry.Snapshot()
	}
}
