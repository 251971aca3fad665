package api

import (
	"context"

	"github.com/zpackdb/zpack/cache"
	"github.com/zpackdb/zpack/driver"
)

func getStats(ctx context.Context) (*cache.Stats, error) {

	c, ok := GetDriver(ctx).(*cache.Driver)
	if !ok {
		return nil, driver.ErrorNotSupported
	}

	stats := c.Stats()
	return &stats, nil
}
