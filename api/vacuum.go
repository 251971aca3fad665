package api

import (
	"context"

	"github.com/zpackdb/zpack/driver"
)

type vacuumOutput struct {
	Ok bool `json:"ok"`
}

func vacuum(ctx context.Context) (*vacuumOutput, error) {

	d := GetDriver(ctx)
	vacuumer, ok := d.(driver.Vacuumer)
	if !ok {
		return nil, driver.ErrorNotSupported
	}

	err := vacuumer.Vacuum()
	if err != nil {
		return nil, err
	}

	return &vacuumOutput{Ok: true}, nil
}
