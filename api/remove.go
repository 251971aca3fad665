package api

import (
	"context"

	"github.com/fulldump/box"

	"github.com/zpackdb/zpack/driver"
)

type removeInput struct {
	Filter driver.Filter `json:"filter"`
}

type removeOutput struct {
	Removed int `json:"removed"`
}

func remove(ctx context.Context, input removeInput) (*removeOutput, error) {

	d := GetDriver(ctx)
	tableName := box.GetUrlParameter(ctx, "tableName")

	n, err := d.Delete(tableName, input.Filter)
	if err != nil {
		return nil, err
	}

	return &removeOutput{Removed: n}, nil
}
