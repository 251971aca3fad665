package api

import (
	"context"

	"github.com/fulldump/box"

	"github.com/zpackdb/zpack/driver"
)

type incrementInput struct {
	Filter driver.Filter      `json:"filter"`
	Fields map[string]float64 `json:"fields"`
}

type incrementOutput struct {
	Affected int `json:"affected"`
}

func increment(ctx context.Context, input incrementInput) (*incrementOutput, error) {

	d := GetDriver(ctx)
	tableName := box.GetUrlParameter(ctx, "tableName")

	n, err := d.Increment(tableName, input.Fields, input.Filter)
	if err != nil {
		return nil, err
	}

	return &incrementOutput{Affected: n}, nil
}

func decrement(ctx context.Context, input incrementInput) (*incrementOutput, error) {

	d := GetDriver(ctx)
	tableName := box.GetUrlParameter(ctx, "tableName")

	n, err := d.Decrement(tableName, input.Fields, input.Filter)
	if err != nil {
		return nil, err
	}

	return &incrementOutput{Affected: n}, nil
}
