package api

import (
	"context"

	"github.com/fulldump/box"

	"github.com/zpackdb/zpack/driver"
)

type patchInput struct {
	Filter driver.Filter `json:"filter"`
	Patch  driver.Row    `json:"patch"`
}

type patchOutput struct {
	Updated int `json:"updated"`
}

func patch(ctx context.Context, input patchInput) (*patchOutput, error) {

	d := GetDriver(ctx)
	tableName := box.GetUrlParameter(ctx, "tableName")

	n, err := d.Update(tableName, input.Patch, input.Filter)
	if err != nil {
		return nil, err
	}

	return &patchOutput{Updated: n}, nil
}
