package api

import (
	"context"

	"github.com/fulldump/box"

	"github.com/zpackdb/zpack/driver"
)

type setInput struct {
	Filter driver.Filter `json:"filter"`
	Set    driver.Row    `json:"set"`
}

type setOutput struct {
	Updated int `json:"updated"`
}

// set upserts: rows matching the filter are patched, and when nothing
// matches a new row is born from the filter plus the set values.
func set(ctx context.Context, input setInput) (*setOutput, error) {

	d := GetDriver(ctx)
	tableName := box.GetUrlParameter(ctx, "tableName")

	n, err := d.Set(tableName, input.Set, input.Filter)
	if err != nil {
		return nil, err
	}

	return &setOutput{Updated: n}, nil
}
