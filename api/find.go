package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/fulldump/box"

	"github.com/zpackdb/zpack/driver"
)

type findInput struct {
	Filter driver.Filter `json:"filter"`
	Limit  int           `json:"limit"`
	Skip   int           `json:"skip"`
}

// find streams matching rows in stable id order, one JSON document per
// line. A limit of zero means no limit; an empty body matches everything.
func find(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	input := findInput{}
	err := json.NewDecoder(r.Body).Decode(&input)
	if err != nil && err != io.EOF {
		return err
	}

	d := GetDriver(ctx)
	tableName := box.GetUrlParameter(ctx, "tableName")

	rows, err := d.Select(tableName, input.Filter)
	if err != nil {
		return err
	}

	if input.Skip > 0 {
		if input.Skip >= len(rows) {
			rows = nil
		} else {
			rows = rows[input.Skip:]
		}
	}
	if input.Limit > 0 && input.Limit < len(rows) {
		rows = rows[:input.Limit]
	}

	jsonWriter := json.NewEncoder(w)
	for _, row := range rows {
		jsonWriter.Encode(row)
	}

	return nil
}
