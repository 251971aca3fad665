package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/fulldump/box"

	"github.com/zpackdb/zpack/driver"
)

// insert accepts one JSON object or a stream of them and echoes each
// inserted row back, one JSON document per line.
func insert(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	d := GetDriver(ctx)
	tableName := box.GetUrlParameter(ctx, "tableName")

	jsonReader := json.NewDecoder(r.Body)
	jsonWriter := json.NewEncoder(w)

	for i := 0; true; i++ {
		row := driver.Row{}
		err := jsonReader.Decode(&row)
		if err == io.EOF {
			if i == 0 {
				w.WriteHeader(http.StatusNoContent)
			}
			return nil
		}
		if err != nil {
			return err
		}

		inserted, err := d.Insert(tableName, row)
		if err != nil {
			return err
		}

		if i == 0 {
			w.WriteHeader(http.StatusCreated)
		}
		jsonWriter.Encode(inserted)
	}

	return nil
}
