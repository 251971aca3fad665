package api

import (
	"context"
	"sort"

	"github.com/zpackdb/zpack/driver"
)

type tableInfo struct {
	Name  string `json:"name"`
	Total int    `json:"total"`
}

func listTables(ctx context.Context) ([]tableInfo, error) {

	d := GetDriver(ctx)
	tabler, ok := d.(driver.Tabler)
	if !ok {
		return nil, driver.ErrorNotSupported
	}

	names := tabler.Tables()
	sort.Strings(names)

	result := make([]tableInfo, 0, len(names))
	for _, name := range names {
		result = append(result, tableInfo{
			Name:  name,
			Total: tabler.Count(name),
		})
	}

	return result, nil
}
