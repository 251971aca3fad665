package driver

import (
	"fmt"
	"strconv"

	"github.com/SierraSoftworks/connor"
	json2 "github.com/go-json-experiment/json"

	"github.com/zpackdb/zpack/utils"
)

// Match reports whether row satisfies every condition in filter. Both sides
// are normalized through JSON first so equal numbers compare equal whatever
// concrete type they arrive in.
func Match(filter Filter, row Row) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}

	conds := map[string]interface{}{}
	err := utils.Remarshal(map[string]any(filter), &conds)
	if err != nil {
		return false, fmt.Errorf("normalize filter: %w", err)
	}

	data := map[string]interface{}{}
	err = utils.Remarshal(map[string]any(row), &data)
	if err != nil {
		return false, fmt.Errorf("normalize row: %w", err)
	}

	return connor.Match(conds, data)
}

// Canonical renders a value to its deterministic JSON form. It is the key
// representation for secondary indexes and caches: two values share a
// canonical form exactly when they are equal after JSON normalization.
func Canonical(v any) string {
	b, err := json2.Marshal(v, json2.Deterministic(true))
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

// Numeric coerces a stored field value for arithmetic. Absent and null fields
// count as zero; numeric strings are accepted because older files stored
// every value as a raw string.
func Numeric(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", n)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("value %v is not numeric", v)
}
