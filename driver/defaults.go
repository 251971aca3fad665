package driver

import (
	"time"

	"github.com/google/uuid"
)

// ApplyDefaults fills absent fields of row from a defaults template. The
// values "uuid()", "unixnano()" and "auto()" generate a fresh value per row,
// with auto() resolving to the row's own id; anything else applies verbatim.
func ApplyDefaults(defaults map[string]any, row Row, id int64) {
	for field, template := range defaults {
		_, present := row[field]
		if present {
			continue
		}
		switch template {
		case "uuid()":
			row[field] = uuid.New().String()
		case "unixnano()":
			row[field] = time.Now().UnixNano()
		case "auto()":
			row[field] = id
		default:
			row[field] = template
		}
	}
}
