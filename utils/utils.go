package utils

import (
	"encoding/json"
	"sort"
)

// GetKeys returns the map keys sorted, so callers iterate deterministically.
func GetKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Remarshal deep copies input into output through JSON.
func Remarshal(input interface{}, output interface{}) error {
	b, err := json.Marshal(input)
	if nil != err {
		return err
	}
	return json.Unmarshal(b, output)
}
