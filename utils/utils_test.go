package utils

import (
	"testing"

	. "github.com/fulldump/biff"
)

func TestGetKeys(t *testing.T) {

	keys := GetKeys(map[string]int{
		"banana": 2,
		"apple":  1,
		"cherry": 3,
	})

	AssertEqual(keys, []string{"apple", "banana", "cherry"})
}

func TestGetKeysEmpty(t *testing.T) {

	keys := GetKeys(map[string]any{})

	AssertEqual(len(keys), 0)
}

func TestRemarshal(t *testing.T) {

	input := map[string]any{
		"name":   "Fulanez",
		"visits": 10,
	}

	output := struct {
		Name   string  `json:"name"`
		Visits float64 `json:"visits"`
	}{}

	err := Remarshal(input, &output)

	AssertNil(err)
	AssertEqual(output.Name, "Fulanez")
	AssertEqual(output.Visits, 10.0)
}

func TestRemarshalUnsupported(t *testing.T) {

	err := Remarshal(map[string]any{"bad": make(chan int)}, &map[string]any{})

	AssertNotNil(err)
}
