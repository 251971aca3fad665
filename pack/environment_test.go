package pack

import (
	"fmt"
	"os"
	"time"
)

// Environment provides a disposable store filename and removes it (and any
// vacuum leftover) when the test is done.
func Environment(f func(filename string)) {
	filename := fmt.Sprintf("temp-store-%v", time.Now().UnixNano())
	defer os.Remove(filename)
	defer os.Remove(filename + ".vacuum")

	f(filename)
}
