package table

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/zpackdb/zpack/pack"
)

// Environment provides a ready Adapter over a disposable file and removes the
// file when the test is done. Options may be nil.
func Environment(options *Options, f func(adapter *Adapter, filename string)) {
	filename := fmt.Sprintf("temp-table-%v", time.Now().UnixNano())
	defer os.Remove(filename)
	defer os.Remove(filename + ".vacuum")

	if options == nil {
		options = &Options{}
	}

	store, err := pack.Open(pack.Options{Path: filename})
	if err != nil {
		panic(err)
	}
	adapter, err := Open(store, *options)
	if err != nil {
		panic(err)
	}

	f(adapter, filename)
}

func fileSize(t *testing.T, filename string) int64 {
	info, err := os.Stat(filename)
	if err != nil {
		t.Fatal(err)
	}
	return info.Size()
}

// Reopen closes nothing; it builds a fresh Adapter over the file as a new
// process would.
func Reopen(filename string, options *Options) *Adapter {
	if options == nil {
		options = &Options{}
	}
	store, err := pack.Open(pack.Options{Path: filename})
	if err != nil {
		panic(err)
	}
	adapter, err := Open(store, *options)
	if err != nil {
		panic(err)
	}
	return adapter
}
