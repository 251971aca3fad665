package main

import (
	"net/http"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/zpackdb/zpack/bootstrap"
	"github.com/zpackdb/zpack/configuration"
)

type JSON = map[string]any

func Parallel(workers int, f func()) {
	wg := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	wg.Wait()
}

func TempPath(name string) (string, func()) {
	dir, err := os.MkdirTemp("", "zpack_bench_*")
	if err != nil {
		panic("Could not create temp directory: " + err.Error())
	}

	cleanup := func() {
		os.RemoveAll(dir)
	}

	return path.Join(dir, name), cleanup
}

// NewTable picks a fresh table name. Tables are implicit, naming one is all
// it takes.
func NewTable() string {
	return "bench-" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

func NewClient() *http.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     1024,
		MaxIdleConns:        1024,
		MaxIdleConnsPerHost: 1024,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// CreateServer boots an embedded zpackd on the default address and points
// the benchmark at it.
func CreateServer(c *Config) (start, stop func(), dataPath string) {
	file, cleanup := TempPath("bench.zpack")
	if c.Engine == "sqlite" {
		file, cleanup = TempPath("bench.db")
	}
	cleanups = append(cleanups, cleanup)

	conf := configuration.Default()
	conf.Path = file
	conf.Engine = c.Engine
	conf.LogLevel = "warn"
	c.Base = "http://" + conf.HttpAddr

	start, stop = bootstrap.Bootstrap(conf)
	return start, stop, file
}
