package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

func TestFind(c Config) {

	if c.Base == "" {
		start, stop, _ := CreateServer(&c)
		defer stop()
		go start()
	}

	table := NewTable()
	client := NewClient()

	{
		fmt.Println("Preload documents...")
		r, w := io.Pipe()

		encoder := json.NewEncoder(w)
		go func() {
			for i := int64(0); i < c.N; i++ {
				encoder.Encode(JSON{
					"id": strconv.FormatInt(i, 10),
					"n":  i,
				})
			}
			w.Close()
		}()

		req, err := http.NewRequest("POST", c.Base+"/tables/"+table+":insert", r)
		if err != nil {
			fmt.Println("ERROR: new request:", err.Error())
			os.Exit(3)
		}

		resp, err := client.Do(req)
		if err != nil {
			fmt.Println("ERROR: do request:", err.Error())
			os.Exit(4)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	findURL := c.Base + "/tables/" + table + ":find"

	// Each worker looks up c.N/Workers random ids by exact match.
	lookups := c.N / int64(c.Workers)
	if lookups == 0 {
		lookups = 1
	}

	var misses int64

	t0 := time.Now()
	Parallel(c.Workers, func() {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for i := int64(0); i < lookups; i++ {
			id := rnd.Int63n(c.N)
			body := fmt.Sprintf(`{"filter":{"id":"%d"},"limit":1}`, id)

			req, err := http.NewRequest(http.MethodPost, findURL, strings.NewReader(body))
			if err != nil {
				fmt.Println("ERROR: new request:", err.Error())
				continue
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				fmt.Println("ERROR: do request:", err.Error())
				continue
			}
			n, _ := io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if n == 0 {
				atomic.AddInt64(&misses, 1)
			}
		}
	})

	took := time.Since(t0)
	total := lookups * int64(c.Workers)
	fmt.Println("lookups:", total)
	fmt.Println("misses:", atomic.LoadInt64(&misses))
	fmt.Println("took:", took)
	fmt.Printf("Throughput: %.2f lookups/sec\n", float64(total)/took.Seconds())
}
