package api

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/fulldump/apitest"
)

// Save renders one request/response exchange as a markdown example. Files
// are only written when API_EXAMPLES_PATH points somewhere.
func Save(response *apitest.Response, title, description string) {

	request := response.Request

	s := ""

	s += "# " + title + "\n"
	s += cropIndentation(description) + "\n"

	s += "Curl example:\n\n"

	s += "```sh\n"

	method := request.Method
	if "GET" == method {
		method = ""
	} else {
		method = "-X " + method + " "
	}

	query := request.URL.RawQuery
	if "" != query {
		query = "?" + query
	}

	s += "curl " + method + "\"https://example.com" + request.URL.Path + query + "\""
	for _, k := range sortedKeys(request.Header) {
		for _, v := range request.Header[k] {
			s += " \\\n-H \"" + k + ": " + v + "\""
		}
	}
	requestBody := formatJSON(response.BodyRequestString())
	if "" != requestBody {
		s += " \\\n-d '" + requestBody + "'"
	}

	s += "\n```\n\n\n"

	s += "HTTP request/response example:\n\n"

	s += "```http\n"

	s += request.Method + " " + request.URL.Path + query + " " + request.Proto + "\n"
	s += "Host: example.com\n"
	for _, k := range sortedKeys(request.Header) {
		for _, v := range request.Header[k] {
			s += k + ": " + v + "\n"
		}
	}
	s += "\n"

	s += formatJSON(response.BodyRequestString()) + "\n\n"

	s += response.Proto + " " + response.Status + "\n"
	for _, k := range sortedKeys(response.Header) {
		if k == "Date" {
			// Stubbed, examples should not churn on every run.
			s += "Date: Mon, 15 Aug 2022 02:08:13 GMT\n"
			continue
		}
		for _, v := range response.Header[k] {
			s += k + ": " + v + "\n"
		}
	}
	s += "\n"

	s += formatJSON(response.BodyString()) + "\n"

	s += "```\n\n\n"

	writeExample(strings.ToLower(title)+".md", s)
}

func sortedKeys(header map[string][]string) []string {
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatJSON pretty-prints a single JSON document. Anything else, an NDJSON
// stream included, passes through untouched.
func formatJSON(body string) string {

	var i interface{}

	err := json.Unmarshal([]byte(body), &i)
	if nil != err {
		return body
	}

	bytes, err := json.MarshalIndent(i, "", "    ")
	if nil != err {
		return body
	}

	return string(bytes)
}

func writeExample(filename, text string) {
	if text == "" {
		return
	}
	examplesPath := os.Getenv("API_EXAMPLES_PATH")
	if examplesPath == "" {
		return
	}

	filename = strings.Replace(filename, " ", "_", -1)
	p := path.Join(examplesPath, path.Clean(filename))
	err := os.WriteFile(p, []byte(text), 0666)
	if nil != err {
		fmt.Println("Saving err:", err)
	}
}

// cropIndentation strips the common leading tabs that raw string literals
// pick up from the source indentation.
func cropIndentation(d string) string {

	lines := strings.Split(d, "\n")

	first := 0
	last := len(lines)
	if len(lines) > 2 {
		first++
		last--
	}

	minTabs := -1
	for _, line := range lines[first:last] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		c := countTabs(line)
		if minTabs == -1 || c < minTabs {
			minTabs = c
		}
	}
	if minTabs <= 0 {
		return d
	}

	prefix := strings.Repeat("\t", minTabs)
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}

	return strings.Join(lines, "\n")
}

func countTabs(d string) int {
	i := 0
	for _, c := range d {
		if c != '\t' {
			break
		}
		i++
	}

	return i
}
