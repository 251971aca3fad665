package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fulldump/apitest"
	"github.com/fulldump/biff"
)

type JSON = map[string]interface{}

// Acceptance runs the whole HTTP contract against an already built server.
// It only assumes an empty database, so every engine must pass it verbatim.
func Acceptance(a *biff.A, apiRequest func(method, path string) *apitest.Request) {

	a.Alternative("Server banner", func(a *biff.A) {
		resp := apiRequest("GET", "/").Do()
		Save(resp, "Server banner", ``)

		biff.AssertEqual(resp.StatusCode, http.StatusOK)
		body := resp.BodyJson().(map[string]interface{})
		biff.AssertEqual(body["service"], "zpackd")
	})

	a.Alternative("Release", func(a *biff.A) {
		resp := apiRequest("GET", "/release").Do()

		biff.AssertEqual(resp.StatusCode, http.StatusOK)
	})

	a.Alternative("Insert one user", func(a *biff.A) {
		myUser := JSON{
			"id":      "my-id",
			"name":    "Fulanez",
			"address": "Elm Street 11",
		}
		resp := apiRequest("POST", "/tables/users:insert").
			WithBodyJson(myUser).Do()
		Save(resp, "Insert one", ``)

		biff.AssertEqual(resp.StatusCode, http.StatusCreated)
		expectedBody := JSON{
			"_id":     1,
			"id":      "my-id",
			"name":    "Fulanez",
			"address": "Elm Street 11",
		}
		biff.AssertEqualJson(resp.BodyJson(), expectedBody)

		a.Alternative("Find by name", func(a *biff.A) {
			resp := apiRequest("POST", "/tables/users:find").
				WithBodyJson(JSON{
					"filter": JSON{
						"name": "Fulanez",
					},
				}).Do()
			Save(resp, "Find by filter", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), expectedBody)
		})

		a.Alternative("Find with no match", func(a *biff.A) {
			resp := apiRequest("POST", "/tables/users:find").
				WithBodyJson(JSON{
					"filter": JSON{
						"name": "Nobody",
					},
				}).Do()

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqual(resp.BodyString(), "")
		})
	})

	a.Alternative("Insert a stream", func(a *biff.A) {

		myUsers := []JSON{
			{"id": "1", "name": "Alfonso", "city": "Madrid"},
			{"id": "2", "name": "Gerardo", "city": "Sevilla"},
			{"id": "3", "name": "Alfonso", "city": "Madrid"},
		}

		body := ""
		for _, myUser := range myUsers {
			line, _ := json.Marshal(myUser)
			body += string(line) + "\n"
		}
		resp := apiRequest("POST", "/tables/users:insert").
			WithBodyString(body).Do()
		Save(resp, "Insert many", ``)

		biff.AssertEqual(resp.StatusCode, http.StatusCreated)

		dec := json.NewDecoder(strings.NewReader(resp.BodyString()))
		for i, myUser := range myUsers {
			expected := JSON{"_id": i + 1}
			for k, v := range myUser {
				expected[k] = v
			}
			var bodyRow interface{}
			dec.Decode(&bodyRow)
			biff.AssertEqualJson(bodyRow, expected)
		}

		a.Alternative("Find with skip and limit", func(a *biff.A) {
			resp := apiRequest("POST", "/tables/users:find").
				WithBodyJson(JSON{
					"skip":  1,
					"limit": 1,
				}).Do()
			Save(resp, "Find with skip and limit", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{
				"_id":  2,
				"id":   "2",
				"name": "Gerardo",
				"city": "Sevilla",
			})
		})

		a.Alternative("Patch by filter", func(a *biff.A) {
			resp := apiRequest("POST", "/tables/users:patch").
				WithBodyJson(JSON{
					"filter": JSON{
						"name": "Alfonso",
					},
					"patch": JSON{
						"country": "es",
					},
				}).Do()
			Save(resp, "Patch by filter", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"updated": 2})

			{
				resp := apiRequest("POST", "/tables/users:find").
					WithBodyJson(JSON{
						"filter": JSON{
							"country": "es",
						},
					}).Do()

				dec := json.NewDecoder(strings.NewReader(resp.BodyString()))
				patched := 0
				for dec.More() {
					var bodyRow map[string]interface{}
					dec.Decode(&bodyRow)
					biff.AssertEqual(bodyRow["name"], "Alfonso")
					biff.AssertEqual(bodyRow["country"], "es")
					patched++
				}
				biff.AssertEqual(patched, 2)
			}
		})

		a.Alternative("Remove by filter", func(a *biff.A) {
			resp := apiRequest("POST", "/tables/users:remove").
				WithBodyJson(JSON{
					"filter": JSON{
						"id": "2",
					},
				}).Do()
			Save(resp, "Remove by filter", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"removed": 1})

			{
				resp := apiRequest("POST", "/tables/users:find").
					WithBodyJson(JSON{}).Do()

				dec := json.NewDecoder(strings.NewReader(resp.BodyString()))
				remaining := 0
				for dec.More() {
					var bodyRow interface{}
					dec.Decode(&bodyRow)
					remaining++
				}
				biff.AssertEqual(remaining, 2)
			}
		})

		a.Alternative("Increment visits", func(a *biff.A) {
			resp := apiRequest("POST", "/tables/users:increment").
				WithBodyJson(JSON{
					"filter": JSON{
						"id": "1",
					},
					"fields": JSON{
						"visits": 3,
					},
				}).Do()
			Save(resp, "Increment", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"affected": 1})

			{
				resp := apiRequest("POST", "/tables/users:find").
					WithBodyJson(JSON{
						"filter": JSON{"id": "1"},
					}).Do()
				body := resp.BodyJson().(map[string]interface{})
				biff.AssertEqualJson(body["visits"], 3)
			}

			a.Alternative("Decrement them back", func(a *biff.A) {
				resp := apiRequest("POST", "/tables/users:decrement").
					WithBodyJson(JSON{
						"filter": JSON{
							"id": "1",
						},
						"fields": JSON{
							"visits": 2,
						},
					}).Do()
				Save(resp, "Decrement", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqualJson(resp.BodyJson(), JSON{"affected": 1})

				{
					resp := apiRequest("POST", "/tables/users:find").
						WithBodyJson(JSON{
							"filter": JSON{"id": "1"},
						}).Do()
					body := resp.BodyJson().(map[string]interface{})
					biff.AssertEqualJson(body["visits"], 1)
				}
			})
		})

		a.Alternative("Set upserts", func(a *biff.A) {
			resp := apiRequest("POST", "/tables/users:set").
				WithBodyJson(JSON{
					"filter": JSON{
						"id": "9",
					},
					"set": JSON{
						"name": "Nueva",
					},
				}).Do()
			Save(resp, "Set", `
				Set patches every row matching the filter. When nothing
				matches, the filter fields and the set fields become a
				brand new row.
			`)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"updated": 1})

			{
				resp := apiRequest("POST", "/tables/users:find").
					WithBodyJson(JSON{
						"filter": JSON{"id": "9"},
					}).Do()
				body := resp.BodyJson().(map[string]interface{})
				biff.AssertEqual(body["name"], "Nueva")
			}
		})

		a.Alternative("List tables", func(a *biff.A) {
			resp := apiRequest("GET", "/tables").Do()
			Save(resp, "List tables", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), []JSON{
				{"name": "users", "total": 3},
			})
		})

		a.Alternative("Vacuum", func(a *biff.A) {
			resp := apiRequest("POST", "/vacuum").Do()
			Save(resp, "Vacuum", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"ok": true})

			{
				resp := apiRequest("POST", "/tables/users:find").
					WithBodyJson(JSON{}).Do()

				dec := json.NewDecoder(strings.NewReader(resp.BodyString()))
				kept := 0
				for dec.More() {
					var bodyRow interface{}
					dec.Decode(&bodyRow)
					kept++
				}
				biff.AssertEqual(kept, 3)
			}
		})
	})

	a.Alternative("Insert nothing", func(a *biff.A) {
		resp := apiRequest("POST", "/tables/users:insert").Do()

		biff.AssertEqual(resp.StatusCode, http.StatusNoContent)
	})

	a.Alternative("Insert malformed JSON", func(a *biff.A) {
		resp := apiRequest("POST", "/tables/users:insert").
			WithBodyString("{oops").Do()
		Save(resp, "Error - malformed JSON", ``)

		biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
		body := resp.BodyJson().(map[string]interface{})
		errorBody := body["error"].(map[string]interface{})
		biff.AssertEqual(errorBody["description"], "Malformed JSON")
	})

	a.Alternative("Unknown resource", func(a *biff.A) {
		resp := apiRequest("GET", "/nope").Do()
		Save(resp, "Error - not found", ``)

		biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
		body := resp.BodyJson().(map[string]interface{})
		errorBody := body["error"].(map[string]interface{})
		biff.AssertEqual(errorBody["description"], "resource '/nope' not found")
	})

	a.Alternative("Method not allowed", func(a *biff.A) {
		resp := apiRequest("DELETE", "/tables").Do()

		biff.AssertEqual(resp.StatusCode, http.StatusMethodNotAllowed)
	})

	a.Alternative("Metrics", func(a *biff.A) {
		resp := apiRequest("GET", "/metrics").Do()

		biff.AssertEqual(resp.StatusCode, http.StatusOK)
	})
}
