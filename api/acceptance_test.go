package api

import (
	"io"
	"log/slog"
	"net/http"
	"path"
	"testing"

	"github.com/fulldump/apitest"
	"github.com/fulldump/biff"

	"github.com/zpackdb/zpack/cache"
	"github.com/zpackdb/zpack/metrics"
	"github.com/zpackdb/zpack/pack"
	"github.com/zpackdb/zpack/sqlite"
	"github.com/zpackdb/zpack/table"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcceptancePack(t *testing.T) {

	biff.Alternative("Setup", func(a *biff.A) {

		registry := metrics.NewRegistry()

		st, err := pack.Open(pack.Options{
			Path:    path.Join(t.TempDir(), "acceptance.zpack"),
			Metrics: registry,
		})
		biff.AssertNil(err)

		adapter, err := table.Open(st, table.Options{
			IndexFields: map[string][]string{
				"users": {"name"},
			},
			Metrics: registry,
		})
		biff.AssertNil(err)

		b := Build(adapter, registry, "test")
		b.WithInterceptors(
			RecoverFromPanic(discardLogger()),
			PrettyErrorInterceptor,
		)

		api := apitest.NewWithHandler(Handler(b))

		Acceptance(a, func(method, path string) *apitest.Request {
			return api.Request(method, path)
		})
	})
}

func TestAcceptanceSQLite(t *testing.T) {

	biff.Alternative("Setup", func(a *biff.A) {

		registry := metrics.NewRegistry()

		d, err := sqlite.Open(sqlite.Options{
			Path:    path.Join(t.TempDir(), "acceptance.db"),
			Metrics: registry,
		})
		biff.AssertNil(err)

		b := Build(d, registry, "test")
		b.WithInterceptors(
			RecoverFromPanic(discardLogger()),
			PrettyErrorInterceptor,
		)

		api := apitest.NewWithHandler(Handler(b))

		Acceptance(a, func(method, path string) *apitest.Request {
			return api.Request(method, path)
		})
	})
}

func TestAcceptanceCache(t *testing.T) {

	biff.Alternative("Setup", func(a *biff.A) {

		registry := metrics.NewRegistry()

		st, err := pack.Open(pack.Options{
			Path: path.Join(t.TempDir(), "acceptance.zpack"),
		})
		biff.AssertNil(err)

		adapter, err := table.Open(st, table.Options{})
		biff.AssertNil(err)

		cached := cache.New(adapter, cache.Options{
			Size:    128,
			Metrics: registry,
		})

		b := Build(cached, registry, "test")
		b.WithInterceptors(
			RecoverFromPanic(discardLogger()),
			PrettyErrorInterceptor,
		)

		api := apitest.NewWithHandler(Handler(b))

		Acceptance(a, func(method, path string) *apitest.Request {
			return api.Request(method, path)
		})

		a.Alternative("Cache stats", func(a *biff.A) {
			api.Request("POST", "/tables/users:insert").
				WithBodyJson(JSON{"name": "Fulanez"}).Do()
			api.Request("POST", "/tables/users:find").
				WithBodyJson(JSON{"filter": JSON{"name": "Fulanez"}}).Do()
			api.Request("POST", "/tables/users:find").
				WithBodyJson(JSON{"filter": JSON{"name": "Fulanez"}}).Do()

			resp := api.Request("GET", "/stats").Do()
			Save(resp, "Cache stats", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			body := resp.BodyJson().(map[string]interface{})
			biff.AssertEqualJson(body["hits"], 1)
			biff.AssertEqualJson(body["misses"], 1)
		})
	})
}

func TestStatsWithoutCache(t *testing.T) {

	biff.Alternative("Setup", func(a *biff.A) {

		d, err := sqlite.Open(sqlite.Options{
			Path: path.Join(t.TempDir(), "stats.db"),
		})
		biff.AssertNil(err)

		b := Build(d, nil, "test")
		b.WithInterceptors(PrettyErrorInterceptor)

		api := apitest.NewWithHandler(Handler(b))

		resp := api.Request("GET", "/stats").Do()

		biff.AssertEqual(resp.StatusCode, http.StatusNotImplemented)
	})
}
