package api

import (
	"context"

	"github.com/fulldump/box"

	"github.com/zpackdb/zpack/driver"
	"github.com/zpackdb/zpack/metrics"
)

func Build(d driver.Driver, registry *metrics.Registry, version string) *box.B {

	b := box.NewBox()

	b.WithInterceptors(
		injectDriver(d),
	)

	// Action names are set explicitly: the default derivation from the
	// function symbol mangles slashed package paths.
	b.Resource("/").
		WithActions(
			box.Get(func() map[string]any {
				return map[string]any{
					"service": "zpackd",
					"version": version,
				}
			}).WithName("banner"),
		)

	b.Resource("/release").
		WithActions(
			box.Get(func() string {
				return version
			}).WithName("release"),
		)

	b.Resource("/tables").
		WithActions(
			box.Get(listTables).WithName("listTables"),
		)

	b.Resource("/tables/{tableName}").
		WithActions(
			box.ActionPost(insert).WithName("insert"),
			box.ActionPost(find).WithName("find"),
			box.ActionPost(patch).WithName("patch"),
			box.ActionPost(set).WithName("set"),
			box.ActionPost(remove).WithName("remove"),
			box.ActionPost(increment).WithName("increment"),
			box.ActionPost(decrement).WithName("decrement"),
		)

	b.Resource("/vacuum").
		WithActions(
			box.Post(vacuum).WithName("vacuum"),
		)

	b.Resource("/metrics").
		WithActions(
			box.Get(getMetrics(registry)).WithName("getMetrics"),
		)

	b.Resource("/stats").
		WithActions(
			box.Get(getStats).WithName("getStats"),
		)

	return b
}

func injectDriver(d driver.Driver) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			next(SetDriver(ctx, d))
		}
	}
}
