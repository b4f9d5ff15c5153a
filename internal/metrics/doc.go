// Package metrics provides observability hooks for state tree loads,
// checkpoint reloads and snapshot store operations.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no nil checks are needed at call sites:
//
//	reloader := watch.New(path, target, watch.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// The state package itself never records anything; callers measure around
// Tree.LoadWithStats and report the returned stats.
package metrics
