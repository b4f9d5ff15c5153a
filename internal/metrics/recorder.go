package metrics

import (
	"time"

	"github.com/born-ml/statetree/internal/state"
)

// ResultLabel enumerates result categories for counters.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultFailed  ResultLabel = "failed"
)

// Result maps an outcome to its label.
func Result(ok bool) ResultLabel {
	if ok {
		return ResultSuccess
	}
	return ResultFailed
}

// Recorder defines observability hooks. Implementations may forward to
// Prometheus or any other backend.
type Recorder interface {
	// ObserveLoad reports one structural load from source into a live tree.
	ObserveLoad(source string, stats state.LoadStats, d time.Duration)
	// IncReload counts a hot reload attempt of a checkpoint file.
	IncReload(result ResultLabel)
	// ObserveSnapshot reports a snapshot store operation (save, get, list, delete).
	ObserveSnapshot(op string, d time.Duration, result ResultLabel)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveLoad(string, state.LoadStats, time.Duration) {}
func (NoopRecorder) IncReload(ResultLabel)                              {}
func (NoopRecorder) ObserveSnapshot(string, time.Duration, ResultLabel) {}
