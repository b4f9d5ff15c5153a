package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/born-ml/statetree/internal/state"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prom.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveLoad("file", state.LoadStats{Copied: 3, Skipped: 1}, 15*time.Millisecond)
	pr.ObserveLoad("file", state.LoadStats{Copied: 2, Incompatible: 4}, 5*time.Millisecond)
	pr.IncReload(ResultSuccess)
	pr.IncReload(ResultFailed)
	pr.IncReload(ResultFailed)
	pr.ObserveSnapshot("save", time.Millisecond, ResultSuccess)

	assert.Equal(t, 5.0, counterValue(t, reg, "statetree_load_tensors_total", map[string]string{"source": "file", "outcome": "copied"}))
	assert.Equal(t, 4.0, counterValue(t, reg, "statetree_load_tensors_total", map[string]string{"source": "file", "outcome": "incompatible"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "statetree_reloads_total", map[string]string{"result": "failed"}))
}

func TestNilPrometheusRecorder(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.ObserveLoad("x", state.LoadStats{}, 0)
		pr.IncReload(ResultSuccess)
		pr.ObserveSnapshot("get", 0, ResultFailed)
	})
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveLoad("x", state.LoadStats{Copied: 1}, time.Second)
	r.IncReload(Result(true))
	r.ObserveSnapshot("list", 0, Result(false))
	assert.Equal(t, ResultFailed, Result(false))
}

func TestHTTPHandler(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncReload(ResultSuccess)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "statetree_reloads_total"))
}
