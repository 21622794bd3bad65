package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/vinyl-tracker/logger"
	"github.com/saiset-co/vinyl-tracker/types"
	"github.com/saiset-co/vinyl-tracker/utils"
)

func TestNewMetrics(t *testing.T) {
	log := logger.NewNop()

	_, err := NewMetrics(log, &types.MetricsConfig{Enabled: false})
	assert.ErrorIs(t, err, types.ErrMetricsIsDisabled)

	_, err = NewMetrics(log, &types.MetricsConfig{Enabled: true, Type: "statsd"})
	assert.ErrorIs(t, err, types.ErrMetricsTypeUnknown)

	m, err := NewMetrics(log, &types.MetricsConfig{Enabled: true, Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryMetrics{}, m)

	m, err = NewMetrics(log, &types.MetricsConfig{Enabled: true, Type: "prometheus", Namespace: "test"})
	require.NoError(t, err)
	assert.IsType(t, &PrometheusMetrics{}, m)
}

func TestMemoryMetrics_SeriesAreSharedByLabels(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), &types.MetricsConfig{})

	m.Counter("ops", map[string]string{"a": "1", "b": "2"}).Inc()
	m.Counter("ops", map[string]string{"b": "2", "a": "1"}).Add(2)
	m.Counter("ops", map[string]string{"a": "other", "b": "2"}).Inc()

	assert.Equal(t, 3.0, m.Counter("ops", map[string]string{"a": "1", "b": "2"}).Get())
	assert.Equal(t, 1.0, m.Counter("ops", map[string]string{"a": "other", "b": "2"}).Get())
}

func TestMemoryMetrics_GaugeAndHistogram(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), &types.MetricsConfig{})

	g := m.Gauge("entries", nil)
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Add(-2.5)
	assert.Equal(t, 7.5, g.Get())

	h := m.Histogram("latency", []float64{0.1, 0.01, 1}, nil)
	h.Observe(0.05)
	h.Observe(5)
	h.ObserveDuration(time.Now())
	assert.Equal(t, uint64(3), h.GetCount())
	assert.InDelta(t, 5.05, h.GetSum(), 0.01)
}

func TestMemoryMetrics_Lifecycle(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), &types.MetricsConfig{})

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.ErrorIs(t, m.Start(), types.ErrServerAlreadyRunning)
	require.NoError(t, m.Stop())
	assert.ErrorIs(t, m.Stop(), types.ErrServerNotRunning)
}

func TestMemoryMetrics_Handler(t *testing.T) {
	m := NewMemoryMetrics(logger.NewNop(), &types.MetricsConfig{})
	m.Counter("cache_operations_total", map[string]string{"dataset": "vinyl"}).Inc()

	ctx := &fasthttp.RequestCtx{}
	m.Handler()(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var values []types.MetricValue
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &values))
	require.Len(t, values, 1)
	assert.Equal(t, "cache_operations_total", values[0].Name)
	assert.Equal(t, "vinyl", values[0].Labels["dataset"])
	assert.Equal(t, 1.0, values[0].Value)
}

func TestPrometheusMetrics_CountersAndGauges(t *testing.T) {
	p := NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{Namespace: "vt"})

	labels := map[string]string{"dataset": "vinyl", "operation": "get", "result": "hit"}
	p.Counter("cache_operations_total", labels).Inc()
	p.Counter("cache_operations_total", labels).Add(2)
	assert.Equal(t, 3.0, p.Counter("cache_operations_total", labels).Get())

	g := p.Gauge("cache_entries", map[string]string{"dataset": "vinyl"})
	g.Set(4)
	g.Dec()
	assert.Equal(t, 3.0, g.Get())

	h := p.Histogram("cache_operation_duration_seconds", []float64{0.001, 0.1}, map[string]string{"dataset": "vinyl"})
	h.Observe(0.01)
	assert.Equal(t, uint64(1), h.GetCount())
	assert.InDelta(t, 0.01, h.GetSum(), 1e-9)

	families, err := p.Registry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "vt_cache_operations_total")
	assert.Contains(t, names, "vt_cache_entries")
}

func TestPrometheusMetrics_Handler(t *testing.T) {
	p := NewPrometheusMetrics(logger.NewNop(), &types.MetricsConfig{Namespace: "vt"})
	p.Counter("cache_evictions_total", map[string]string{"dataset": "vinyl", "reason": "capacity"}).Inc()

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	p.Handler()(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `vt_cache_evictions_total{dataset="vinyl",reason="capacity"} 1`)
}
