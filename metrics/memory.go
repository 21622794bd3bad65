package metrics

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
	"github.com/saiset-co/vinyl-tracker/utils"
)

// MemoryMetrics keeps every series in process and serves them as JSON. It is
// meant for development and tests where a Prometheus scrape is overkill.
type MemoryMetrics struct {
	logger     types.Logger
	config     *types.MetricsConfig
	counters   map[string]*MemoryCounter
	gauges     map[string]*MemoryGauge
	histograms map[string]*MemoryHistogram
	state      types.StateHolder
	mu         sync.RWMutex
}

func NewMemoryMetrics(logger types.Logger, config *types.MetricsConfig) *MemoryMetrics {
	return &MemoryMetrics{
		logger:     logger,
		config:     config,
		counters:   make(map[string]*MemoryCounter),
		gauges:     make(map[string]*MemoryGauge),
		histograms: make(map[string]*MemoryHistogram),
	}
}

func (m *MemoryMetrics) Start() error {
	if !m.state.Transition(types.StateStopped, types.StateRunning) {
		return types.ErrServerAlreadyRunning
	}

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !m.state.Transition(types.StateRunning, types.StateStopped) {
		return types.ErrServerNotRunning
	}

	m.logger.Info("Memory metrics stopped")
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.state.IsRunning()
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := seriesKey(name, labels)

	m.mu.RLock()
	counter, exists := m.counters[key]
	m.mu.RUnlock()
	if exists {
		return counter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if counter, exists = m.counters[key]; !exists {
		counter = &MemoryCounter{name: name, labels: copyLabels(labels)}
		m.counters[key] = counter
	}
	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := seriesKey(name, labels)

	m.mu.RLock()
	gauge, exists := m.gauges[key]
	m.mu.RUnlock()
	if exists {
		return gauge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gauge, exists = m.gauges[key]; !exists {
		gauge = &MemoryGauge{name: name, labels: copyLabels(labels)}
		m.gauges[key] = gauge
	}
	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := seriesKey(name, labels)

	m.mu.RLock()
	histogram, exists := m.histograms[key]
	m.mu.RUnlock()
	if exists {
		return histogram
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if histogram, exists = m.histograms[key]; !exists {
		sorted := append([]float64(nil), buckets...)
		sort.Float64s(sorted)
		histogram = &MemoryHistogram{
			name:    name,
			labels:  copyLabels(labels),
			buckets: sorted,
			counts:  make([]uint64, len(sorted)+1),
		}
		m.histograms[key] = histogram
	}
	return histogram
}

// Snapshot returns every series ordered by name then labels.
func (m *MemoryMetrics) Snapshot() []types.MetricValue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values := make([]types.MetricValue, 0, len(m.counters)+len(m.gauges)+len(m.histograms))
	for _, c := range m.counters {
		values = append(values, types.MetricValue{Name: c.name, Type: "counter", Value: c.Get(), Labels: c.labels})
	}
	for _, g := range m.gauges {
		values = append(values, types.MetricValue{Name: g.name, Type: "gauge", Value: g.Get(), Labels: g.labels})
	}
	for _, h := range m.histograms {
		values = append(values, types.MetricValue{Name: h.name, Type: "histogram", Value: h.GetSum(), Labels: h.labels})
	}

	sort.Slice(values, func(i, j int) bool {
		return seriesKey(values[i].Name, values[i].Labels) < seriesKey(values[j].Name, values[j].Labels)
	})

	return values
}

func (m *MemoryMetrics) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		data, err := utils.Marshal(m.Snapshot())
		if err != nil {
			m.logger.Error("Failed to marshal metrics", zap.Error(err))
			ctx.Error("failed to marshal metrics", fasthttp.StatusInternalServerError)
			return
		}

		ctx.SetContentType("application/json")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBody(data)
	}
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	bits   atomic.Uint64
}

func (c *MemoryCounter) Inc() {
	c.Add(1)
}

func (c *MemoryCounter) Add(value float64) {
	if value < 0 {
		return
	}
	addFloat(&c.bits, value)
}

func (c *MemoryCounter) Get() float64 {
	return math.Float64frombits(c.bits.Load())
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	bits   atomic.Uint64
}

func (g *MemoryGauge) Set(value float64) {
	g.bits.Store(math.Float64bits(value))
}

func (g *MemoryGauge) Inc() {
	addFloat(&g.bits, 1)
}

func (g *MemoryGauge) Dec() {
	addFloat(&g.bits, -1)
}

func (g *MemoryGauge) Add(value float64) {
	addFloat(&g.bits, value)
}

func (g *MemoryGauge) Get() float64 {
	return math.Float64frombits(g.bits.Load())
}

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     atomic.Uint64
	count   atomic.Uint64
	mu      sync.Mutex
}

func (h *MemoryHistogram) Observe(value float64) {
	idx := sort.SearchFloat64s(h.buckets, value)

	h.mu.Lock()
	h.counts[idx]++
	h.mu.Unlock()

	h.count.Add(1)
	addFloat(&h.sum, value)
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *MemoryHistogram) GetCount() uint64 {
	return h.count.Load()
}

func (h *MemoryHistogram) GetSum() float64 {
	return math.Float64frombits(h.sum.Load())
}

func addFloat(bits *atomic.Uint64, delta float64) {
	for {
		old := bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if bits.CompareAndSwap(old, next) {
			return
		}
	}
}
