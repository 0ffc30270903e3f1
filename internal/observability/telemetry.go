package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TelemetrySystem and PrometheusExporter are set by InitTelemetry and stay
// nil while metrics are disabled. The serve readiness check reports the
// telemetry subsystem unhealthy while either is nil.
var (
	TelemetrySystem    *Telemetry
	PrometheusExporter *Exporter
)

// InitTelemetry wires the process metric registry and its exporter under
// the given metric namespace.
func InitTelemetry(namespace string) *Telemetry {
	t := NewTelemetry()
	TelemetrySystem = t
	PrometheusExporter = NewExporter(t, namespace)
	return t
}

// Counter is a monotonically increasing metric.
type Counter struct {
	v atomic.Int64
}

// Inc adds one.
func (c *Counter) Inc() { c.v.Add(1) }

// Add adds n.
func (c *Counter) Add(n int64) { c.v.Add(n) }

// Value returns the current count.
func (c *Counter) Value() int64 { return c.v.Load() }

type counterEntry struct {
	help    string
	counter *Counter
}

type gaugeEntry struct {
	help string
	read func() float64
}

// Telemetry is a registry of process metrics. Counters are owned by the
// registry and shared by name; gauges are read at scrape time.
type Telemetry struct {
	mu       sync.RWMutex
	counters map[string]*counterEntry
	gauges   map[string]*gaugeEntry
	started  time.Time
}

// NewTelemetry returns a registry with the uptime gauge pre-registered.
func NewTelemetry() *Telemetry {
	t := &Telemetry{
		counters: make(map[string]*counterEntry),
		gauges:   make(map[string]*gaugeEntry),
		started:  time.Now(),
	}
	t.RegisterGauge("uptime_seconds", "Seconds since telemetry was initialized.", func() float64 {
		return time.Since(t.started).Seconds()
	})
	return t
}

// Counter returns the counter registered under name, creating it on first
// use. The help text of the first registration wins.
func (t *Telemetry) Counter(name, help string) *Counter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.counters[name]; ok {
		return entry.counter
	}
	entry := &counterEntry{help: help, counter: &Counter{}}
	t.counters[name] = entry
	return entry.counter
}

// RegisterGauge registers a gauge read at scrape time. Re-registering a
// name replaces the previous reader.
func (t *Telemetry) RegisterGauge(name, help string, read func() float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gauges[name] = &gaugeEntry{help: help, read: read}
}

type metricPoint struct {
	name  string
	help  string
	kind  string
	value float64
}

// collect snapshots every metric, sorted by name for stable output.
func (t *Telemetry) collect() []metricPoint {
	t.mu.RLock()
	points := make([]metricPoint, 0, len(t.counters)+len(t.gauges))
	for name, entry := range t.counters {
		points = append(points, metricPoint{
			name:  name,
			help:  entry.help,
			kind:  "counter",
			value: float64(entry.counter.Value()),
		})
	}
	for name, entry := range t.gauges {
		points = append(points, metricPoint{
			name:  name,
			help:  entry.help,
			kind:  "gauge",
			value: entry.read(),
		})
	}
	t.mu.RUnlock()

	sort.Slice(points, func(i, j int) bool { return points[i].name < points[j].name })
	return points
}

// Exporter serves a telemetry registry in the Prometheus text exposition
// format.
type Exporter struct {
	telemetry *Telemetry
	namespace string
}

// NewExporter returns an exporter that prefixes every metric with
// namespace.
func NewExporter(t *Telemetry, namespace string) *Exporter {
	return &Exporter{telemetry: t, namespace: namespace}
}

func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	for _, p := range e.telemetry.collect() {
		name := p.name
		if e.namespace != "" {
			name = e.namespace + "_" + p.name
		}
		fmt.Fprintf(&b, "# HELP %s %s\n", name, p.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, p.kind)
		fmt.Fprintf(&b, "%s %s\n", name, strconv.FormatFloat(p.value, 'g', -1, 64))
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}
