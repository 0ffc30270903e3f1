package observability

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry_Counter(t *testing.T) {
	tel := NewTelemetry()

	c := tel.Counter("events_total", "Events applied.")
	c.Inc()
	c.Add(4)
	assert.Equal(t, int64(5), c.Value())

	t.Run("same name returns same counter", func(t *testing.T) {
		again := tel.Counter("events_total", "ignored")
		assert.Same(t, c, again)
		assert.Equal(t, int64(5), again.Value())
	})
}

func TestTelemetry_RegisterGauge(t *testing.T) {
	tel := NewTelemetry()
	tel.RegisterGauge("open_jobs", "Jobs without an end event.", func() float64 { return 3 })

	points := tel.collect()
	require.Len(t, points, 2)
	assert.Equal(t, "open_jobs", points[0].name)
	assert.Equal(t, "gauge", points[0].kind)
	assert.Equal(t, float64(3), points[0].value)
	assert.Equal(t, "uptime_seconds", points[1].name)
}

func TestTelemetry_ConcurrentCounters(t *testing.T) {
	tel := NewTelemetry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tel.Counter("hits_total", "").Inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(800), tel.Counter("hits_total", "").Value())
}

func TestExporter_ServeHTTP(t *testing.T) {
	tel := NewTelemetry()
	tel.Counter("results_total", "Results emitted.").Add(12)
	tel.RegisterGauge("open_jobs", "Jobs without an end event.", func() float64 { return 2 })

	exporter := NewExporter(tel, "gotempus")
	rec := httptest.NewRecorder()
	exporter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "# HELP gotempus_results_total Results emitted.")
	assert.Contains(t, body, "# TYPE gotempus_results_total counter")
	assert.Contains(t, body, "gotempus_results_total 12")
	assert.Contains(t, body, "# TYPE gotempus_open_jobs gauge")
	assert.Contains(t, body, "gotempus_open_jobs 2")
}

func TestInitTelemetry(t *testing.T) {
	origSystem := TelemetrySystem
	origExporter := PrometheusExporter
	defer func() {
		TelemetrySystem = origSystem
		PrometheusExporter = origExporter
	}()

	tel := InitTelemetry("gotempus")
	require.NotNil(t, tel)
	assert.Same(t, tel, TelemetrySystem)
	require.NotNil(t, PrometheusExporter)
}
