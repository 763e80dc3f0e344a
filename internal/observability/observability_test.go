package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveStage("vision", 1500*time.Millisecond, "ok")
	r.ObserveStage("vision", 200*time.Millisecond, "upstream-unavailable")
	r.ObserveRun("completed")
	r.AddLLMUsage(1000, 200, 0.0011)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageResults.WithLabelValues("vision", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stageResults.WithLabelValues("vision", "upstream-unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("completed")))
	assert.InDelta(t, 0.0011, testutil.ToFloat64(r.llmCost), 1e-12)
	assert.Equal(t, 1000.0, testutil.ToFloat64(r.llmTokens.WithLabelValues("input")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.stageDuration))

	ts := httptest.NewServer(Handler(reg))
	defer ts.Close()
	res, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	var body bytes.Buffer
	body.ReadFrom(res.Body)
	assert.Contains(t, body.String(), "listing_pipeline_stage_duration_seconds_count{stage=\"vision\"} 2")
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveStage("vision", time.Second, "ok")
		r.ObserveRun("completed")
		r.AddLLMUsage(1, 1, 1)
	})
}

func TestInitTracing(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(&buf)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "stage vision")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.True(t, strings.Contains(buf.String(), "stage vision"))
}
