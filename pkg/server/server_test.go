package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iddaa-lens/scheduler/pkg/jobs"
	"github.com/iddaa-lens/scheduler/pkg/logger"
	"github.com/iddaa-lens/scheduler/pkg/scheduler"
	"github.com/iddaa-lens/scheduler/pkg/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := scheduler.New(scheduler.Config{
		Name:    "server-test",
		Logger:  logger.Nop(),
		Metrics: scheduler.NewMetrics(reg),
	}, memory.New(memory.WithLogger(logger.Nop())), jobs.NewRunner(jobs.NewFactory(), 1))
	require.NoError(t, err)
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	srv := New(Options{Scheduler: s, Gatherer: reg}, logger.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_Routes(t *testing.T) {
	ts := newTestServer(t)

	status, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"name":"server-test"`)

	status, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "scheduler_loop_errors_total")

	status, body = get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "OK")

	status, _ = get(t, ts.URL+"/nope")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = get(t, ts.URL+"/api/jobs")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"total":0`)

	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", strings.NewReader(
		`{"name": "tick", "job_key": "log", "trigger": {"cron": {"expression": "0 * * * *"}}}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	status, body = get(t, ts.URL+"/api/jobs/tick")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"trigger_kind":"cron"`)
}

func TestServer_Shutdown(t *testing.T) {
	srv := New(Options{Addr: "127.0.0.1:0"}, logger.Nop())
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, srv.Start(), "a server shut down before starting returns immediately")
}
