package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, shutdown, err := New(Config{})
	require.NoError(t, err)
	defer func() { assert.NoError(t, shutdown(context.Background())) }()

	counter, err := tel.MeterProvider.Meter("test").Int64Counter("tcc.test")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnabledTelemetryServesCounters(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "tcc-test"})
	require.NoError(t, err)
	defer func() { assert.NoError(t, shutdown(context.Background())) }()

	counter, err := tel.MeterProvider.Meter("test").Int64Counter("tcc.recovery.attempts")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	srv := httptest.NewServer(tel.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tcc_recovery_attempts")
}
