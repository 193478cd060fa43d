package cinderlink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/cinderlink/internal/testutil"
)

func checkNamed(status HealthStatus, name string) (CheckResult, bool) {
	for _, c := range status.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

func TestReadinessChecks_NotRunning(t *testing.T) {
	net := testutil.NewNetwork()
	c := newTestClient(t, net.NewNode(t))

	status := c.ReadinessChecks()
	assert.False(t, status.Healthy)
	running, ok := checkNamed(status, "client_running")
	require.True(t, ok)
	assert.False(t, running.Healthy)
	assert.False(t, c.IsHealthy())
}

func TestReadinessChecks_RunningWithoutBootstrap(t *testing.T) {
	net := testutil.NewNetwork()
	c := newTestClient(t, net.NewNode(t))
	startClient(t, c)

	status := c.ReadinessChecks()
	assert.True(t, status.Healthy)
	assert.Len(t, status.Checks, 4)
	server, ok := checkNamed(status, "server_connection")
	require.True(t, ok)
	assert.True(t, server.Healthy)
	assert.Equal(t, "no server connected", server.Message)
}

func TestReadinessChecks_BootstrapUnreachable(t *testing.T) {
	net := testutil.NewNetwork()
	server := net.NewNode(t)
	server.SetUnreachable(true)

	c := newTestClient(t, net.NewNode(t), WithBootstrapAddrs(server.P2PAddr()))
	startClient(t, c)

	status := c.ReadinessChecks()
	assert.False(t, status.Healthy)
	check, ok := checkNamed(status, "server_connection")
	require.True(t, ok)
	assert.False(t, check.Healthy)
}

func TestHealthHandlers(t *testing.T) {
	net := testutil.NewNetwork()
	c := newTestClient(t, net.NewNode(t))

	rec := httptest.NewRecorder()
	LivenessHandler(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	startClient(t, c)

	rec = httptest.NewRecorder()
	LivenessHandler(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"healthy":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HealthHandler(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)

	require.NoError(t, c.Stop(context.Background()))
	rec = httptest.NewRecorder()
	HealthHandler(c).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
