package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ToolCalls(t *testing.T) {
	m := New()

	m.ObserveToolCall("execute_command", "success", 10*time.Millisecond)
	m.ObserveToolCall("execute_command", "success", 20*time.Millisecond)
	m.ObserveToolCall("file_operation", "rejected", 0)

	count, err := testutil.GatherAndCount(m.registry, "mcp_tool_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per tool/status pair")

	durations, err := testutil.GatherAndCount(m.registry, "mcp_tool_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, durations, "rejected calls carry no duration")
}

func TestMetrics_RequestsAndSessions(t *testing.T) {
	m := New()
	m.TrackSessions(func() int { return 3 })
	m.ObserveRequest("tools/list", -32002)
	m.ObserveRequest("initialize", 0)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `mcp_requests_total{code="-32002",method="tools/list"} 1`)
	assert.Contains(t, string(body), `mcp_requests_total{code="0",method="initialize"} 1`)
	assert.Contains(t, string(body), "mcp_active_connections 3")
	assert.Contains(t, string(body), "go_goroutines")
}
