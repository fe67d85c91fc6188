package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/ptyhost/internal/pty"
)

func TestMetricsCountEvents(t *testing.T) {
	live := 2
	m := New(func() int { return live })

	m.RecordSpawn(pty.SessionInfo{ID: "a"})
	m.NotifyData(pty.DataEvent{SessionID: "a", Data: "hello"})
	m.NotifyData(pty.DataEvent{SessionID: "a", Data: "!"})
	m.NotifyExit(pty.ExitEvent{SessionID: "a", Code: 0})
	m.NotifyExit(pty.ExitEvent{SessionID: "b", Code: 2})
	m.NotifyExit(pty.ExitEvent{SessionID: "c", Code: pty.ExitUnknown})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsSpawned))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.OutputBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionExits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionExits.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionExits.WithLabelValues("unknown")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsActive))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(func() int { return 0 })
	m.RecordSpawn(pty.SessionInfo{})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ptyhost_sessions_spawned_total 1")
	assert.Contains(t, string(body), "ptyhost_sessions_active 0")
}
