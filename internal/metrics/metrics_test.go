// ABOUTME: Tests for the botfleet Prometheus collectors and exposition handler
// ABOUTME: Checks counter labels, gauge values and nil-receiver safety

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.BotStart(nil)
	m.BotStart(errors.New("already running"))
	m.BotTransition("online", 1)
	m.BotTransition("offline", 0)
	m.PluginActivation("sampleplugin", "per_bot", nil)
	m.PluginActivation("sampleplugin", "per_bot", errors.New("boom"))
	m.PluginInstall("install", nil)
	m.SetBundles(3)
	m.SetObservers(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.botStarts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.botStarts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.botTransitions.WithLabelValues("online")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.botsRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pluginActivations.WithLabelValues("sampleplugin", "per_bot", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pluginInstalls.WithLabelValues("install", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.bundles))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.observers))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.BotStart(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `botfleet_bot_starts_total{result="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.BotStart(nil)
	m.BotTransition("online", 1)
	m.PluginActivation("p", "per_bot", nil)
	m.PluginInstall("install", nil)
	m.SetBundles(1)
	m.SetObservers(1)
}
