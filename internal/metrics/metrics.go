// ABOUTME: Prometheus collectors for bot lifecycle, plugin activation and install outcomes
// ABOUTME: Uses a private registry so tests can build independent instances; all methods are nil-safe

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "botfleet"

// Metrics holds every collector botfleet exports.
type Metrics struct {
	registry *prometheus.Registry

	botsRunning       prometheus.Gauge
	botTransitions    *prometheus.CounterVec
	botStarts         *prometheus.CounterVec
	pluginActivations *prometheus.CounterVec
	pluginInstalls    *prometheus.CounterVec
	bundles           prometheus.Gauge
	observers         prometheus.Gauge
}

// New registers all collectors, plus the Go runtime and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		botsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bots_running",
			Help:      "Bots currently tracked in the running map.",
		}),
		botTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_transitions_total",
			Help:      "Bot status transitions by resulting status.",
		}, []string{"status"}),
		botStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_starts_total",
			Help:      "Start requests by result.",
		}, []string{"result"}),
		pluginActivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_activations_total",
			Help:      "Plugin Init calls by plugin, mode and result.",
		}, []string{"plugin", "mode", "result"}),
		pluginInstalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_installs_total",
			Help:      "Install and uninstall operations by result.",
		}, []string{"op", "result"}),
		bundles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugin_bundles",
			Help:      "Bundles currently registered.",
		}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_observers",
			Help:      "Connected status observers.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.botsRunning,
		m.botTransitions,
		m.botStarts,
		m.pluginActivations,
		m.pluginInstalls,
		m.bundles,
		m.observers,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// BotStart counts a start request.
func (m *Metrics) BotStart(err error) {
	if m == nil {
		return
	}
	m.botStarts.WithLabelValues(result(err)).Inc()
}

// BotTransition counts a status change and updates the running gauge.
func (m *Metrics) BotTransition(status string, running int) {
	if m == nil {
		return
	}
	m.botTransitions.WithLabelValues(status).Inc()
	m.botsRunning.Set(float64(running))
}

// PluginActivation counts a plugin Init call.
func (m *Metrics) PluginActivation(plugin, mode string, err error) {
	if m == nil {
		return
	}
	m.pluginActivations.WithLabelValues(plugin, mode, result(err)).Inc()
}

// PluginInstall counts an install or uninstall.
func (m *Metrics) PluginInstall(op string, err error) {
	if m == nil {
		return
	}
	m.pluginInstalls.WithLabelValues(op, result(err)).Inc()
}

// SetBundles records how many bundles are registered.
func (m *Metrics) SetBundles(n int) {
	if m == nil {
		return
	}
	m.bundles.Set(float64(n))
}

// SetObservers records how many status observers are connected.
func (m *Metrics) SetObservers(n int) {
	if m == nil {
		return
	}
	m.observers.Set(float64(n))
}
