// Package metrics exposes Prometheus instrumentation for the control channel,
// the trigger loop and transition sessions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sunddc"

var registry = prometheus.NewRegistry()

var (
	controlCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "control_calls_total",
		Help:      "Calls to the DDC control tool by verb and result.",
	}, []string{"verb", "result"})

	triggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "triggers_total",
		Help:      "Transitions started by the time trigger, by direction and reason.",
	}, []string{"direction", "reason"})

	sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transition_sessions_total",
		Help:      "Finished transition sessions by outcome.",
	}, []string{"outcome"})

	steps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "brightness_steps_total",
		Help:      "Brightness writes issued by the transition engine.",
	})

	desyncSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "desync_skips_total",
		Help:      "Monitor ticks skipped because brightness moved outside the engine.",
	})

	trackedMonitors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_monitors",
		Help:      "Monitors with a last-known brightness.",
	})

	transitionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "transition_active",
		Help:      "1 while a transition session is stepping.",
	})

	locationRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "location_refreshes_total",
		Help:      "Sunrise/sunset refresh attempts by result.",
	}, []string{"result"})
)

func init() {
	registry.MustRegister(
		controlCalls,
		triggers,
		sessions,
		steps,
		desyncSkips,
		trackedMonitors,
		transitionActive,
		locationRefreshes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler returns the HTTP handler serving the metrics registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ControlCall records one control tool call.
func ControlCall(verb, result string) {
	controlCalls.WithLabelValues(verb, result).Inc()
}

// Trigger records a transition started by the time trigger.
func Trigger(direction, reason string) {
	triggers.WithLabelValues(direction, reason).Inc()
}

// SessionFinished records the outcome of a transition session.
func SessionFinished(outcome string) {
	sessions.WithLabelValues(outcome).Inc()
}

func Step() { steps.Inc() }

func DesyncSkip() { desyncSkips.Inc() }

// SetTracked sets the number of monitors with a last-known brightness.
func SetTracked(n int) { trackedMonitors.Set(float64(n)) }

// SetActive sets the transition_active gauge.
func SetActive(active bool) {
	if active {
		transitionActive.Set(1)
		return
	}
	transitionActive.Set(0)
}

// LocationRefresh records a sun time refresh attempt.
func LocationRefresh(result string) {
	locationRefreshes.WithLabelValues(result).Inc()
}
