// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PollerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volteria",
		Name:      "poller_runs_total",
		Help:      "Background poller runs by poller and result.",
	}, []string{"poller", "result"})

	PollerAttemptFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volteria",
		Name:      "poller_attempt_failures_total",
		Help:      "Individual failed poll attempts, including retried ones.",
	}, []string{"poller"})

	HeartbeatsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "volteria",
		Name:      "heartbeats_ingested_total",
		Help:      "Heartbeats accepted from controller agents.",
	})

	HeartbeatsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "volteria",
		Name:      "heartbeats_pruned_total",
		Help:      "Heartbeat rows removed by retention.",
	})

	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volteria",
		Name:      "controller_registrations_total",
		Help:      "Controller registration attempts by outcome (created, resumed, rejected, conflict).",
	}, []string{"outcome"})

	DiagnosticRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "volteria",
		Name:      "diagnostic_runs_total",
		Help:      "Controller test suite runs by overall result.",
	}, []string{"result"})

	StepUpFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "volteria",
		Name:      "stepup_failures_total",
		Help:      "Rejected password re-verifications for sensitive actions.",
	})

	CommandsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "volteria",
		Name:      "commands_expired_total",
		Help:      "Agent commands expired before acknowledgement.",
	})

	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "volteria",
		Name:      "sse_clients",
		Help:      "Connected heartbeat stream clients.",
	})
)

// PollResult labels a finished poller run.
func PollResult(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
