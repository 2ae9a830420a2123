// Package metrics holds the Prometheus collectors each binary registers.
// Every recorder is nil-safe so callers can run without a registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "towline"

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func outcome(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeOK
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) bool {
	if reg == nil {
		return false
	}
	reg.MustRegister(cs...)
	return true
}
