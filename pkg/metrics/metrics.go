// Package metrics defines the observability hooks of the authentication
// service. Implementations live in sub-packages; every consumer accepts a
// nil ServiceMetrics to disable collection with zero overhead.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ServiceMetrics provides observability for the connection lifecycle and
// the authentication sessions running on it.
//
// Example usage:
//
//	metrics.InitRegistry()
//	m := prometheus.NewServiceMetrics()
//	srv := server.New(cfg, handler, m)
type ServiceMetrics interface {
	// RecordConnectionAccepted increments the total accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the total closed connections counter.
	RecordConnectionClosed()

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordHandshake records the result of one handshake. mechanism may be
	// empty when the failure happened before the mechanism was known.
	RecordHandshake(mechanism string, err error)

	// RecordSession records a finished session.
	//
	// Parameters:
	//   - outcome: "succeeded", "failure_sent", "abandoned" or "rejected"
	//   - anonymous: true when no local identity was mapped
	//   - duration: time from accept to close
	RecordSession(outcome string, anonymous bool, duration time.Duration)
}

var (
	registryMu sync.RWMutex
	registry   *prometheus.Registry
)

// InitRegistry creates the process registry with the Go runtime and process
// collectors. Calling it again replaces the registry.
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registryMu.Lock()
	registry = reg
	registryMu.Unlock()
	return reg
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry
}

// ResetRegistry disables metrics. Intended for tests.
func ResetRegistry() {
	registryMu.Lock()
	registry = nil
	registryMu.Unlock()
}
