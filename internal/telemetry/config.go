package telemetry

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config describes the tracing and profiling of one gridauth process.
type Config struct {
	// ServiceName identifies the process ("authservice", "authclient").
	ServiceName    string
	ServiceVersion string

	// Mechanism is the credential mechanism the process serves. It is
	// attached to the trace resource and to every profile.
	Mechanism string

	Tracing   TracingConfig
	Profiling ProfilingConfig
}

// TracingConfig configures the OTLP/gRPC trace exporter.
type TracingConfig struct {
	Enabled bool

	// Endpoint is the collector address, host:port.
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of sessions traced, 0.0 to 1.0.
	SampleRate float64
}

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool

	// Endpoint is the Pyroscope server URL.
	Endpoint string

	// ProfileTypes names the profiles to collect; see profileTypes.
	// Empty selects DefaultProfileTypes.
	ProfileTypes []string
}

// DefaultProfileTypes covers what a session-per-goroutine service spends:
// CPU in ticket and certificate verification, allocations in framing and
// goroutines per connection.
var DefaultProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}

// DefaultConfig returns the configuration of a disabled authservice.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "authservice",
		ServiceVersion: "dev",
		Tracing: TracingConfig{
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		Profiling: ProfilingConfig{
			Endpoint: "http://localhost:4040",
		},
	}
}

// sampler maps SampleRate onto a root sampler. Session spans are always
// roots: no trace context crosses the authentication wire.
func (c TracingConfig) sampler() sdktrace.Sampler {
	switch {
	case c.SampleRate >= 1.0:
		return sdktrace.AlwaysSample()
	case c.SampleRate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(c.SampleRate)
	}
}

func (c Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("telemetry: service name is required")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("telemetry: tracing endpoint is required")
	}
	if c.Profiling.Enabled && c.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry: profiling endpoint is required")
	}
	return nil
}
