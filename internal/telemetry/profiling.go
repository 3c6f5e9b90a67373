package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

// Stage names the part of a session a profile sample was taken in.
type Stage string

const (
	StageHandshake   Stage = "handshake"
	StageMapIdentity Stage = "map_identity"
)

// Profile label keys.
const (
	labelStage     = "stage"
	labelMechanism = "mechanism"
)

var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

var profiling atomic.Bool

// startProfiler starts Pyroscope with the gridauth tags. The returned stop
// function is never nil.
func startProfiler(cfg Config) (stop func() error, err error) {
	profiling.Store(false)
	if !cfg.Profiling.Enabled {
		return func() error { return nil }, nil
	}

	names := cfg.Profiling.ProfileTypes
	if len(names) == 0 {
		names = DefaultProfileTypes
	}
	types, err := parseProfileTypes(names)
	if err != nil {
		return nil, err
	}
	if slices.Contains(names, "mutex_count") || slices.Contains(names, "mutex_duration") {
		runtime.SetMutexProfileFraction(5)
	}
	if slices.Contains(names, "block_count") || slices.Contains(names, "block_duration") {
		runtime.SetBlockProfileRate(5)
	}

	tags := map[string]string{"version": cfg.ServiceVersion}
	if cfg.Mechanism != "" {
		tags[labelMechanism] = cfg.Mechanism
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "gridauth." + cfg.ServiceName,
		ServerAddress:   cfg.Profiling.Endpoint,
		Tags:            tags,
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profiling.Store(true)

	return func() error {
		profiling.Store(false)
		return p.Stop()
	}, nil
}

func parseProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	types := make([]pyroscope.ProfileType, 0, len(names))
	for _, name := range names {
		pt, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile type %q", name)
		}
		types = append(types, pt)
	}
	return types, nil
}

// Profile runs fn with profile labels naming the session stage and, once it
// is known, the mechanism. Without profiling fn runs directly.
func Profile(ctx context.Context, stage Stage, mechanism string, fn func(context.Context)) {
	if !profiling.Load() {
		fn(ctx)
		return
	}
	labels := []string{labelStage, string(stage)}
	if mechanism != "" {
		labels = append(labels, labelMechanism, mechanism)
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(labels...), fn)
}

// IsProfilingEnabled reports whether a profiler is running.
func IsProfilingEnabled() bool {
	return profiling.Load()
}
