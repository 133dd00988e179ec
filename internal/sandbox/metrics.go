package sandbox

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// SandboxMetrics exports the Sandbox Supervisor's OTel instruments (§4.5
// "structured telemetry"), grounded on internal/llm/observability.go's
// once-initialized-counter idiom (ensureTokenInstruments/RecordTokenMetrics).
type SandboxMetrics struct {
	once sync.Once

	runsStarted   otelmetric.Int64Counter
	runsCompleted otelmetric.Int64Counter
	oomAborts     otelmetric.Int64Counter
	timeoutAborts otelmetric.Int64Counter
	peakMemory    otelmetric.Float64Histogram
	runDuration   otelmetric.Float64Histogram
}

var defaultMetrics = &SandboxMetrics{}

func (s *SandboxMetrics) ensure() {
	s.once.Do(func() {
		m := otel.Meter("internal/sandbox")
		s.runsStarted, _ = m.Int64Counter("sandbox.runs_started", otelmetric.WithDescription("Sandboxed runs started"))
		s.runsCompleted, _ = m.Int64Counter("sandbox.runs_completed", otelmetric.WithDescription("Sandboxed runs that reached a terminal state"))
		s.oomAborts, _ = m.Int64Counter("sandbox.oom_aborts", otelmetric.WithDescription("Runs aborted for exceeding the memory limit"))
		s.timeoutAborts, _ = m.Int64Counter("sandbox.timeout_aborts", otelmetric.WithDescription("Runs aborted for exceeding the time limit"))
		s.peakMemory, _ = m.Float64Histogram("sandbox.peak_memory_mb", otelmetric.WithDescription("Peak observed RSS per run, in MB"))
		s.runDuration, _ = m.Float64Histogram("sandbox.run_duration_seconds", otelmetric.WithDescription("Wall-clock duration of sandboxed runs"))
	})
}

func (s *SandboxMetrics) RecordStart(ctx context.Context) {
	s.ensure()
	if s.runsStarted != nil {
		s.runsStarted.Add(ctx, 1)
	}
}

func (s *SandboxMetrics) RecordCompletion(ctx context.Context, reason string, durationSeconds, peakMemoryMB float64) {
	s.ensure()
	attrs := otelmetric.WithAttributes(attribute.String("reason", reason))
	if s.runsCompleted != nil {
		s.runsCompleted.Add(ctx, 1, attrs)
	}
	if s.runDuration != nil {
		s.runDuration.Record(ctx, durationSeconds, attrs)
	}
	if s.peakMemory != nil {
		s.peakMemory.Record(ctx, peakMemoryMB, attrs)
	}
	switch reason {
	case "oom":
		if s.oomAborts != nil {
			s.oomAborts.Add(ctx, 1)
		}
	case "timeout":
		if s.timeoutAborts != nil {
			s.timeoutAborts.Add(ctx, 1)
		}
	}
}
