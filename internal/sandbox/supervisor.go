// Package sandbox implements the Sandbox Supervisor (spec §4.5): the
// process-level boundary around one Step Loop run. It races the run itself
// against a wall-clock timeout and a periodic resource-sampling check,
// aborting early on either, and always records start/completion metrics
// (plus a bounded output transcript when CaptureOutput is set) regardless of
// how the run ended.
//
// Grounded on the teacher's internal/agent/engine.go, which has no
// equivalent supervisory layer of its own (the teacher runs its engine loop
// directly under the caller's context); the concurrent
// run-vs-timeout-vs-monitor race is original to this package, built with
// golang.org/x/sync/errgroup in the idiom the rest of the pack uses it
// (e.g. concurrent fan-out in data-pipeline examples), generalized here to
// a "first abort wins" supervisory race instead of a fan-out/fan-in.
package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ntegrals/openbrowser/internal/config"
	"github.com/ntegrals/openbrowser/internal/stepper"
)

// RunFunc is the supervised unit of work: a single Step Loop run.
type RunFunc func(ctx context.Context) (stepper.Outcome, error)

// Report is what the Supervisor returns once the run has reached a terminal
// state, whether that's the run finishing on its own or the supervisor
// aborting it.
type Report struct {
	Outcome       stepper.Outcome
	Err           error
	AbortReason   string // "", "oom", or "timeout"
	PeakMemoryMB  float64
	DurationSec   float64
	Output        []byte
	OutputDropped int
}

// Supervisor bounds one RunFunc invocation by the configured memory and
// time limits (§4.5 "resource monitoring", "OOM abort").
type Supervisor struct {
	cfg     config.SandboxConfig
	monitor *ResourceMonitor
	metrics *SandboxMetrics
}

// New builds a Supervisor. monitor may be nil (e.g. the monitored pid could
// not be resolved, or memory limiting is disabled) — Supervise then skips
// the resource-sampling race and only enforces the timeout.
func New(cfg config.SandboxConfig, monitor *ResourceMonitor) *Supervisor {
	return &Supervisor{cfg: cfg, monitor: monitor, metrics: defaultMetrics}
}

// Supervise runs fn to completion, unless the configured memory limit or
// timeout trips first, in which case fn's context is canceled and Report
// carries the abort reason instead of fn's own result.
func (s *Supervisor) Supervise(ctx context.Context, fn RunFunc) Report {
	start := time.Now()
	s.metrics.RecordStart(ctx)

	capture := NewOutputCapture(0)
	if s.cfg.CaptureOutput {
		capture = NewOutputCapture(1 << 20) // 1MB transcript tail
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type runResult struct {
		outcome stepper.Outcome
		err     error
	}
	resultCh := make(chan runResult, 1)
	go func() {
		outcome, err := fn(runCtx)
		resultCh <- runResult{outcome, err}
	}()

	var peakMu sync.Mutex
	peakMB := 0.0
	recordSample := func(mb float64) {
		peakMu.Lock()
		defer peakMu.Unlock()
		if mb > peakMB {
			peakMB = mb
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	if s.monitor != nil && s.cfg.MaxMemoryMB > 0 {
		g.Go(func() error { return s.watchMemory(gctx, capture, recordSample) })
	}
	if s.cfg.TimeoutSeconds > 0 {
		g.Go(func() error { return s.watchTimeout(gctx) })
	}

	groupDone := make(chan error, 1)
	go func() { groupDone <- g.Wait() }()

	var report Report
	select {
	case r := <-resultCh:
		cancel()
		<-groupDone // let the monitor/timeout goroutines unwind
		report = Report{Outcome: r.outcome, Err: r.err}
		capture.WriteLine(fmt.Sprintf("run finished: reason=%s success=%v", r.outcome.Reason, r.outcome.Success))
	case abortErr := <-groupDone:
		if abortErr == nil {
			// No watcher tripped (none configured, or ctx ended): the run's
			// own result is the report.
			r := <-resultCh
			report = Report{Outcome: r.outcome, Err: r.err}
			capture.WriteLine(fmt.Sprintf("run finished: reason=%s success=%v", r.outcome.Reason, r.outcome.Success))
			break
		}
		cancel()
		<-resultCh // fn is expected to observe ctx.Err() and return promptly
		report = Report{Err: abortErr}
		switch abortErr.(type) {
		case *OOMError:
			report.AbortReason = "oom"
		case *SandboxTimeoutError:
			report.AbortReason = "timeout"
		}
		capture.WriteLine(fmt.Sprintf("run aborted: %v", abortErr))
	}

	peakMu.Lock()
	report.PeakMemoryMB = peakMB
	peakMu.Unlock()
	report.DurationSec = time.Since(start).Seconds()
	report.Output = capture.Bytes()
	report.OutputDropped = capture.Dropped()

	reason := report.AbortReason
	if reason == "" {
		reason = "finished"
	}
	s.metrics.RecordCompletion(ctx, reason, report.DurationSec, report.PeakMemoryMB)

	return report
}

// watchMemory polls the monitored process on ResourceCheckIntervalMs and
// returns an *OOMError the instant MaxMemoryMB is exceeded.
func (s *Supervisor) watchMemory(ctx context.Context, capture *OutputCapture, recordSample func(float64)) error {
	interval := time.Duration(s.cfg.ResourceCheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sample, err := s.monitor.Sample(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("sandbox_resource_sample_failed")
				continue
			}
			recordSample(sample.MemoryMB)
			capture.WriteLine(fmt.Sprintf("sample: mem=%.1fMB cpu=%.1f%% fds=%d", sample.MemoryMB, sample.CPUPercent, sample.OpenFDs))
			if sample.MemoryMB > float64(s.cfg.MaxMemoryMB) {
				return &OOMError{LimitMB: s.cfg.MaxMemoryMB, ObservedMB: sample.MemoryMB}
			}
		}
	}
}

// watchTimeout returns a *SandboxTimeoutError once TimeoutSeconds elapses.
func (s *Supervisor) watchTimeout(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(time.Duration(s.cfg.TimeoutSeconds) * time.Second):
		return &SandboxTimeoutError{TimeoutSeconds: s.cfg.TimeoutSeconds}
	}
}
