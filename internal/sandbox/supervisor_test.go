package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ntegrals/openbrowser/internal/config"
	"github.com/ntegrals/openbrowser/internal/stepper"
)

func TestSuperviseReturnsRunResultWhenItFinishesFirst(t *testing.T) {
	cfg := config.SandboxConfig{TimeoutSeconds: 5, CaptureOutput: true}
	sup := New(cfg, nil)

	report := sup.Supervise(context.Background(), func(ctx context.Context) (stepper.Outcome, error) {
		return stepper.Outcome{Reason: stepper.TerminationFinished, Success: true, Steps: 3}, nil
	})

	require.Empty(t, report.AbortReason)
	require.NoError(t, report.Err)
	require.True(t, report.Outcome.Success)
	require.Contains(t, string(report.Output), "run finished")
}

func TestSuperviseAbortsOnTimeout(t *testing.T) {
	cfg := config.SandboxConfig{TimeoutSeconds: 0}
	cfg.TimeoutSeconds = 1
	sup := New(cfg, nil)

	report := sup.Supervise(context.Background(), func(ctx context.Context) (stepper.Outcome, error) {
		select {
		case <-ctx.Done():
			return stepper.Outcome{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return stepper.Outcome{Reason: stepper.TerminationFinished}, nil
		}
	})

	require.Equal(t, "timeout", report.AbortReason)
	require.Error(t, report.Err)
	var timeoutErr *SandboxTimeoutError
	require.ErrorAs(t, report.Err, &timeoutErr)
}

func TestSuperviseWithoutMonitorNeverAbortsOnOOM(t *testing.T) {
	cfg := config.SandboxConfig{
		TimeoutSeconds:          30,
		MaxMemoryMB:             10,
		ResourceCheckIntervalMs: 10,
		CaptureOutput:           true,
	}
	// No real process available in a unit test: with monitor == nil,
	// Supervise must fall back to only the timeout race and never
	// fabricate an OOM abort.
	sup := New(cfg, nil)

	report := sup.Supervise(context.Background(), func(ctx context.Context) (stepper.Outcome, error) {
		select {
		case <-ctx.Done():
			return stepper.Outcome{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
			return stepper.Outcome{Reason: stepper.TerminationFinished, Success: true}, nil
		}
	})

	require.Empty(t, report.AbortReason)
	require.True(t, report.Outcome.Success)
}

func TestOutputCaptureDisabledWhenNotConfigured(t *testing.T) {
	cfg := config.SandboxConfig{TimeoutSeconds: 5, CaptureOutput: false}
	sup := New(cfg, nil)

	report := sup.Supervise(context.Background(), func(ctx context.Context) (stepper.Outcome, error) {
		return stepper.Outcome{Reason: stepper.TerminationFinished, Success: true}, nil
	})

	require.Empty(t, report.Output)
}
