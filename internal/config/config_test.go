package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 50, cfg.StepLoop.MaxSteps)
	require.Equal(t, 10, cfg.StepLoop.CommandsPerStep)
	require.Equal(t, 3, cfg.Stall.MaxRepeatedActions)
	require.InDelta(t, 0.60, cfg.Conversation.SummaryTargetPercent, 1e-9)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("MAX_STEPS", "7")
	t.Setenv("SANDBOX_ALLOWED_DOMAINS", "a.com, b.com ,c.com")
	t.Setenv("SUMMARY_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 7, cfg.StepLoop.MaxSteps)
	require.Equal(t, []string{"a.com", "b.com", "c.com"}, cfg.Sandbox.AllowedDomains)
	require.True(t, cfg.Conversation.SummaryEnabled)
}

func TestLoadAppliesYAMLOverlayOnTopOfEnv(t *testing.T) {
	t.Setenv("MAX_STEPS", "7")

	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("stepLoop:\n  maxSteps: 42\n  enableStrategy: true\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 42, cfg.StepLoop.MaxSteps, "yaml overlay should win over env")
	require.True(t, cfg.StepLoop.EnableStrategy)
	require.Equal(t, 10, cfg.StepLoop.CommandsPerStep, "fields absent from yaml keep their env/default value")
}

func TestLoadToleratesMissingYAMLOverlay(t *testing.T) {
	t.Setenv("CONFIG_FILE", t.TempDir()+"/does-not-exist.yaml")
	_, err := Load()
	require.NoError(t, err)
}

func TestIntFromEnvFallsBackOnGarbage(t *testing.T) {
	require.NoError(t, os.Setenv("FAILURE_THRESHOLD", "not-a-number"))
	defer os.Unsetenv("FAILURE_THRESHOLD")
	require.Equal(t, 9, intFromEnv("FAILURE_THRESHOLD", 9))
}
