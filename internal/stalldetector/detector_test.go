package stalldetector

import (
	"fmt"
	"testing"

	"github.com/ntegrals/openbrowser/internal/commands"
	"github.com/stretchr/testify/require"
)

func tapCmd(index int) commands.Command {
	return commands.Command{Action: commands.ActionTap, Tap: &commands.TapParams{Index: index}}
}

func TestRepeatedActionStuckIffAtOrAboveThreshold(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxRepeatedActions = 3

	d := New(cfg)
	d.RecordAction(tapCmd(1))
	d.RecordAction(tapCmd(1))
	require.False(t, d.IsStuck().Stuck, "two repeats should not yet trip the detector")

	d.RecordAction(tapCmd(1))
	v := d.IsStuck()
	require.True(t, v.Stuck, "three repeats should trip maxRepeatedActions=3")
	require.Greater(t, v.Severity, -1)
}

func TestABABCycleDetected(t *testing.T) {
	d := New(defaultConfig())
	d.RecordAction(tapCmd(1))
	d.RecordAction(tapCmd(2))
	d.RecordAction(tapCmd(1))
	d.RecordAction(tapCmd(2))
	v := d.IsStuck()
	require.True(t, v.Stuck)
	require.Contains(t, v.Reason, "cycling")
}

func TestABCABCCycleDetected(t *testing.T) {
	d := New(defaultConfig())
	d.RecordAction(tapCmd(1))
	d.RecordAction(tapCmd(2))
	d.RecordAction(tapCmd(3))
	d.RecordAction(tapCmd(1))
	d.RecordAction(tapCmd(2))
	d.RecordAction(tapCmd(3))
	v := d.IsStuck()
	require.True(t, v.Stuck)
}

func TestSearchQueryFingerprintIsOrderInvariant(t *testing.T) {
	a := commands.Command{Action: commands.ActionWebSearch, WebSearch: &commands.WebSearchParams{Query: "best pizza nyc"}}
	b := commands.Command{Action: commands.ActionWebSearch, WebSearch: &commands.WebSearchParams{Query: "NYC Pizza Best"}}
	require.Equal(t, FingerprintAction(a), FingerprintAction(b))
}

func TestDistinctTapIndicesDoNotCollide(t *testing.T) {
	require.NotEqual(t, FingerprintAction(tapCmd(1)), FingerprintAction(tapCmd(2)))
}

func TestStagnantPagesEscalateSeverity(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxRepeatedFingerprints = 100 // disable the repeated-fingerprint check so only stagnant-page logic fires
	cfg.MaxStagnantPages = 5
	d := New(cfg)
	sig := PageSignature{URL: "https://x.com", DOMHash: "abc", ScrollY: 0, ElementCount: 10}
	for i := 0; i < 5; i++ {
		d.RecordPage(sig)
	}
	v := d.IsStuck()
	require.True(t, v.Stuck)
	require.Contains(t, v.Reason, "consecutive pages")
}

func TestStagnantPagesToleratesNearIdenticalElementCounts(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxRepeatedFingerprints = 100 // disable the exact-match check so only near-identical logic fires
	cfg.MaxStagnantPages = 5
	d := New(cfg)
	counts := []int{100, 103, 97, 105, 101}
	for i, c := range counts {
		d.RecordPage(PageSignature{URL: "https://x.com", DOMHash: fmt.Sprintf("hash-%d", i), ScrollY: i * 37, ElementCount: c})
	}
	v := d.IsStuck()
	require.True(t, v.Stuck)
	require.Contains(t, v.Reason, "consecutive pages")
}

func TestStagnantPagesDoesNotFireAcrossDifferentURLs(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxRepeatedFingerprints = 100
	cfg.MaxStagnantPages = 5
	d := New(cfg)
	for i := 0; i < 4; i++ {
		d.RecordPage(PageSignature{URL: "https://x.com", DOMHash: "abc", ElementCount: 10})
	}
	d.RecordPage(PageSignature{URL: "https://y.com", DOMHash: "def", ElementCount: 10})
	v := d.IsStuck()
	require.False(t, v.Stuck)
}

func TestSeverityEscalatesWithRepetition(t *testing.T) {
	require.Equal(t, 0, severityFor(4))
	require.Equal(t, 1, severityFor(5))
	require.Equal(t, 2, severityFor(8))
	require.Equal(t, 3, severityFor(12))
}

func TestNudgeMessageEmptyWhenNotStuck(t *testing.T) {
	require.Empty(t, getLoopNudgeMessage(0, "n/a"))
	require.NotEmpty(t, getLoopNudgeMessage(1, "repeat"))
	require.NotEmpty(t, getLoopNudgeMessage(3, "repeat"))
}

func TestActionHistoryBoundedByWindow(t *testing.T) {
	cfg := Config{WindowSize: 3, MaxRepeatedActions: 100, MaxRepeatedFingerprints: 100, MaxStagnantPages: 100}
	d := New(cfg)
	for i := 0; i < 20; i++ {
		d.RecordAction(tapCmd(i))
	}
	require.LessOrEqual(t, len(d.actions), cfg.WindowSize*2)
}
