package persistence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutionLogAppendKeepsTotalsInSync(t *testing.T) {
	log := NewExecutionLog("find the pricing page", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	log.Append(StepRecord{Step: 0, InputTokens: 100, OutputTokens: 20})
	log.Append(StepRecord{Step: 1, InputTokens: 150, OutputTokens: 30})

	snap := log.Snapshot()
	require.Equal(t, 2, snap.TotalSteps)
	require.Equal(t, 250, snap.TotalInputTokens)
	require.Equal(t, 50, snap.TotalOutputTokens)
}

func TestExecutionLogFinalizeSetsEndTimeAndDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log := NewExecutionLog("task", start)
	end := start.Add(90 * time.Second)

	log.Finalize(end)

	snap := log.Snapshot()
	require.NotNil(t, snap.EndTime)
	require.Equal(t, end, *snap.EndTime)
	require.NotNil(t, snap.TotalDuration)
	require.Equal(t, int64(90000), *snap.TotalDuration)
}

func TestMarshalArchiveJSONOmitsScreenshots(t *testing.T) {
	log := NewExecutionLog("task", time.Now())
	log.Append(StepRecord{
		Step:            0,
		BrowserSnapshot: BrowserSnapshot{URL: "https://example.com", Screenshot: "aGVsbG8="},
	})

	raw, err := log.Snapshot().MarshalArchiveJSON()
	require.NoError(t, err)

	var decoded ExecutionLog
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Entries, 1)
	require.Equal(t, ScreenshotOmittedPlaceholder, decoded.Entries[0].BrowserSnapshot.Screenshot)
	require.Equal(t, "https://example.com", decoded.Entries[0].BrowserSnapshot.URL)
}
