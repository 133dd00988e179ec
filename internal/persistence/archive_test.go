package persistence

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	puts map[string][]byte
}

func (f *fakeArchiver) PutScreenshot(_ context.Context, key string, data []byte) (string, error) {
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return "archived://" + key, nil
}

func TestArchiveScreenshotsReplacesRawBytesWithReference(t *testing.T) {
	log := NewExecutionLog("task", time.Now())
	log.Append(StepRecord{Step: 0, BrowserSnapshot: BrowserSnapshot{Screenshot: base64.StdEncoding.EncodeToString([]byte("png"))}})
	log.Append(StepRecord{Step: 1, BrowserSnapshot: BrowserSnapshot{Screenshot: ""}})

	archiver := &fakeArchiver{}
	require.NoError(t, ArchiveScreenshots(context.Background(), archiver, "run-1", log))

	require.Equal(t, "archived://runs/run-1/steps/0000.png", log.Entries[0].BrowserSnapshot.Screenshot)
	require.Equal(t, "", log.Entries[1].BrowserSnapshot.Screenshot)
	require.Equal(t, []byte("png"), archiver.puts["runs/run-1/steps/0000.png"])
}
