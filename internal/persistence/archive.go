package persistence

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// ScreenshotArchiver uploads a base64-encoded screenshot somewhere durable
// and returns the key/URL it was stored under. internal/objectstore.Store
// satisfies this with (ctx, key, io.Reader, PutOptions) -> (etag, error);
// this interface only needs the narrow Put-and-return-a-reference shape
// ArchiveScreenshots uses, so this package doesn't import objectstore
// directly.
type ScreenshotArchiver interface {
	PutScreenshot(ctx context.Context, key string, data []byte) (ref string, err error)
}

// ArchiveScreenshots uploads every entry's screenshot in log to archiver and
// rewrites BrowserSnapshot.Screenshot to the returned reference, so the
// ExecutionLog handed to a Store (or marshaled via MarshalArchiveJSON) never
// carries raw image bytes — only a pointer to where they live (§6: "the real
// bytes are expected to go to object storage instead of being dropped").
// Entries with no screenshot are left untouched.
func ArchiveScreenshots(ctx context.Context, archiver ScreenshotArchiver, runID string, log *ExecutionLog) error {
	log.mu.Lock()
	defer log.mu.Unlock()

	for i := range log.Entries {
		shot := log.Entries[i].BrowserSnapshot.Screenshot
		if shot == "" || shot == ScreenshotOmittedPlaceholder {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(shot)
		if err != nil {
			return fmt.Errorf("persistence: decoding screenshot for step %d: %w", log.Entries[i].Step, err)
		}
		key := fmt.Sprintf("runs/%s/steps/%04d.png", runIDPathSafe(runID), log.Entries[i].Step)
		ref, err := archiver.PutScreenshot(ctx, key, data)
		if err != nil {
			return fmt.Errorf("persistence: archiving screenshot for step %d: %w", log.Entries[i].Step, err)
		}
		log.Entries[i].BrowserSnapshot.Screenshot = ref
	}
	return nil
}

// runIDPathSafe strips characters that would otherwise let runID escape its
// "runs/<id>/" prefix when used as an object-store key component.
func runIDPathSafe(runID string) string {
	return strings.NewReplacer("/", "_", "..", "_").Replace(runID)
}
