package objectstore

import (
	"bytes"
	"context"
	"fmt"
)

// ScreenshotArchiver adapts an ObjectStore to persistence.ScreenshotArchiver
// (internal/persistence.ArchiveScreenshots' narrow Put-and-return-a-reference
// dependency), so a run's screenshots can be pushed to S3 (or the in-memory
// store in tests) without persistence importing this package directly.
type ScreenshotArchiver struct {
	Store  ObjectStore
	Bucket string // informational only, used to build the returned reference
}

// PutScreenshot stores data under key and returns a bucket-qualified
// reference string in place of the raw bytes.
func (a ScreenshotArchiver) PutScreenshot(ctx context.Context, key string, data []byte) (string, error) {
	if _, err := a.Store.Put(ctx, key, bytes.NewReader(data), PutOptions{ContentType: "image/png"}); err != nil {
		return "", fmt.Errorf("objectstore: put screenshot %q: %w", key, err)
	}
	if a.Bucket == "" {
		return key, nil
	}
	return fmt.Sprintf("%s/%s", a.Bucket, key), nil
}
