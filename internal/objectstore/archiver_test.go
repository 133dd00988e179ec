package objectstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScreenshotArchiverPutScreenshotStoresBytesAndQualifiesRef(t *testing.T) {
	store := NewMemoryStore()
	archiver := ScreenshotArchiver{Store: store, Bucket: "runs-bucket"}

	ref, err := archiver.PutScreenshot(context.Background(), "runs/r1/steps/0000.png", []byte("png-bytes"))
	require.NoError(t, err)
	require.Equal(t, "runs-bucket/runs/r1/steps/0000.png", ref)

	reader, _, err := store.Get(context.Background(), "runs/r1/steps/0000.png")
	require.NoError(t, err)
	defer reader.Close()
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))
}

func TestScreenshotArchiverPutScreenshotWithoutBucketReturnsBareKey(t *testing.T) {
	store := NewMemoryStore()
	archiver := ScreenshotArchiver{Store: store}

	ref, err := archiver.PutScreenshot(context.Background(), "runs/r1/steps/0001.png", []byte("x"))
	require.NoError(t, err)
	require.Equal(t, "runs/r1/steps/0001.png", ref)
}
