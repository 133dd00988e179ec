package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// httpGet is a minimal GET used only for the SearXNG JSON API, following
// the teacher's plain net/http.Client usage in internal/tools/web/fetch.go
// (no retries/streaming needed for this single small JSON response).
func httpGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
