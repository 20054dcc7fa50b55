package downloader

import (
	"context"
	"fmt"
	"net/http"
)

// newRangeRequest builds a GET for url with the media headers applied.
// A negative start leaves the Range header unset.
func newRangeRequest(ctx context.Context, url string, headers http.Header, start, end int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if start >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	}
	// Ranged bodies must arrive byte-exact.
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}
