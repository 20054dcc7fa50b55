package downloader

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/notruri/pahe/internal/types"
)

type probeResult struct {
	// total is -1 when the server does not reveal the size.
	total          int64
	rangeSupported bool
	finalURL       string
	disposition    string
	contentType    string
}

// probe asks for the first byte to learn the size and whether ranges work.
func (d *downloader) probe(ctx context.Context, rawURL string, headers http.Header) (probeResult, error) {
	var lastErr error
	for attempt := 0; attempt <= d.transport.MaxRetries; attempt++ {
		pr, err := d.probeOnce(ctx, rawURL, headers)
		if err == nil {
			return pr, nil
		}
		lastErr = err
		if ctx.Err() != nil || !isRetryableError(err, d.transport) || attempt == d.transport.MaxRetries {
			break
		}
		d.logger.Warnf("probe %s failed (attempt %d): %v", rawURL, attempt+1, err)
		if err := waitBackoff(ctx, d.transport.delayFor(attempt, err)); err != nil {
			lastErr = err
			break
		}
	}
	fe := &types.PageFetchError{Stage: types.StageProbe, URL: rawURL, Err: lastErr}
	if statusErr, ok := lastErr.(*downloadHTTPStatusError); ok {
		fe.StatusCode = statusErr.StatusCode
	}
	return probeResult{}, fe
}

func (d *downloader) probeOnce(ctx context.Context, rawURL string, headers http.Header) (probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.transport.RequestTimeout)
	defer cancel()

	req, err := newRangeRequest(ctx, rawURL, headers, 0, 0)
	if err != nil {
		return probeResult{}, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return probeResult{}, err
	}
	defer resp.Body.Close()

	pr := probeResult{
		total:       -1,
		finalURL:    resp.Request.URL.String(),
		disposition: resp.Header.Get("Content-Disposition"),
		contentType: resp.Header.Get("Content-Type"),
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if _, _, total, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && total >= 0 {
			pr.total = total
			pr.rangeSupported = true
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// Only an empty resource rejects bytes=0-0. Without a size to back
		// that up the resource is streamed instead.
		if _, _, total, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && total >= 0 {
			pr.total = total
			pr.rangeSupported = true
		}
	case http.StatusOK:
		pr.total = resp.ContentLength
	default:
		return probeResult{}, statusError(resp)
	}
	return pr, nil
}

// parseContentRange reads "bytes a-b/N" or "bytes */N". total is -1 when
// the server sends "*" for the size; start and end are -1 for the
// unsatisfied form.
func parseContentRange(cr string) (start, end, total int64, ok bool) {
	cr = strings.TrimSpace(cr)
	unit, rest, found := strings.Cut(cr, " ")
	if !found || !strings.EqualFold(unit, "bytes") {
		return 0, 0, 0, false
	}
	rng, size, found := strings.Cut(strings.TrimSpace(rest), "/")
	if !found {
		return 0, 0, 0, false
	}
	total = -1
	if size != "*" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, 0, false
		}
		total = n
	}
	if rng == "*" {
		return -1, -1, total, true
	}
	a, b, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, 0, false
	}
	start, err1 := strconv.ParseInt(a, 10, 64)
	end, err2 := strconv.ParseInt(b, 10, 64)
	if err1 != nil || err2 != nil || start < 0 || end < start {
		return 0, 0, 0, false
	}
	return start, end, total, true
}
