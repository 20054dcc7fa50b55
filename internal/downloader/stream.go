package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/notruri/pahe/internal/types"
)

// downloadStream fetches the whole resource in one request. total is -1 when
// unknown. A failed attempt restarts from the beginning.
func (d *downloader) downloadStream(ctx context.Context, req Request, path string, total int64) (*Result, error) {
	if err := removePlan(planPath(path)); err != nil {
		d.logger.Warnf("remove plan: %v", err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &types.OutputError{Path: path, Op: "create", Err: err}
	}
	defer file.Close()

	prog := d.newProgress(total, 0)
	d.emit("stream", "start", path, fmt.Sprintf("size=%d", total))

	attempts := 0
	var lastErr error
	for attempt := 0; attempt <= d.transport.MaxRetries; attempt++ {
		attempts++
		if attempt > 0 {
			if err := file.Truncate(0); err != nil {
				return nil, &types.OutputError{Path: path, Op: "truncate", Err: err}
			}
			prog.set(0)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, d.transport.SegmentTimeout)
		n, err := d.fetchWhole(attemptCtx, req, file, total, prog)
		cancel()
		if err == nil {
			if err := file.Sync(); err != nil {
				return nil, &types.OutputError{Path: path, Op: "sync", Err: err}
			}
			size := total
			if size < 0 {
				size = n
			}
			d.emit("stream", "done", path, "")
			return &Result{Path: path, BytesWritten: n, TotalSize: size, Segments: 1}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableError(err, d.transport) || attempt == d.transport.MaxRetries {
			break
		}
		d.logger.Warnf("stream %s attempt %d failed: %v", req.URL, attempts, err)
		d.emit("stream", "retry", path, fmt.Sprintf("attempt=%d", attempts))
		if err := waitBackoff(ctx, d.transport.delayFor(attempt, err)); err != nil {
			return nil, err
		}
	}

	if errors.Is(lastErr, types.ErrOutputWriteFailed) {
		return nil, lastErr
	}
	end := total - 1
	if total < 0 {
		end = -1
	}
	return nil, &types.SegmentError{Index: 0, Start: 0, End: end, Attempts: attempts, Err: lastErr}
}

func (d *downloader) fetchWhole(ctx context.Context, req Request, file *os.File, total int64, prog *progress) (int64, error) {
	hreq, err := newRangeRequest(ctx, req.URL, req.Headers, -1, 0)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(hreq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp)
	}
	return copyAt(file, resp.Body, 0, total, prog)
}
