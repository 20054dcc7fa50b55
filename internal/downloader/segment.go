package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/notruri/pahe/internal/types"
)

const copyBufferSize = 32 * 1024

func (d *downloader) downloadSegmented(ctx context.Context, req Request, path string, total int64) (*Result, error) {
	workers := d.workersFor(req)
	pp := planPath(path)

	var (
		plan    *Plan
		resumed bool
	)
	if !req.NoResume {
		p, err := loadPlan(pp)
		switch {
		case err == nil && resumable(p, total, path):
			plan, resumed = p, true
		case err == nil:
			d.logger.Warnf("saved plan %s does not match %s, starting over", pp, path)
		case !errors.Is(err, os.ErrNotExist):
			d.logger.Warnf("ignoring saved plan: %v", err)
		}
	}

	var (
		file *os.File
		err  error
	)
	if plan != nil {
		plan.URL = req.URL
		file, err = os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return nil, &types.OutputError{Path: path, Op: "open", Err: err}
		}
		d.emit("segment", "resume", path, fmt.Sprintf("plan=%s", plan.ID))
	} else {
		segs := partition(total, workers)
		plan = &Plan{
			ID:             newPlanID(),
			URL:            req.URL,
			Path:           absPath(path),
			TotalSize:      total,
			RangeSupported: true,
			SegmentCount:   len(segs),
			Segments:       segs,
		}
		file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, &types.OutputError{Path: path, Op: "create", Err: err}
		}
		if err := file.Truncate(total); err != nil {
			_ = file.Close()
			return nil, &types.OutputError{Path: path, Op: "allocate", Err: err}
		}
	}
	defer file.Close()

	a := newArena(plan.Segments)
	var saveMu sync.Mutex
	persist := func() error {
		saveMu.Lock()
		defer saveMu.Unlock()
		snap := *plan
		snap.Segments = a.snapshot()
		return savePlan(pp, &snap)
	}
	if err := persist(); err != nil {
		return nil, err
	}

	var already int64
	for _, s := range a.snapshot() {
		if s.Status == StatusDone {
			already += s.Len()
		}
	}
	prog := d.newProgress(total, already)
	pending := a.pending()
	d.emit("segment", "start", path, fmt.Sprintf("segments=%d pending=%d workers=%d", len(plan.Segments), len(pending), workers))

	runErr := d.runSegments(ctx, req, file, a, pending, workers, prog, persist)
	if err := persist(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return nil, runErr
	}
	if err := file.Sync(); err != nil {
		return nil, &types.OutputError{Path: path, Op: "sync", Err: err}
	}
	if err := removePlan(pp); err != nil {
		d.logger.Warnf("remove plan: %v", err)
	}
	d.emit("segment", "done", path, "")
	return &Result{
		Path:           path,
		BytesWritten:   prog.written() - already,
		TotalSize:      total,
		Segments:       len(plan.Segments),
		RangeSupported: true,
		Resumed:        resumed,
	}, nil
}

// runSegments feeds pending segment indexes to a fixed pool of workers.
// The first failure cancels the remaining work.
func (d *downloader) runSegments(
	ctx context.Context,
	req Request,
	file *os.File,
	a *arena,
	pending []int,
	workers int,
	prog *progress,
	persist func() error,
) error {
	if len(pending) == 0 {
		return nil
	}
	if workers > len(pending) {
		workers = len(pending)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := d.fetchSegment(ctx, req, file, a, i, prog); err != nil {
					select {
					case errCh <- err:
					default:
					}
					cancel()
					continue
				}
				if err := persist(); err != nil {
					d.logger.Warnf("save plan: %v", err)
				}
			}
		}()
	}

feed:
	for _, i := range pending {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

// fetchSegment retrieves one segment, retrying the remaining range after
// each failed attempt.
func (d *downloader) fetchSegment(ctx context.Context, req Request, file *os.File, a *arena, i int, prog *progress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seg := a.get(i)
	a.setStatus(i, StatusInProgress)

	pos := seg.Start
	attempts := 0
	var lastErr error
	for attempt := 0; attempt <= d.transport.MaxRetries; attempt++ {
		attempts++
		a.addAttempt(i)
		attemptCtx, cancel := context.WithTimeout(ctx, d.transport.SegmentTimeout)
		n, err := d.fetchRange(attemptCtx, req, file, pos, seg.End, prog)
		cancel()
		pos += n
		if err == nil || pos > seg.End {
			a.setStatus(i, StatusDone)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			a.setStatus(i, StatusPending)
			return ctx.Err()
		}
		if !isRetryableError(err, d.transport) || attempt == d.transport.MaxRetries {
			break
		}
		d.logger.Warnf("segment %d (%d-%d) attempt %d failed: %v", i, pos, seg.End, attempts, err)
		d.emit("segment", "retry", file.Name(), fmt.Sprintf("segment=%d attempt=%d", i, attempts))
		if err := waitBackoff(ctx, d.transport.delayFor(attempt, err)); err != nil {
			a.setStatus(i, StatusPending)
			return err
		}
	}

	if errors.Is(lastErr, errRangeNotSupported) {
		a.setStatus(i, StatusPending)
		return lastErr
	}
	a.setStatus(i, StatusFailed)
	d.emit("segment", "failed", file.Name(), fmt.Sprintf("segment=%d", i))
	if errors.Is(lastErr, types.ErrOutputWriteFailed) {
		return lastErr
	}
	return &types.SegmentError{Index: i, Start: seg.Start, End: seg.End, Attempts: attempts, Err: lastErr}
}

// fetchRange writes bytes [start, end] of the resource at the same offsets
// in file. It returns how many bytes were written, even on error.
func (d *downloader) fetchRange(ctx context.Context, req Request, file *os.File, start, end int64, prog *progress) (int64, error) {
	hreq, err := newRangeRequest(ctx, req.URL, req.Headers, start, end)
	if err != nil {
		return 0, err
	}
	resp, err := d.client.Do(hreq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 206:
		if s, _, _, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && s != start {
			return 0, errRangeMismatch
		}
	case 200:
		return 0, errRangeNotSupported
	default:
		return 0, statusError(resp)
	}
	want := end - start + 1
	return copyAt(file, io.LimitReader(resp.Body, want), start, want, prog)
}

// copyAt copies r into file starting at offset. want is the expected byte
// count, or -1 when unknown.
func copyAt(file *os.File, r io.Reader, offset, want int64, prog *progress) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := file.WriteAt(buf[:n], offset+written); err != nil {
				return written, &types.OutputError{Path: file.Name(), Op: "write", Err: err}
			}
			written += int64(n)
			prog.add(int64(n))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, readErr
		}
	}
	if want >= 0 && written != want {
		return written, io.ErrUnexpectedEOF
	}
	return written, nil
}
