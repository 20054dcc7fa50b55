package downloader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notruri/pahe/internal/types"
)

// rangeServer serves payload with byte-range support. before runs ahead of
// every ranged response except the bytes=0-0 probe; returning true means it
// already wrote the response.
type rangeServer struct {
	payload []byte
	before  func(w http.ResponseWriter, r *http.Request, start, end int64) bool

	mu     sync.Mutex
	starts map[int64]int
}

func (s *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	total := int64(len(s.payload))
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", fmt.Sprint(total))
		_, _ = w.Write(s.payload)
		return
	}
	var start, end int64
	if _, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end); err != nil {
		http.Error(w, "invalid range", http.StatusBadRequest)
		return
	}
	if start >= total {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", total))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if end >= total {
		end = total - 1
	}
	if !(start == 0 && end == 0) {
		s.mu.Lock()
		if s.starts == nil {
			s.starts = map[int64]int{}
		}
		s.starts[start]++
		s.mu.Unlock()
		if s.before != nil && s.before(w, r, start, end) {
			return
		}
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, total))
	w.Header().Set("Content-Length", fmt.Sprint(end-start+1))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(s.payload[start : end+1])
}

func (s *rangeServer) requestsFor(start int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts[start]
}

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i>>9)
	}
	return b
}

func fastTransport() TransportConfig {
	return TransportConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	return b
}

func TestDownload_SegmentedOutOfOrder(t *testing.T) {
	payload := testPayload(10_000_000)
	segSize := int64(len(payload) / 4)
	rs := &rangeServer{
		payload: payload,
		before: func(w http.ResponseWriter, r *http.Request, start, end int64) bool {
			// Earlier segments finish last.
			idx := start / segSize
			time.Sleep(time.Duration(3-idx) * 40 * time.Millisecond)
			return false
		},
	}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	var reachedTotal atomic.Bool
	var (
		eventsMu sync.Mutex
		events   []Event
	)
	out := filepath.Join(t.TempDir(), "episode.mp4")
	d := New(srv.Client(), Config{
		Transport:   fastTransport(),
		Concurrency: 4,
		Progress: ProgressFunc(func(written, total int64) {
			if written == total && total == int64(len(payload)) {
				reachedTotal.Store(true)
			}
		}),
		OnEvent: func(ev Event) {
			eventsMu.Lock()
			events = append(events, ev)
			eventsMu.Unlock()
		},
	})
	res, err := d.Download(context.Background(), Request{URL: srv.URL + "/media/ep.mp4", OutputPath: out})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.Segments != 4 {
		t.Fatalf("Download() segments = %d, want 4", res.Segments)
	}
	if !res.RangeSupported || !res.SizeVerified {
		t.Fatalf("Download() result = %+v, want range supported and size verified", res)
	}
	if res.BytesWritten != int64(len(payload)) {
		t.Fatalf("Download() bytes = %d, want %d", res.BytesWritten, len(payload))
	}
	if got := readFile(t, out); !bytes.Equal(got, payload) {
		t.Fatalf("output differs from payload (len %d vs %d)", len(got), len(payload))
	}
	if _, err := os.Stat(planPath(out)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("plan sidecar still present: %v", err)
	}
	if !reachedTotal.Load() {
		t.Fatalf("progress never reported the full size")
	}
	eventsMu.Lock()
	last := events[len(events)-1]
	eventsMu.Unlock()
	if last.Stage != "complete" || last.Phase != "done" {
		t.Fatalf("last event = %+v, want complete/done", last)
	}
}

func TestDownload_RetriesTransientSegmentFailure(t *testing.T) {
	payload := testPayload(10_000)
	var failures atomic.Int32
	rs := &rangeServer{
		payload: payload,
		before: func(w http.ResponseWriter, r *http.Request, start, end int64) bool {
			if start == 2500 && failures.Add(1) <= 2 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return true
			}
			return false
		},
	}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "out.bin")
	d := New(srv.Client(), Config{Transport: fastTransport(), Concurrency: 4})
	if _, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: out}); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if got := rs.requestsFor(2500); got != 3 {
		t.Fatalf("segment 1 requests = %d, want 3", got)
	}
	if got := readFile(t, out); !bytes.Equal(got, payload) {
		t.Fatalf("output differs from payload")
	}
}

func TestDownload_ResumesFromPlan(t *testing.T) {
	payload := testPayload(4000)
	rs := &rangeServer{payload: payload}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "resume.bin")
	partial := make([]byte, len(payload))
	copy(partial[0:1000], payload[0:1000])
	copy(partial[3000:4000], payload[3000:4000])
	if err := os.WriteFile(out, partial, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	segs := partition(int64(len(payload)), 4)
	segs[0].Status = StatusDone
	segs[1].Status = StatusFailed
	segs[2].Status = StatusPending
	segs[3].Status = StatusDone
	plan := &Plan{
		ID:             newPlanID(),
		URL:            srv.URL,
		Path:           out,
		TotalSize:      int64(len(payload)),
		RangeSupported: true,
		SegmentCount:   4,
		Segments:       segs,
	}
	if err := savePlan(planPath(out), plan); err != nil {
		t.Fatalf("savePlan() error = %v", err)
	}

	d := New(srv.Client(), Config{Transport: fastTransport(), Concurrency: 4})
	res, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: out})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !res.Resumed {
		t.Fatalf("Download() resumed = false, want true")
	}
	if res.BytesWritten != 2000 {
		t.Fatalf("Download() bytes = %d, want 2000", res.BytesWritten)
	}
	for _, start := range []int64{0, 3000} {
		if got := rs.requestsFor(start); got != 0 {
			t.Fatalf("requests for completed segment at %d = %d, want 0", start, got)
		}
	}
	for _, start := range []int64{1000, 2000} {
		if got := rs.requestsFor(start); got != 1 {
			t.Fatalf("requests for segment at %d = %d, want 1", start, got)
		}
	}
	if got := readFile(t, out); !bytes.Equal(got, payload) {
		t.Fatalf("output differs from payload")
	}
}

func TestDownload_NoResumeIgnoresPlan(t *testing.T) {
	payload := testPayload(4000)
	rs := &rangeServer{payload: payload}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "fresh.bin")
	if err := os.WriteFile(out, make([]byte, len(payload)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	segs := partition(int64(len(payload)), 4)
	for i := range segs {
		segs[i].Status = StatusDone
	}
	stale := &Plan{ID: "stale", TotalSize: int64(len(payload)), RangeSupported: true, SegmentCount: 4, Segments: segs}
	if err := savePlan(planPath(out), stale); err != nil {
		t.Fatalf("savePlan() error = %v", err)
	}

	d := New(srv.Client(), Config{Transport: fastTransport(), Concurrency: 4})
	res, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: out, NoResume: true})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.Resumed {
		t.Fatalf("Download() resumed = true, want false")
	}
	if got := readFile(t, out); !bytes.Equal(got, payload) {
		t.Fatalf("output differs from payload")
	}
}

func TestDownload_NoRangeSupportStreams(t *testing.T) {
	payload := testPayload(5000)
	var rangedRequests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			rangedRequests.Add(1)
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "whole.bin")
	d := New(srv.Client(), Config{Transport: fastTransport(), Concurrency: 4})
	res, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: out})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.RangeSupported || res.Segments != 1 {
		t.Fatalf("Download() result = %+v, want a single unranged stream", res)
	}
	if got := rangedRequests.Load(); got != 1 {
		t.Fatalf("ranged requests = %d, want only the probe", got)
	}
	if got := readFile(t, out); !bytes.Equal(got, payload) {
		t.Fatalf("output differs from payload")
	}
}

func TestDownload_UnsatisfiableProbeWithoutSizeStreams(t *testing.T) {
	payload := testPayload(3000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "unsized.bin")
	d := New(srv.Client(), Config{Transport: fastTransport()})
	res, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: out})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.RangeSupported || res.TotalSize != int64(len(payload)) {
		t.Fatalf("Download() result = %+v, want an unranged stream of %d bytes", res, len(payload))
	}
	if got := readFile(t, out); !bytes.Equal(got, payload) {
		t.Fatalf("output size = %d, want %d", len(got), len(payload))
	}
}

func TestDownload_FallsBackWhenSegmentIgnoresRange(t *testing.T) {
	payload := testPayload(8000)
	rs := &rangeServer{
		payload: payload,
		before: func(w http.ResponseWriter, r *http.Request, start, end int64) bool {
			_, _ = w.Write(payload)
			return true
		},
	}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "fallback.bin")
	d := New(srv.Client(), Config{Transport: fastTransport(), Concurrency: 4})
	res, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: out})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.Segments != 1 {
		t.Fatalf("Download() segments = %d, want 1", res.Segments)
	}
	if got := readFile(t, out); !bytes.Equal(got, payload) {
		t.Fatalf("output differs from payload")
	}
	if _, err := os.Stat(planPath(out)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("plan sidecar still present: %v", err)
	}
}

func TestDownload_SegmentRetriesExhausted(t *testing.T) {
	payload := testPayload(10_000)
	rs := &rangeServer{
		payload: payload,
		before: func(w http.ResponseWriter, r *http.Request, start, end int64) bool {
			if start == 2500 {
				http.Error(w, "boom", http.StatusInternalServerError)
				return true
			}
			return false
		},
	}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "broken.bin")
	cfg := fastTransport()
	cfg.MaxRetries = 2
	d := New(srv.Client(), Config{Transport: cfg, Concurrency: 4})
	_, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: out})
	if !errors.Is(err, types.ErrSegmentDownloadFailed) {
		t.Fatalf("Download() error = %v, want ErrSegmentDownloadFailed", err)
	}
	var segErr *types.SegmentError
	if !errors.As(err, &segErr) {
		t.Fatalf("Download() error = %T, want *types.SegmentError", err)
	}
	if segErr.Index != 1 || segErr.Attempts != 3 {
		t.Fatalf("SegmentError = %+v, want index 1 after 3 attempts", segErr)
	}
	if got := rs.requestsFor(2500); got != 3 {
		t.Fatalf("segment 1 requests = %d, want 3", got)
	}

	if _, err := os.Stat(out); err != nil {
		t.Fatalf("partial output removed: %v", err)
	}
	plan, err := loadPlan(planPath(out))
	if err != nil {
		t.Fatalf("loadPlan() error = %v", err)
	}
	if plan.Segments[1].Status != StatusFailed {
		t.Fatalf("segment 1 status = %s, want %s", plan.Segments[1].Status, StatusFailed)
	}
	for _, s := range plan.Segments {
		if s.Status == StatusInProgress {
			t.Fatalf("segment %d left in progress", s.Index)
		}
	}
}

func TestDownload_CancelLeavesResumablePlan(t *testing.T) {
	payload := testPayload(10_000)
	started := make(chan struct{}, 8)
	rs := &rangeServer{
		payload: payload,
		before: func(w http.ResponseWriter, r *http.Request, start, end int64) bool {
			started <- struct{}{}
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return true
		},
	}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	out := filepath.Join(t.TempDir(), "cancel.bin")
	d := New(srv.Client(), Config{Transport: fastTransport(), Concurrency: 4})
	_, err := d.Download(ctx, Request{URL: srv.URL, OutputPath: out})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Download() error = %v, want context.Canceled", err)
	}
	plan, err := loadPlan(planPath(out))
	if err != nil {
		t.Fatalf("loadPlan() error = %v", err)
	}
	for _, s := range plan.Segments {
		if s.Status != StatusPending {
			t.Fatalf("segment %d status = %s, want %s", s.Index, s.Status, StatusPending)
		}
	}
}

func TestDownload_PerAttemptTimeoutRetries(t *testing.T) {
	payload := testPayload(10_000)
	var stalled atomic.Bool
	rs := &rangeServer{
		payload: payload,
		before: func(w http.ResponseWriter, r *http.Request, start, end int64) bool {
			if start == 5000 && stalled.CompareAndSwap(false, true) {
				<-r.Context().Done()
				return true
			}
			return false
		},
	}
	srv := httptest.NewServer(rs)
	defer srv.Close()

	cfg := fastTransport()
	cfg.SegmentTimeout = 200 * time.Millisecond
	out := filepath.Join(t.TempDir(), "slow.bin")
	d := New(srv.Client(), Config{Transport: cfg, Concurrency: 4})
	if _, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: out}); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if got := rs.requestsFor(5000); got != 2 {
		t.Fatalf("segment 2 requests = %d, want 2", got)
	}
	if got := readFile(t, out); !bytes.Equal(got, payload) {
		t.Fatalf("output differs from payload")
	}
}

func TestDownload_EmptyResource(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "unsatisfiable range",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Range", "bytes */0")
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			},
		},
		{
			name: "plain empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Length", "0")
				w.WriteHeader(http.StatusOK)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			out := filepath.Join(t.TempDir(), "empty.bin")
			d := New(srv.Client(), Config{Transport: fastTransport()})
			res, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: out})
			if err != nil {
				t.Fatalf("Download() error = %v", err)
			}
			if res.TotalSize != 0 || !res.SizeVerified {
				t.Fatalf("Download() result = %+v, want verified empty file", res)
			}
			if got := readFile(t, out); len(got) != 0 {
				t.Fatalf("output size = %d, want 0", len(got))
			}
		})
	}
}

func TestDownload_ProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	d := New(srv.Client(), Config{Transport: fastTransport()})
	_, err := d.Download(context.Background(), Request{URL: srv.URL, OutputPath: filepath.Join(t.TempDir(), "x")})
	var fetchErr *types.PageFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Download() error = %v, want *types.PageFetchError", err)
	}
	if fetchErr.StatusCode != http.StatusNotFound || fetchErr.Stage != types.StageProbe {
		t.Fatalf("PageFetchError = %+v, want 404 at probe", fetchErr)
	}
}

func TestDownload_ChecksumVerification(t *testing.T) {
	payload := testPayload(6000)
	sum := sha256.Sum256(payload)
	want := hex.EncodeToString(sum[:])

	srv := httptest.NewServer(&rangeServer{payload: payload})
	defer srv.Close()
	d := New(srv.Client(), Config{Transport: fastTransport()})

	res, err := d.Download(context.Background(), Request{
		URL:            srv.URL,
		OutputPath:     filepath.Join(t.TempDir(), "ok.bin"),
		ExpectedSHA256: want,
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if res.SHA256 != want {
		t.Fatalf("Download() sha256 = %s, want %s", res.SHA256, want)
	}

	_, err = d.Download(context.Background(), Request{
		URL:            srv.URL,
		OutputPath:     filepath.Join(t.TempDir(), "bad.bin"),
		ExpectedSHA256: strings.Repeat("0", 64),
	})
	if !errors.Is(err, types.ErrOutputWriteFailed) {
		t.Fatalf("Download() error = %v, want ErrOutputWriteFailed", err)
	}
}

func TestDownload_NamesFileFromContentDisposition(t *testing.T) {
	payload := testPayload(1000)
	rs := &rangeServer{payload: payload}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Show - 01 [720p].mp4"`)
		rs.ServeHTTP(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := New(srv.Client(), Config{Transport: fastTransport()})
	res, err := d.Download(context.Background(), Request{URL: srv.URL + "/get", OutputDir: dir})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if want := filepath.Join(dir, "Show - 01 [720p].mp4"); res.Path != want {
		t.Fatalf("Download() path = %q, want %q", res.Path, want)
	}
	if got := readFile(t, res.Path); !bytes.Equal(got, payload) {
		t.Fatalf("output differs from payload")
	}
}
