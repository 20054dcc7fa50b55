// Package downloader retrieves a single HTTP resource into a local file,
// splitting it into byte-range segments fetched concurrently when the
// server supports ranges.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/notruri/pahe/internal/types"
)

// DefaultConcurrency is the segment worker count when none is configured.
const DefaultConcurrency = 4

// Downloader is the interface for downloading a stream.
type Downloader interface {
	// Download fetches req.URL into a local file and reports where it went.
	Download(ctx context.Context, req Request) (*Result, error)
}

// ProgressReporter is an interface for reporting download progress.
// Implementations must be safe for concurrent use.
type ProgressReporter interface {
	OnProgress(bytesWritten int64, totalBytes int64)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(bytesWritten, totalBytes int64)

func (f ProgressFunc) OnProgress(bytesWritten, totalBytes int64) { f(bytesWritten, totalBytes) }

// Event is a lifecycle notification. Stage is one of probe, segment,
// stream, verify or complete.
type Event struct {
	Stage  string
	Phase  string
	Path   string
	Detail string
}

// Request describes one download.
type Request struct {
	URL     string
	Headers http.Header
	// OutputPath is used as-is when set. Otherwise a name is derived from the
	// response and placed in OutputDir.
	OutputPath string
	OutputDir  string
	// Concurrency overrides Config.Concurrency when positive.
	Concurrency int
	// NoResume ignores and overwrites any saved plan.
	NoResume bool
	// ExpectedSHA256, when set, is checked against the finished file.
	ExpectedSHA256 string
}

// Result describes a finished download.
type Result struct {
	Path string
	// BytesWritten counts bytes fetched by this call, excluding segments
	// already completed by an earlier run.
	BytesWritten   int64
	TotalSize      int64
	Segments       int
	RangeSupported bool
	Resumed        bool
	SizeVerified   bool
	SHA256         string
}

// Config contains downloader-wide settings.
type Config struct {
	Transport   TransportConfig
	Concurrency int
	Progress    ProgressReporter
	OnEvent     func(Event)
	Logger      types.Logger
}

type downloader struct {
	client      *http.Client
	transport   effectiveTransportConfig
	concurrency int
	progress    ProgressReporter
	onEvent     func(Event)
	logger      types.Logger
}

// New returns a Downloader sharing client across all of its requests.
func New(client *http.Client, cfg Config) Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &downloader{
		client:      client,
		transport:   normalizeTransportConfig(cfg.Transport),
		concurrency: concurrency,
		progress:    cfg.Progress,
		onEvent:     cfg.OnEvent,
		logger:      types.OrNop(cfg.Logger),
	}
}

func (d *downloader) Download(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("%s: empty url", types.StageDownload)
	}

	d.emit("probe", "start", "", req.URL)
	pr, err := d.probe(ctx, req.URL, req.Headers)
	if err != nil {
		d.emit("probe", "failed", "", err.Error())
		return nil, err
	}
	path := resolveOutputPath(req, pr)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &types.OutputError{Path: dir, Op: "mkdir", Err: err}
		}
	}
	d.emit("probe", "done", path, fmt.Sprintf("size=%d ranges=%t", pr.total, pr.rangeSupported))
	d.logger.Debugf("probe %s: size=%d ranges=%t -> %s", req.URL, pr.total, pr.rangeSupported, path)

	var res *Result
	switch {
	case pr.total == 0:
		res, err = d.writeEmpty(path)
	case pr.rangeSupported && pr.total > 0:
		res, err = d.downloadSegmented(ctx, req, path, pr.total)
		if errors.Is(err, errRangeNotSupported) {
			d.logger.Warnf("server ignored range request for %s, falling back to a single stream", req.URL)
			if rmErr := removePlan(planPath(path)); rmErr != nil {
				d.logger.Warnf("remove plan: %v", rmErr)
			}
			res, err = d.downloadStream(ctx, req, path, pr.total)
		}
	default:
		res, err = d.downloadStream(ctx, req, path, pr.total)
	}
	if err != nil {
		d.emit("complete", "failed", path, err.Error())
		return nil, err
	}

	if st, statErr := os.Stat(path); statErr == nil && res.TotalSize >= 0 {
		res.SizeVerified = st.Size() == res.TotalSize && pr.total >= 0
	}
	if req.ExpectedSHA256 != "" {
		d.emit("verify", "start", path, "")
		if err := verifyChecksum(path, req.ExpectedSHA256, res); err != nil {
			d.emit("verify", "failed", path, err.Error())
			return nil, err
		}
		d.emit("verify", "done", path, res.SHA256)
	}
	d.emit("complete", "done", path, fmt.Sprintf("bytes=%d", res.TotalSize))
	return res, nil
}

func (d *downloader) writeEmpty(path string) (*Result, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &types.OutputError{Path: path, Op: "create", Err: err}
	}
	if err := f.Close(); err != nil {
		return nil, &types.OutputError{Path: path, Op: "close", Err: err}
	}
	if err := removePlan(planPath(path)); err != nil {
		d.logger.Warnf("remove plan: %v", err)
	}
	return &Result{Path: path, TotalSize: 0, RangeSupported: true}, nil
}

func (d *downloader) workersFor(req Request) int {
	if req.Concurrency > 0 {
		return req.Concurrency
	}
	return d.concurrency
}

func (d *downloader) emit(stage, phase, path, detail string) {
	if d.onEvent == nil {
		return
	}
	d.onEvent(Event{Stage: stage, Phase: phase, Path: path, Detail: detail})
}

func verifyChecksum(path, want string, res *Result) error {
	f, err := os.Open(path)
	if err != nil {
		return &types.OutputError{Path: path, Op: "verify", Err: err}
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return &types.OutputError{Path: path, Op: "verify", Err: err}
	}
	res.SHA256 = hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(res.SHA256, strings.TrimSpace(want)) {
		return &types.OutputError{
			Path: path,
			Op:   "verify",
			Err:  fmt.Errorf("sha256 %s, want %s", res.SHA256, want),
		}
	}
	return nil
}
