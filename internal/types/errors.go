package types

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPackedScript indicates a packed block that cannot be decoded
	// (bad radix, token outside the symbol table, unparseable arguments).
	ErrMalformedPackedScript = errors.New("malformed packed script")

	// ErrNoVariantsFound indicates the mirror page yielded zero stream candidates.
	ErrNoVariantsFound = errors.New("no variants found")

	// ErrNoMatchingVariant indicates selection ran on an empty variant set.
	ErrNoMatchingVariant = errors.New("no matching variant")

	// ErrPageFetchFailed indicates a page request failed at the transport or HTTP level.
	ErrPageFetchFailed = errors.New("page fetch failed")

	// ErrTooManyRedirects indicates the hop ceiling was exceeded.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrNoMediaLink indicates a hop returned an HTML page that revealed no further link.
	ErrNoMediaLink = errors.New("no media link")

	// ErrSegmentDownloadFailed indicates a segment exhausted its retry budget.
	ErrSegmentDownloadFailed = errors.New("segment download failed")

	// ErrOutputWriteFailed indicates the local output could not be created, written or verified.
	ErrOutputWriteFailed = errors.New("output write failed")
)

// Stage names the pipeline step an error originated from.
type Stage string

const (
	StageUnpack   Stage = "unpack"
	StageExtract  Stage = "extract"
	StageSelect   Stage = "select"
	StageResolve  Stage = "resolve"
	StageProbe    Stage = "probe"
	StageDownload Stage = "download"
	StageOutput   Stage = "output"
)

// PackedScriptError describes why a packed block could not be decoded.
type PackedScriptError struct {
	Block  int
	Token  string
	Reason string
}

func (e *PackedScriptError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s: %s: block=%d token=%q: %s", StageUnpack, ErrMalformedPackedScript, e.Block, e.Token, e.Reason)
	}
	return fmt.Sprintf("%s: %s: block=%d: %s", StageUnpack, ErrMalformedPackedScript, e.Block, e.Reason)
}

func (e *PackedScriptError) Is(target error) bool {
	return target == ErrMalformedPackedScript
}

// ExtractError is returned when extraction produced no usable variant.
type ExtractError struct {
	Candidates int
	Dropped    []string
}

func (e *ExtractError) Error() string {
	if len(e.Dropped) == 0 {
		return fmt.Sprintf("%s: %s", StageExtract, ErrNoVariantsFound)
	}
	return fmt.Sprintf("%s: %s: candidates=%d dropped=%d", StageExtract, ErrNoVariantsFound, e.Candidates, len(e.Dropped))
}

func (e *ExtractError) Is(target error) bool {
	return target == ErrNoVariantsFound
}

// PageFetchError reports a failed page request during resolution.
type PageFetchError struct {
	Stage      Stage
	URL        string
	StatusCode int
	Err        error
}

func (e *PageFetchError) Error() string {
	stage := e.Stage
	if stage == "" {
		stage = StageResolve
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s: status=%d url=%s", stage, ErrPageFetchFailed, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("%s: %s: url=%s: %v", stage, ErrPageFetchFailed, e.URL, e.Err)
}

func (e *PageFetchError) Is(target error) bool {
	return target == ErrPageFetchFailed
}

func (e *PageFetchError) Unwrap() error {
	return e.Err
}

// RedirectError reports a hop chain longer than the configured ceiling.
type RedirectError struct {
	URL  string
	Hops int
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("%s: %s: hops=%d last=%s", StageResolve, ErrTooManyRedirects, e.Hops, e.URL)
}

func (e *RedirectError) Is(target error) bool {
	return target == ErrTooManyRedirects
}

// SegmentError reports a segment that failed after all retries.
// Start and End are inclusive byte offsets.
type SegmentError struct {
	Index    int
	Start    int64
	End      int64
	Attempts int
	Err      error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("%s: %s: segment=%d range=%d-%d attempts=%d: %v",
		StageDownload, ErrSegmentDownloadFailed, e.Index, e.Start, e.End, e.Attempts, e.Err)
}

func (e *SegmentError) Is(target error) bool {
	return target == ErrSegmentDownloadFailed
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// OutputError reports a local filesystem failure.
type OutputError struct {
	Path string
	Op   string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("%s: %s: op=%s path=%s: %v", StageOutput, ErrOutputWriteFailed, e.Op, e.Path, e.Err)
}

func (e *OutputError) Is(target error) bool {
	return target == ErrOutputWriteFailed
}

func (e *OutputError) Unwrap() error {
	return e.Err
}
